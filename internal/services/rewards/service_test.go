package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

type proofStoreStub struct {
	mu       sync.Mutex
	seq      int64
	proofs   map[int64]pgrepo.ProofRecord
	sessions map[int64]pgrepo.SessionRecord

	validatedCount  int
	categoriesCount int
	credits         []decimal.Decimal
}

func newProofStoreStub() *proofStoreStub {
	return &proofStoreStub{
		proofs:   map[int64]pgrepo.ProofRecord{},
		sessions: map[int64]pgrepo.SessionRecord{},
	}
}

func (s *proofStoreStub) Create(_ context.Context, sessionID int64, photoKey, location string) (pgrepo.ProofRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return pgrepo.ProofRecord{}, pgrepo.ErrSessionNotFound
	}
	s.seq++
	rec := pgrepo.ProofRecord{
		ID:            s.seq,
		SessionID:     sessionID,
		UserID:        sess.UserID,
		MissionID:     sess.MissionID,
		MissionReward: decimal.RequireFromString("2"),
		PhotoKey:      photoKey,
		Location:      location,
		Status:        enums.ProofStatusPending,
	}
	s.proofs[rec.ID] = rec
	return rec, nil
}

func (s *proofStoreStub) FindByID(_ context.Context, proofID int64) (pgrepo.ProofRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.proofs[proofID]
	if !ok {
		return pgrepo.ProofRecord{}, pgrepo.ErrProofNotFound
	}
	return rec, nil
}

func (s *proofStoreStub) Validate(_ context.Context, proofID int64, now time.Time) (pgrepo.ProofRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.proofs[proofID]
	if !ok {
		return pgrepo.ProofRecord{}, false, pgrepo.ErrProofNotFound
	}
	if rec.Status != enums.ProofStatusPending {
		return rec, false, nil
	}
	rec.Status = enums.ProofStatusValidated
	rec.ReviewedAt = &now
	rec.RejectionReason = nil
	s.proofs[proofID] = rec
	s.validatedCount++
	s.credits = append(s.credits, rec.MissionReward)
	return rec, true, nil
}

func (s *proofStoreStub) Reject(_ context.Context, proofID int64, reason string, now time.Time) (pgrepo.ProofRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.proofs[proofID]
	if !ok {
		return pgrepo.ProofRecord{}, false, pgrepo.ErrProofNotFound
	}
	if rec.Status != enums.ProofStatusPending {
		return rec, false, nil
	}
	rec.Status = enums.ProofStatusRejected
	rec.RejectionReason = &reason
	rec.ReviewedAt = &now
	s.proofs[proofID] = rec
	return rec, true, nil
}

func (s *proofStoreStub) Delete(_ context.Context, proofID int64) (pgrepo.ProofRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.proofs[proofID]
	if !ok {
		return pgrepo.ProofRecord{}, pgrepo.ErrProofNotFound
	}
	delete(s.proofs, proofID)
	return rec, nil
}

func (s *proofStoreStub) CountValidatedByUser(_ context.Context, _ int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validatedCount, nil
}

func (s *proofStoreStub) CountDistinctValidatedCategories(_ context.Context, _ int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoriesCount, nil
}

type missionStoreStub struct {
	mu        sync.Mutex
	missions  map[int64]pgrepo.MissionRecord
	sessions  *proofStoreStub
	completed map[int64]bool
	sessSeq   int64
}

func (s *missionStoreStub) FindActiveByID(_ context.Context, missionID int64) (pgrepo.MissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.missions[missionID]
	if !ok || !rec.Active {
		return pgrepo.MissionRecord{}, pgrepo.ErrMissionNotFound
	}
	return rec, nil
}

func (s *missionStoreStub) StartSession(_ context.Context, userID, missionID int64) (pgrepo.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions.sessions {
		if sess.UserID == userID && sess.MissionID == missionID {
			return sess, nil
		}
	}
	s.sessSeq++
	sess := pgrepo.SessionRecord{ID: s.sessSeq, UserID: userID, MissionID: missionID}
	s.sessions.sessions[sess.ID] = sess
	return sess, nil
}

func (s *missionStoreStub) FindSessionByID(_ context.Context, sessionID int64) (pgrepo.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions.sessions[sessionID]
	if !ok {
		return pgrepo.SessionRecord{}, pgrepo.ErrSessionNotFound
	}
	return sess, nil
}

func (s *missionStoreStub) Complete(_ context.Context, userID, missionID int64, _ time.Time) (pgrepo.MissionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.missions[missionID]
	if !ok {
		return pgrepo.MissionRecord{}, false, pgrepo.ErrMissionNotFound
	}
	if s.completed[userID] {
		return rec, false, nil
	}
	s.completed[userID] = true
	return rec, true, nil
}

type badgeStoreStub struct {
	mu      sync.Mutex
	awarded map[string]bool
	rewards map[string]decimal.Decimal
}

func (s *badgeStoreStub) Award(_ context.Context, userID int64, badgeCode string, _ time.Time) (pgrepo.BadgeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := pgrepo.BadgeRecord{Code: badgeCode, RewardValue: s.rewards[badgeCode]}
	if s.awarded[badgeCode] {
		return rec, false, nil
	}
	s.awarded[badgeCode] = true
	return rec, true, nil
}

type rewardsNotifierStub struct {
	proofEvents []Event
	badges      []string
	missions    []int64
}

func (n *rewardsNotifierStub) ProofChanged(_ context.Context, event Event, _ pgrepo.ProofRecord) error {
	n.proofEvents = append(n.proofEvents, event)
	return nil
}

func (n *rewardsNotifierStub) BadgeUnlocked(_ context.Context, _ int64, b pgrepo.BadgeRecord) error {
	n.badges = append(n.badges, b.Code)
	return nil
}

func (n *rewardsNotifierStub) MissionCompleted(_ context.Context, _ int64, m pgrepo.MissionRecord) error {
	n.missions = append(n.missions, m.ID)
	return nil
}

type rewardsFixture struct {
	svc      *Service
	proofs   *proofStoreStub
	missions *missionStoreStub
	badges   *badgeStoreStub
	notifier *rewardsNotifierStub
}

func newRewardsFixture(t *testing.T) *rewardsFixture {
	t.Helper()

	proofs := newProofStoreStub()
	proofs.sessions[10] = pgrepo.SessionRecord{ID: 10, UserID: 1, MissionID: 5}

	missions := &missionStoreStub{
		missions: map[int64]pgrepo.MissionRecord{
			5: {ID: 5, Title: "Plant a tree", Category: "outdoor", Reward: decimal.RequireFromString("2"), Active: true},
		},
		sessions:  proofs,
		completed: map[int64]bool{},
		sessSeq:   10,
	}

	badges := &badgeStoreStub{
		awarded: map[string]bool{},
		rewards: map[string]decimal.Decimal{
			BadgeFirstValidatedProof: decimal.RequireFromString("1"),
			BadgeExplorer:            decimal.RequireFromString("3"),
		},
	}

	f := &rewardsFixture{proofs: proofs, missions: missions, badges: badges, notifier: &rewardsNotifierStub{}}

	svc, err := NewService(Dependencies{
		Proofs:   proofs,
		Missions: missions,
		Badges:   badges,
		Notifier: f.notifier,
		Clock:    func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *rewardsFixture) submitProof(t *testing.T) pgrepo.ProofRecord {
	t.Helper()
	proof, err := f.svc.SubmitProof(context.Background(), 1, 10, "proofs/1/photo.jpg", "48.85,2.35")
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	return proof
}

func TestSubmitProofRequiresOwnSession(t *testing.T) {
	f := newRewardsFixture(t)

	_, err := f.svc.SubmitProof(context.Background(), 2, 10, "key", "")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestValidateProofCreditsOnce(t *testing.T) {
	f := newRewardsFixture(t)
	proof := f.submitProof(t)

	validated, err := f.svc.ValidateProof(context.Background(), proof.ID)
	if err != nil {
		t.Fatalf("ValidateProof: %v", err)
	}
	if validated.Status != enums.ProofStatusValidated {
		t.Fatalf("status = %s", validated.Status)
	}
	if len(f.proofs.credits) != 1 || !f.proofs.credits[0].Equal(decimal.RequireFromString("2")) {
		t.Fatalf("credits = %v", f.proofs.credits)
	}

	_, err = f.svc.ValidateProof(context.Background(), proof.ID)
	if !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("second validation: err = %v, want ErrAlreadyReviewed", err)
	}
	if len(f.proofs.credits) != 1 {
		t.Fatalf("second validation credited again: %v", f.proofs.credits)
	}
}

func TestValidateProofAwardsFirstProofBadge(t *testing.T) {
	f := newRewardsFixture(t)
	proof := f.submitProof(t)

	if _, err := f.svc.ValidateProof(context.Background(), proof.ID); err != nil {
		t.Fatalf("ValidateProof: %v", err)
	}

	if !f.badges.awarded[BadgeFirstValidatedProof] {
		t.Fatal("first_validated_proof badge not awarded")
	}
	if f.badges.awarded[BadgeExplorer] {
		t.Fatal("explorer badge requires three categories")
	}
	if len(f.notifier.badges) != 1 || f.notifier.badges[0] != BadgeFirstValidatedProof {
		t.Fatalf("badge notifications = %v", f.notifier.badges)
	}
}

func TestExplorerBadgeNeedsThreeCategories(t *testing.T) {
	f := newRewardsFixture(t)
	f.proofs.categoriesCount = 3
	f.proofs.validatedCount = 4 // not the first proof anymore
	proof := f.submitProof(t)

	if _, err := f.svc.ValidateProof(context.Background(), proof.ID); err != nil {
		t.Fatalf("ValidateProof: %v", err)
	}

	if !f.badges.awarded[BadgeExplorer] {
		t.Fatal("explorer badge not awarded at three categories")
	}
	if f.badges.awarded[BadgeFirstValidatedProof] {
		t.Fatal("first-proof badge must only fire on exactly one validated proof")
	}
}

func TestRejectProofKeepsReason(t *testing.T) {
	f := newRewardsFixture(t)
	proof := f.submitProof(t)

	rejected, err := f.svc.RejectProof(context.Background(), proof.ID, "photo too dark")
	if err != nil {
		t.Fatalf("RejectProof: %v", err)
	}
	if rejected.Status != enums.ProofStatusRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "photo too dark" {
		t.Fatalf("reason = %v", rejected.RejectionReason)
	}
	if len(f.proofs.credits) != 0 {
		t.Fatal("rejection must not credit")
	}

	if _, err := f.svc.RejectProof(context.Background(), proof.ID, "again"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("second reject: err = %v, want ErrAlreadyReviewed", err)
	}
}

func TestRejectProofRequiresReason(t *testing.T) {
	f := newRewardsFixture(t)
	proof := f.submitProof(t)

	if _, err := f.svc.RejectProof(context.Background(), proof.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestDeleteProofOnlyPendingAndOwn(t *testing.T) {
	f := newRewardsFixture(t)
	proof := f.submitProof(t)

	if err := f.svc.DeleteProof(context.Background(), 2, proof.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: err = %v, want ErrForbidden", err)
	}

	if _, err := f.svc.ValidateProof(context.Background(), proof.ID); err != nil {
		t.Fatalf("ValidateProof: %v", err)
	}
	if err := f.svc.DeleteProof(context.Background(), 1, proof.ID); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("reviewed delete: err = %v, want ErrAlreadyReviewed", err)
	}

	second := f.submitProof(t)
	if err := f.svc.DeleteProof(context.Background(), 1, second.ID); err != nil {
		t.Fatalf("DeleteProof: %v", err)
	}
	if _, err := f.proofs.FindByID(context.Background(), second.ID); !errors.Is(err, pgrepo.ErrProofNotFound) {
		t.Fatal("proof should be gone")
	}
}

func TestCompleteMissionIsIdempotent(t *testing.T) {
	f := newRewardsFixture(t)

	_, completed, err := f.svc.CompleteMission(context.Background(), 1, 5)
	if err != nil || !completed {
		t.Fatalf("first completion: completed=%v err=%v", completed, err)
	}

	_, completed, err = f.svc.CompleteMission(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if completed {
		t.Fatal("second completion must be a no-op")
	}
	if len(f.notifier.missions) != 1 {
		t.Fatalf("mission notifications = %v", f.notifier.missions)
	}
}

func TestStartMissionRequiresActiveMission(t *testing.T) {
	f := newRewardsFixture(t)

	if _, err := f.svc.StartMission(context.Background(), 1, 99); !errors.Is(err, ErrMissionNotFound) {
		t.Fatalf("err = %v, want ErrMissionNotFound", err)
	}

	sess, err := f.svc.StartMission(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	again, err := f.svc.StartMission(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("StartMission again: %v", err)
	}
	if sess.ID != again.ID {
		t.Fatalf("expected the same session, got %d and %d", sess.ID, again.ID)
	}
}
