// Package rewards covers missions, proof review and badges. Credits
// for validated proofs and completed missions are written inside the
// store's own transaction, so a review decision and its ledger effect
// land together or not at all.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/domain/enums"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProofNotFound   = errors.New("proof not found")
	ErrMissionNotFound = errors.New("mission not found")
	ErrSessionNotFound = errors.New("mission session not found")
	ErrForbidden       = errors.New("proof belongs to another user")

	// ErrAlreadyReviewed: the proof left pending before this call, so
	// no second review and no second credit happened.
	ErrAlreadyReviewed = errors.New("proof has already been reviewed")
)

// Event identifies a proof lifecycle change for notification purposes.
type Event string

const (
	EventProofSubmitted Event = "proof_submitted"
	EventProofValidated Event = "proof_validated"
	EventProofRejected  Event = "proof_rejected"
	EventProofDeleted   Event = "proof_deleted"
)

type ProofStore interface {
	Create(ctx context.Context, sessionID int64, photoKey, location string) (pgrepo.ProofRecord, error)
	FindByID(ctx context.Context, proofID int64) (pgrepo.ProofRecord, error)
	Validate(ctx context.Context, proofID int64, now time.Time) (pgrepo.ProofRecord, bool, error)
	Reject(ctx context.Context, proofID int64, reason string, now time.Time) (pgrepo.ProofRecord, bool, error)
	Delete(ctx context.Context, proofID int64) (pgrepo.ProofRecord, error)
	CountValidatedByUser(ctx context.Context, userID int64) (int, error)
	CountDistinctValidatedCategories(ctx context.Context, userID int64) (int, error)
}

type MissionStore interface {
	FindActiveByID(ctx context.Context, missionID int64) (pgrepo.MissionRecord, error)
	StartSession(ctx context.Context, userID, missionID int64) (pgrepo.SessionRecord, error)
	FindSessionByID(ctx context.Context, sessionID int64) (pgrepo.SessionRecord, error)
	Complete(ctx context.Context, userID, missionID int64, now time.Time) (pgrepo.MissionRecord, bool, error)
}

type BadgeStore interface {
	Award(ctx context.Context, userID int64, badgeCode string, now time.Time) (pgrepo.BadgeRecord, bool, error)
}

// ObjectStorage is the slice of the s3 client proof photos need.
type ObjectStorage interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type Notifier interface {
	ProofChanged(ctx context.Context, event Event, p pgrepo.ProofRecord) error
	BadgeUnlocked(ctx context.Context, userID int64, b pgrepo.BadgeRecord) error
	MissionCompleted(ctx context.Context, userID int64, m pgrepo.MissionRecord) error
}

type Dependencies struct {
	Proofs   ProofStore
	Missions MissionStore
	Badges   BadgeStore
	Storage  ObjectStorage
	Notifier Notifier
	Logger   *zap.Logger

	PhotoBucket string
	PhotoURLTTL time.Duration

	// Clock is overridable in tests. Defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	proofs   ProofStore
	missions MissionStore
	badges   BadgeStore
	storage  ObjectStorage
	notifier Notifier
	log      *zap.Logger

	photoBucket string
	photoURLTTL time.Duration
	now         func() time.Time
	rules       []badgeRule
}

// badgeRule pairs a badge code with the predicate that earns it. Rules
// are re-evaluated after every validated proof; awarding is idempotent
// at the store, so a rule staying true forever costs nothing.
type badgeRule struct {
	code      string
	qualifies func(ctx context.Context, s *Service, userID int64) (bool, error)
}

const (
	BadgeFirstValidatedProof = "first_validated_proof"
	BadgeExplorer            = "explorer"
)

func defaultBadgeRules() []badgeRule {
	return []badgeRule{
		{
			code: BadgeFirstValidatedProof,
			qualifies: func(ctx context.Context, s *Service, userID int64) (bool, error) {
				n, err := s.proofs.CountValidatedByUser(ctx, userID)
				return n == 1, err
			},
		},
		{
			code: BadgeExplorer,
			qualifies: func(ctx context.Context, s *Service, userID int64) (bool, error) {
				n, err := s.proofs.CountDistinctValidatedCategories(ctx, userID)
				return n >= 3, err
			},
		},
	}
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Proofs == nil || deps.Missions == nil || deps.Badges == nil {
		return nil, fmt.Errorf("rewards: stores are required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	ttl := deps.PhotoURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Service{
		proofs:      deps.Proofs,
		missions:    deps.Missions,
		badges:      deps.Badges,
		storage:     deps.Storage,
		notifier:    deps.Notifier,
		log:         log,
		photoBucket: deps.PhotoBucket,
		photoURLTTL: ttl,
		now:         now,
		rules:       defaultBadgeRules(),
	}, nil
}

// StartMission opens (or returns the existing) session for a user on
// an active mission.
func (s *Service) StartMission(ctx context.Context, userID, missionID int64) (pgrepo.SessionRecord, error) {
	if userID <= 0 || missionID <= 0 {
		return pgrepo.SessionRecord{}, ErrValidation
	}

	if _, err := s.missions.FindActiveByID(ctx, missionID); err != nil {
		if errors.Is(err, pgrepo.ErrMissionNotFound) {
			return pgrepo.SessionRecord{}, ErrMissionNotFound
		}
		return pgrepo.SessionRecord{}, err
	}

	return s.missions.StartSession(ctx, userID, missionID)
}

// SubmitProof attaches an uploaded photo to a session. The proof
// starts pending and waits for an operator.
func (s *Service) SubmitProof(ctx context.Context, userID, sessionID int64, photoKey, location string) (pgrepo.ProofRecord, error) {
	photoKey = strings.TrimSpace(photoKey)
	if userID <= 0 || sessionID <= 0 || photoKey == "" {
		return pgrepo.ProofRecord{}, ErrValidation
	}

	session, err := s.missions.FindSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSessionNotFound) {
			return pgrepo.ProofRecord{}, ErrSessionNotFound
		}
		return pgrepo.ProofRecord{}, err
	}
	if session.UserID != userID {
		return pgrepo.ProofRecord{}, ErrForbidden
	}

	proof, err := s.proofs.Create(ctx, sessionID, photoKey, location)
	if err != nil {
		return pgrepo.ProofRecord{}, err
	}

	s.notifyProof(ctx, EventProofSubmitted, proof)
	return proof, nil
}

// DeleteProof lets a user withdraw a proof nobody has reviewed yet.
func (s *Service) DeleteProof(ctx context.Context, userID, proofID int64) error {
	if userID <= 0 || proofID <= 0 {
		return ErrValidation
	}

	proof, err := s.findProof(ctx, proofID)
	if err != nil {
		return err
	}
	if proof.UserID != userID {
		return ErrForbidden
	}
	if proof.Status != enums.ProofStatusPending {
		return ErrAlreadyReviewed
	}

	deleted, err := s.proofs.Delete(ctx, proofID)
	if err != nil {
		return s.mapProofErr(err)
	}

	s.notifyProof(ctx, EventProofDeleted, deleted)
	return nil
}

// ValidateProof approves a pending proof. The mission reward is
// credited to balance and score inside the same write that flips the
// status, so a proof can never pay twice. Badge rules run afterwards.
func (s *Service) ValidateProof(ctx context.Context, proofID int64) (pgrepo.ProofRecord, error) {
	if proofID <= 0 {
		return pgrepo.ProofRecord{}, ErrValidation
	}

	proof, changed, err := s.proofs.Validate(ctx, proofID, s.now())
	if err != nil {
		return pgrepo.ProofRecord{}, s.mapProofErr(err)
	}
	if !changed {
		return proof, ErrAlreadyReviewed
	}

	s.notifyProof(ctx, EventProofValidated, proof)
	s.evaluateBadges(ctx, proof.UserID)
	return proof, nil
}

// RejectProof turns a pending proof down with a reason. No ledger
// effect.
func (s *Service) RejectProof(ctx context.Context, proofID int64, reason string) (pgrepo.ProofRecord, error) {
	reason = strings.TrimSpace(reason)
	if proofID <= 0 || reason == "" {
		return pgrepo.ProofRecord{}, ErrValidation
	}

	proof, changed, err := s.proofs.Reject(ctx, proofID, reason, s.now())
	if err != nil {
		return pgrepo.ProofRecord{}, s.mapProofErr(err)
	}
	if !changed {
		return proof, ErrAlreadyReviewed
	}

	s.notifyProof(ctx, EventProofRejected, proof)
	return proof, nil
}

// CompleteMission marks a mission done for a user and credits its
// reward. The (user, mission) pair is the idempotency boundary: the
// first call credits, every later one reports completed == false and
// moves no money.
func (s *Service) CompleteMission(ctx context.Context, userID, missionID int64) (pgrepo.MissionRecord, bool, error) {
	if userID <= 0 || missionID <= 0 {
		return pgrepo.MissionRecord{}, false, ErrValidation
	}

	mission, completed, err := s.missions.Complete(ctx, userID, missionID, s.now())
	if err != nil {
		if errors.Is(err, pgrepo.ErrMissionNotFound) {
			return pgrepo.MissionRecord{}, false, ErrMissionNotFound
		}
		return pgrepo.MissionRecord{}, false, err
	}
	if !completed {
		return mission, false, nil
	}

	if s.notifier != nil {
		if err := s.notifier.MissionCompleted(ctx, userID, mission); err != nil {
			s.log.Warn("mission notification failed",
				zap.Int64("mission_id", missionID), zap.Error(err))
		}
	}
	return mission, true, nil
}

// ProofPhotoURL returns a short-lived download link for a proof photo.
func (s *Service) ProofPhotoURL(ctx context.Context, proofID int64) (string, error) {
	if proofID <= 0 {
		return "", ErrValidation
	}
	if s.storage == nil {
		return "", fmt.Errorf("object storage is not configured")
	}

	proof, err := s.findProof(ctx, proofID)
	if err != nil {
		return "", err
	}

	u, err := s.storage.PresignedGetObject(ctx, s.photoBucket, proof.PhotoKey, s.photoURLTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign proof photo: %w", err)
	}
	return u.String(), nil
}

// evaluateBadges runs every rule for the user. Badge trouble is logged
// and swallowed: a review decision already landed and must stand.
func (s *Service) evaluateBadges(ctx context.Context, userID int64) {
	for _, rule := range s.rules {
		ok, err := rule.qualifies(ctx, s, userID)
		if err != nil {
			s.log.Warn("badge rule evaluation failed",
				zap.String("badge", rule.code), zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		badge, created, err := s.badges.Award(ctx, userID, rule.code, s.now())
		if err != nil {
			s.log.Warn("badge award failed",
				zap.String("badge", rule.code), zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		if !created {
			continue
		}

		if s.notifier != nil {
			if err := s.notifier.BadgeUnlocked(ctx, userID, badge); err != nil {
				s.log.Warn("badge notification failed",
					zap.String("badge", rule.code), zap.Error(err))
			}
		}
	}
}

func (s *Service) findProof(ctx context.Context, proofID int64) (pgrepo.ProofRecord, error) {
	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return pgrepo.ProofRecord{}, s.mapProofErr(err)
	}
	return proof, nil
}

func (s *Service) mapProofErr(err error) error {
	if errors.Is(err, pgrepo.ErrProofNotFound) {
		return ErrProofNotFound
	}
	return err
}

func (s *Service) notifyProof(ctx context.Context, event Event, p pgrepo.ProofRecord) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ProofChanged(ctx, event, p); err != nil {
		s.log.Warn("proof notification failed",
			zap.String("event", string(event)), zap.Int64("proof_id", p.ID), zap.Error(err))
	}
}
