package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
)

var ErrProofNotFound = errors.New("proof not found")

const proofColumns = `
	pf.id,
	pf.session_id,
	s.user_id,
	s.mission_id,
	m.title,
	m.reward::text,
	pf.photo_key,
	pf.location,
	pf.status,
	pf.rejection_reason,
	pf.submitted_at,
	pf.reviewed_at`

type ProofRepo struct {
	pool *pgxpool.Pool
}

type ProofRecord struct {
	ID              int64
	SessionID       int64
	UserID          int64
	MissionID       int64
	MissionTitle    string
	MissionReward   decimal.Decimal
	PhotoKey        string
	Location        string
	Status          enums.ProofStatus
	RejectionReason *string
	SubmittedAt     time.Time
	ReviewedAt      *time.Time
}

func NewProofRepo(pool *pgxpool.Pool) *ProofRepo {
	return &ProofRepo{pool: pool}
}

func (r *ProofRepo) Create(ctx context.Context, sessionID int64, photoKey, location string) (ProofRecord, error) {
	if r.pool == nil {
		return ProofRecord{}, fmt.Errorf("postgres pool is nil")
	}
	photoKey = strings.TrimSpace(photoKey)
	if sessionID <= 0 || photoKey == "" {
		return ProofRecord{}, fmt.Errorf("invalid proof payload")
	}

	var id int64
	if err := r.pool.QueryRow(ctx, `
INSERT INTO proofs (session_id, photo_key, location, status, submitted_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING id
`, sessionID, photoKey, location, string(enums.ProofStatusPending)).Scan(&id); err != nil {
		return ProofRecord{}, fmt.Errorf("create proof: %w", err)
	}

	return r.FindByID(ctx, id)
}

func (r *ProofRepo) FindByID(ctx context.Context, proofID int64) (ProofRecord, error) {
	if r.pool == nil {
		return ProofRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanProofRow(r.pool.QueryRow(ctx, `
SELECT`+proofColumns+`
FROM proofs pf
JOIN mission_sessions s ON s.id = pf.session_id
JOIN missions m ON m.id = s.mission_id
WHERE pf.id = $1
`, proofID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProofRecord{}, ErrProofNotFound
		}
		return ProofRecord{}, fmt.Errorf("find proof: %w", err)
	}
	return rec, nil
}

// Validate moves a pending proof to validated and credits the mission
// reward to the submitter's balance and score, all in one transaction.
// The pending status check under the row lock is the idempotency guard:
// a proof already reviewed changes nothing and credits nothing.
func (r *ProofRepo) Validate(ctx context.Context, proofID int64, now time.Time) (ProofRecord, bool, error) {
	if r.pool == nil {
		return ProofRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var out ProofRecord
	changed := false
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := lockProofTx(txCtx, tx, proofID)
		if err != nil {
			return err
		}

		if rec.Status != enums.ProofStatusPending {
			out = rec
			changed = false
			return nil
		}

		if _, err := creditBalanceAndScoreTx(txCtx, tx, rec.UserID, rec.MissionReward); err != nil {
			return err
		}

		updated, err := r.markReviewedTx(txCtx, tx, proofID, enums.ProofStatusValidated, nil, now)
		if err != nil {
			return err
		}
		out = updated
		changed = true
		return nil
	})
	if err != nil {
		return ProofRecord{}, false, err
	}

	return out, changed, nil
}

// Reject moves a pending proof to rejected with the given reason.
// No ledger effect.
func (r *ProofRepo) Reject(ctx context.Context, proofID int64, reason string, now time.Time) (ProofRecord, bool, error) {
	if r.pool == nil {
		return ProofRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	reason = strings.TrimSpace(reason)

	var out ProofRecord
	changed := false
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := lockProofTx(txCtx, tx, proofID)
		if err != nil {
			return err
		}

		if rec.Status != enums.ProofStatusPending {
			out = rec
			changed = false
			return nil
		}

		var reasonPtr *string
		if reason != "" {
			reasonPtr = &reason
		}
		updated, err := r.markReviewedTx(txCtx, tx, proofID, enums.ProofStatusRejected, reasonPtr, now)
		if err != nil {
			return err
		}
		out = updated
		changed = true
		return nil
	})
	if err != nil {
		return ProofRecord{}, false, err
	}

	return out, changed, nil
}

// Delete removes a proof and returns the stored record so the caller
// can notify the owner. Validated proofs keep their ledger effect.
func (r *ProofRepo) Delete(ctx context.Context, proofID int64) (ProofRecord, error) {
	rec, err := r.FindByID(ctx, proofID)
	if err != nil {
		return ProofRecord{}, err
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM proofs WHERE id = $1`, proofID)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("delete proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ProofRecord{}, ErrProofNotFound
	}
	return rec, nil
}

func (r *ProofRepo) CountValidatedByUser(ctx context.Context, userID int64) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM proofs pf
JOIN mission_sessions s ON s.id = pf.session_id
WHERE s.user_id = $1
  AND pf.status = $2
`, userID, string(enums.ProofStatusValidated)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count validated proofs: %w", err)
	}
	return count, nil
}

func (r *ProofRepo) CountDistinctValidatedCategories(ctx context.Context, userID int64) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(DISTINCT m.category)
FROM proofs pf
JOIN mission_sessions s ON s.id = pf.session_id
JOIN missions m ON m.id = s.mission_id
WHERE s.user_id = $1
  AND pf.status = $2
`, userID, string(enums.ProofStatusValidated)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count validated categories: %w", err)
	}
	return count, nil
}

func lockProofTx(ctx context.Context, tx pgx.Tx, proofID int64) (ProofRecord, error) {
	if tx == nil {
		return ProofRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanProofRow(tx.QueryRow(ctx, `
SELECT`+proofColumns+`
FROM proofs pf
JOIN mission_sessions s ON s.id = pf.session_id
JOIN missions m ON m.id = s.mission_id
WHERE pf.id = $1
FOR UPDATE OF pf
`, proofID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProofRecord{}, ErrProofNotFound
		}
		return ProofRecord{}, fmt.Errorf("lock proof: %w", err)
	}
	return rec, nil
}

func (r *ProofRepo) markReviewedTx(ctx context.Context, tx pgx.Tx, proofID int64, status enums.ProofStatus, reason *string, now time.Time) (ProofRecord, error) {
	rec, err := scanProofRow(tx.QueryRow(ctx, `
UPDATE proofs pf
SET
	status = $2,
	rejection_reason = $3,
	reviewed_at = $4
FROM mission_sessions s, missions m
WHERE pf.id = $1
  AND s.id = pf.session_id
  AND m.id = s.mission_id
RETURNING`+proofColumns, proofID, string(status), reason, now.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProofRecord{}, ErrProofNotFound
		}
		return ProofRecord{}, fmt.Errorf("mark proof %s: %w", status, err)
	}
	return rec, nil
}

func scanProofRow(row pgx.Row) (ProofRecord, error) {
	var rec ProofRecord
	var rewardRaw string
	var status string
	if err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.UserID,
		&rec.MissionID,
		&rec.MissionTitle,
		&rewardRaw,
		&rec.PhotoKey,
		&rec.Location,
		&status,
		&rec.RejectionReason,
		&rec.SubmittedAt,
		&rec.ReviewedAt,
	); err != nil {
		return ProofRecord{}, err
	}

	reward, err := decimal.NewFromString(rewardRaw)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("parse mission reward %q: %w", rewardRaw, err)
	}
	rec.MissionReward = reward
	rec.Status = enums.ProofStatus(status)
	return rec, nil
}
