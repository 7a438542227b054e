package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
)

var (
	ErrMissionNotFound = errors.New("mission not found")
	ErrSessionNotFound = errors.New("mission session not found")
)

type MissionRepo struct {
	pool *pgxpool.Pool
}

type MissionRecord struct {
	ID              int64
	Title           string
	Category        string
	Difficulty      string
	Reward          decimal.Decimal
	Active          bool
	DurationMinutes int
	CreatedAt       time.Time
}

type SessionRecord struct {
	ID        int64
	UserID    int64
	MissionID int64
	StartedAt time.Time
	Completed bool
}

func NewMissionRepo(pool *pgxpool.Pool) *MissionRepo {
	return &MissionRepo{pool: pool}
}

func (r *MissionRepo) FindActiveByID(ctx context.Context, missionID int64) (MissionRecord, error) {
	if r.pool == nil {
		return MissionRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanMissionRow(r.pool.QueryRow(ctx, `
SELECT id, title, category, difficulty, reward::text, active, duration_minutes, created_at
FROM missions
WHERE id = $1
  AND active = TRUE
`, missionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MissionRecord{}, ErrMissionNotFound
		}
		return MissionRecord{}, fmt.Errorf("find mission: %w", err)
	}
	return rec, nil
}

// StartSession is get-or-create on the (user, mission) pair: choosing a
// mission twice resumes the existing attempt.
func (r *MissionRepo) StartSession(ctx context.Context, userID, missionID int64) (SessionRecord, error) {
	if r.pool == nil {
		return SessionRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || missionID <= 0 {
		return SessionRecord{}, fmt.Errorf("invalid session payload")
	}

	rec, err := scanSessionRow(r.pool.QueryRow(ctx, `
INSERT INTO mission_sessions (user_id, mission_id, started_at, completed)
VALUES ($1, $2, NOW(), FALSE)
ON CONFLICT (user_id, mission_id) DO UPDATE
SET started_at = mission_sessions.started_at
RETURNING id, user_id, mission_id, started_at, completed
`, userID, missionID))
	if err != nil {
		return SessionRecord{}, fmt.Errorf("start mission session: %w", err)
	}
	return rec, nil
}

func (r *MissionRepo) FindSessionByID(ctx context.Context, sessionID int64) (SessionRecord, error) {
	if r.pool == nil {
		return SessionRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanSessionRow(r.pool.QueryRow(ctx, `
SELECT id, user_id, mission_id, started_at, completed
FROM mission_sessions
WHERE id = $1
`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, fmt.Errorf("find mission session: %w", err)
	}
	return rec, nil
}

// Complete marks the (user, mission) pair done and credits the mission
// reward to balance and score in the same transaction. The unique pair
// row is the idempotency boundary: a mission already completed changes
// nothing and credits nothing.
func (r *MissionRepo) Complete(ctx context.Context, userID, missionID int64, now time.Time) (MissionRecord, bool, error) {
	if r.pool == nil {
		return MissionRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mission, err := r.FindActiveByID(ctx, missionID)
	if err != nil {
		return MissionRecord{}, false, err
	}

	changed := false
	err = WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(txCtx, `
SELECT status
FROM user_missions
WHERE user_id = $1
  AND mission_id = $2
FOR UPDATE
`, userID, missionID).Scan(&status)
		switch {
		case err == nil:
			if enums.UserMissionStatus(status) == enums.UserMissionStatusCompleted {
				changed = false
				return nil
			}
			if _, err := tx.Exec(txCtx, `
UPDATE user_missions
SET status = $3, completed_at = $4
WHERE user_id = $1
  AND mission_id = $2
`, userID, missionID, string(enums.UserMissionStatusCompleted), now.UTC()); err != nil {
				return fmt.Errorf("complete user mission: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(txCtx, `
INSERT INTO user_missions (user_id, mission_id, status, started_at, completed_at)
VALUES ($1, $2, $3, $4, $4)
`, userID, missionID, string(enums.UserMissionStatusCompleted), now.UTC()); err != nil {
				return fmt.Errorf("insert user mission: %w", err)
			}
		default:
			return fmt.Errorf("lock user mission: %w", err)
		}

		if _, err := creditBalanceAndScoreTx(txCtx, tx, userID, mission.Reward); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return MissionRecord{}, false, err
	}

	return mission, changed, nil
}

func scanMissionRow(row pgx.Row) (MissionRecord, error) {
	var rec MissionRecord
	var rewardRaw string
	if err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.Category,
		&rec.Difficulty,
		&rewardRaw,
		&rec.Active,
		&rec.DurationMinutes,
		&rec.CreatedAt,
	); err != nil {
		return MissionRecord{}, err
	}

	reward, err := decimal.NewFromString(rewardRaw)
	if err != nil {
		return MissionRecord{}, fmt.Errorf("parse mission reward %q: %w", rewardRaw, err)
	}
	rec.Reward = reward
	return rec, nil
}

func scanSessionRow(row pgx.Row) (SessionRecord, error) {
	var rec SessionRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.MissionID,
		&rec.StartedAt,
		&rec.Completed,
	); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}
