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
)

var ErrBadgeNotFound = errors.New("badge not found")

type BadgeRepo struct {
	pool *pgxpool.Pool
}

type BadgeRecord struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Icon        string
	RewardValue decimal.Decimal
}

func NewBadgeRepo(pool *pgxpool.Pool) *BadgeRepo {
	return &BadgeRepo{pool: pool}
}

func (r *BadgeRepo) FindByCode(ctx context.Context, code string) (BadgeRecord, error) {
	if r.pool == nil {
		return BadgeRecord{}, fmt.Errorf("postgres pool is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return BadgeRecord{}, fmt.Errorf("badge code is required")
	}

	rec, err := scanBadgeRow(r.pool.QueryRow(ctx, `
SELECT id, code, name, description, icon, reward_value::text
FROM badges
WHERE code = $1
`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BadgeRecord{}, ErrBadgeNotFound
		}
		return BadgeRecord{}, fmt.Errorf("find badge: %w", err)
	}
	return rec, nil
}

// Award inserts the unique (user, badge) pair and, only when that
// insert actually created a row, credits the badge's reward value to
// the user's score. Creation, not prior existence, is the one signal
// that pays out, so re-evaluating a rule after the badge exists is a
// no-op.
func (r *BadgeRepo) Award(ctx context.Context, userID int64, badgeCode string, now time.Time) (BadgeRecord, bool, error) {
	if r.pool == nil {
		return BadgeRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return BadgeRecord{}, false, fmt.Errorf("invalid user id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	badge, err := r.FindByCode(ctx, badgeCode)
	if err != nil {
		return BadgeRecord{}, false, err
	}

	created := false
	err = WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(txCtx, `
INSERT INTO user_badges (user_id, badge_id, acquired_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, badge_id) DO NOTHING
`, userID, badge.ID, now.UTC())
		if err != nil {
			return fmt.Errorf("award badge: %w", err)
		}
		if tag.RowsAffected() == 0 {
			created = false
			return nil
		}

		if badge.RewardValue.IsPositive() {
			if err := creditScoreTx(txCtx, tx, userID, badge.RewardValue); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return BadgeRecord{}, false, err
	}

	return badge, created, nil
}

func scanBadgeRow(row pgx.Row) (BadgeRecord, error) {
	var rec BadgeRecord
	var rewardRaw string
	if err := row.Scan(
		&rec.ID,
		&rec.Code,
		&rec.Name,
		&rec.Description,
		&rec.Icon,
		&rewardRaw,
	); err != nil {
		return BadgeRecord{}, err
	}

	reward, err := decimal.NewFromString(rewardRaw)
	if err != nil {
		return BadgeRecord{}, fmt.Errorf("parse badge reward %q: %w", rewardRaw, err)
	}
	rec.RewardValue = reward
	return rec, nil
}
