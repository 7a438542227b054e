// Package notify turns domain events into per-user messages. Each
// message is persisted for the unread feed and pushed over redis for
// connected clients. Delivery is best effort end to end: callers treat
// a notify error as log-worthy, never as a reason to roll back.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/repo/postgres"
	redisrepo "github.com/missionhub/backend/internal/repo/redis"
	"github.com/missionhub/backend/internal/services/escrow"
	"github.com/missionhub/backend/internal/services/rewards"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrNotificationNotFound = errors.New("notification not found")
)

type NotificationStore interface {
	Create(ctx context.Context, userID int64, message string) (postgres.NotificationRecord, error)
	ListUnread(ctx context.Context, userID int64, limit int) ([]postgres.NotificationRecord, error)
	MarkRead(ctx context.Context, notificationID, userID int64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event redisrepo.Event) error
	PublishOperator(ctx context.Context, event redisrepo.Event) error
}

type Service struct {
	store     NotificationStore
	publisher EventPublisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store NotificationStore, publisher EventPublisher, log *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("notify: notification store is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}, nil
}

// Unread returns the user's unread feed, newest first.
func (s *Service) Unread(ctx context.Context, userID int64, limit int) ([]postgres.NotificationRecord, error) {
	if userID <= 0 {
		return nil, ErrValidation
	}
	return s.store.ListUnread(ctx, userID, limit)
}

// MarkRead flags one of the user's own notifications as read.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID int64) error {
	if notificationID <= 0 || userID <= 0 {
		return ErrValidation
	}
	if err := s.store.MarkRead(ctx, notificationID, userID); err != nil {
		if errors.Is(err, postgres.ErrNotificationNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// PurchaseChanged fans a purchase transition out to buyer and seller.
func (s *Service) PurchaseChanged(ctx context.Context, event escrow.Event, p postgres.PurchaseRecord) error {
	type target struct {
		userID  int64
		message string
	}
	var targets []target

	switch event {
	case escrow.EventPaid:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("Your payment for %q is held in escrow.", p.ProductName)},
			{p.SellerID, fmt.Sprintf("%q has been paid. Ship it to release your payout.", p.ProductName)},
		}
	case escrow.EventShipped:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("%q has been shipped. Confirm receipt once it arrives.", p.ProductName)},
		}
	case escrow.EventCompleted:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("Your purchase of %q is complete.", p.ProductName)},
			{p.SellerID, fmt.Sprintf("Sale of %q is complete. Your payout is on its way.", p.ProductName)},
		}
	case escrow.EventDisputed:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("Your purchase of %q is under review.", p.ProductName)},
			{p.SellerID, fmt.Sprintf("The sale of %q is under review.", p.ProductName)},
		}
	case escrow.EventCancelled:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("Your purchase of %q was cancelled.", p.ProductName)},
		}
	case escrow.EventRefunded:
		targets = []target{
			{p.BuyerID, fmt.Sprintf("You have been refunded for %q.", p.ProductName)},
			{p.SellerID, fmt.Sprintf("The sale of %q was cancelled and the buyer refunded.", p.ProductName)},
		}
	default:
		return fmt.Errorf("unknown purchase event %q", event)
	}

	var errs []error
	for _, tg := range targets {
		errs = append(errs, s.deliver(ctx, string(event), tg.userID, tg.message))
	}
	return errors.Join(errs...)
}

// ProofChanged tells the proof owner about a review or lifecycle step.
func (s *Service) ProofChanged(ctx context.Context, event rewards.Event, p postgres.ProofRecord) error {
	var message string
	switch event {
	case rewards.EventProofSubmitted:
		message = fmt.Sprintf("Your proof for %q was submitted and awaits review.", p.MissionTitle)
	case rewards.EventProofValidated:
		message = fmt.Sprintf("Your proof for %q was validated. Reward credited!", p.MissionTitle)
	case rewards.EventProofRejected:
		reason := "no reason given"
		if p.RejectionReason != nil && *p.RejectionReason != "" {
			reason = *p.RejectionReason
		}
		message = fmt.Sprintf("Your proof for %q was rejected: %s", p.MissionTitle, reason)
	case rewards.EventProofDeleted:
		message = fmt.Sprintf("Your proof for %q was deleted.", p.MissionTitle)
	default:
		return fmt.Errorf("unknown proof event %q", event)
	}

	return s.deliver(ctx, string(event), p.UserID, message)
}

func (s *Service) BadgeUnlocked(ctx context.Context, userID int64, b postgres.BadgeRecord) error {
	return s.deliver(ctx, "badge_unlocked",
		userID, fmt.Sprintf("Badge unlocked: %s!", b.Name))
}

func (s *Service) MissionCompleted(ctx context.Context, userID int64, m postgres.MissionRecord) error {
	return s.deliver(ctx, "mission_completed",
		userID, fmt.Sprintf("Mission %q completed. Reward credited!", m.Title))
}

func (s *Service) WithdrawalSettled(ctx context.Context, w postgres.WithdrawalRecord) error {
	return s.deliver(ctx, "withdrawal_settled",
		w.UserID, fmt.Sprintf("Your withdrawal of %s has been sent.", w.Amount.String()))
}

// Alert reaches operators. It is deliberately the loudest path in the
// package: an error log plus a push on the operator channel.
func (s *Service) Alert(ctx context.Context, code, detail string) error {
	s.log.Error("operator alert", zap.String("code", code), zap.String("detail", detail))
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishOperator(ctx, redisrepo.Event{
		Kind:      "operator_alert",
		Message:   code + ": " + detail,
		CreatedAt: s.now(),
	})
}

// deliver persists the message and pushes it. The persisted record is
// the source of truth; a failed push only costs the live update.
func (s *Service) deliver(ctx context.Context, kind string, userID int64, message string) error {
	if _, err := s.store.Create(ctx, userID, message); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, redisrepo.Event{
		Kind:      kind,
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now(),
	}); err != nil {
		s.log.Warn("notification push failed",
			zap.String("kind", kind), zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}
