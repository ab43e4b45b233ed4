package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Service delivers outbound event webhooks with bounded retries. Attempt
// scheduling uses exponential backoff; the stuck sweep is the safety net for
// deliveries whose scheduled retry never ran.
type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*OutboundWebhookDelivery, error)

	// Attempt performs one delivery try and records the outcome. Reaching
	// MaxAttempts without success marks the row FAILED.
	Attempt(ctx context.Context, deliveryID int64) error

	// SweepStuck finds PENDING rows idle past StuckThreshold whose
	// next_attempt_at has lapsed: rows at the attempt cap are failed
	// terminally, the rest are re-attempted under a fresh idempotency key.
	// Returns (retried, failed).
	SweepStuck(ctx context.Context, limit int) (int, int, error)
}

type EnqueueRequest struct {
	MerchantID int64
	EventID    int64
	EventType  string
	URL        string
	Payload    []byte
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, delivery *OutboundWebhookDelivery) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*OutboundWebhookDelivery, error)
	MarkDelivered(ctx context.Context, db *gorm.DB, id int64, attempts int, deliveredAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string, updatedAt time.Time) error
	ScheduleRetry(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string, idempotencyKey string, nextAttemptAt, updatedAt time.Time) error
	ListStuck(ctx context.Context, db *gorm.DB, idleSince, now time.Time, limit int) ([]OutboundWebhookDelivery, error)
}

var (
	ErrInvalidRequest   = errors.New("invalid_delivery_request")
	ErrDeliveryNotFound = errors.New("delivery_not_found")
	ErrDeliveryTerminal = errors.New("delivery_terminal")
)
