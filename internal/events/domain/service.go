package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service is the fire-and-forget event emitter. Emit persists the event and
// fans it out to the merchant's webhook endpoints plus the operational
// notifiers; it never returns a delivery error to the caller.
type Service interface {
	Emit(ctx context.Context, req EmitRequest)

	AddEndpoint(ctx context.Context, merchantID int64, url string) (*WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, merchantID int64) ([]WebhookEndpoint, error)
	SetEndpointActive(ctx context.Context, merchantID, endpointID int64, isActive bool) error
}

type EmitRequest struct {
	MerchantID int64
	CustomerID *int64
	EventType  string
	Actor      string
	Metadata   map[string]any
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) error
	InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *WebhookEndpoint) error
	ListActiveEndpoints(ctx context.Context, db *gorm.DB, merchantID int64) ([]WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, db *gorm.DB, merchantID int64) ([]WebhookEndpoint, error)
	UpdateEndpointActive(ctx context.Context, db *gorm.DB, merchantID, endpointID int64, isActive bool) (bool, error)
}

var (
	ErrInvalidRequest   = errors.New("invalid_event_request")
	ErrEndpointNotFound = errors.New("endpoint_not_found")
)
