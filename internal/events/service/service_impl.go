package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	deliverydomain "github.com/clinicware/payrail/internal/delivery/domain"
	"github.com/clinicware/payrail/internal/events/domain"
	"github.com/clinicware/payrail/internal/notify/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// alertedEvents get a Slack notification on top of the webhook fan-out.
var alertedEvents = map[string]bool{
	domain.EventIntegrationFailed:   true,
	domain.EventRenewalFlagged:      true,
	domain.EventSubscriptionPastDue: true,
	domain.EventConsentRevoked:      true,
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Deliveries deliverydomain.Service
	Slack      *slack.Notifier
	Clock      clock.Clock
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	deliveries deliverydomain.Service
	slack      *slack.Notifier
	clock      clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("events.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		deliveries: p.Deliveries,
		slack:      p.Slack,
		clock:      p.Clock,
	}
}

// Emit never fails the caller. Persistence or fan-out problems are logged
// and dropped; billing must not roll back because an event could not be
// recorded.
func (s *Service) Emit(ctx context.Context, req domain.EmitRequest) {
	if req.MerchantID == 0 || strings.TrimSpace(req.EventType) == "" {
		s.log.Warn("event emit with incomplete request dropped",
			zap.Int64("merchant_id", req.MerchantID),
			zap.String("event_type", req.EventType),
		)
		return
	}

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "system"
	}

	var metadata []byte
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			s.log.Warn("event metadata not serializable",
				zap.String("event_type", req.EventType),
				zap.Error(err),
			)
		} else {
			metadata = raw
		}
	}

	event := domain.Event{
		ID:         s.genID.Generate().Int64(),
		MerchantID: req.MerchantID,
		CustomerID: req.CustomerID,
		EventType:  req.EventType,
		Actor:      actor,
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, &event); err != nil {
		s.log.Error("event persist failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return
	}

	s.fanOut(ctx, &event)
	s.alert(ctx, &event)
}

func (s *Service) fanOut(ctx context.Context, event *domain.Event) {
	endpoints, err := s.repo.ListActiveEndpoints(ctx, s.db, event.MerchantID)
	if err != nil {
		s.log.Error("endpoint lookup failed",
			zap.Int64("merchant_id", event.MerchantID),
			zap.Error(err),
		)
		return
	}
	if len(endpoints) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("event payload marshal failed", zap.Error(err))
		return
	}

	for _, endpoint := range endpoints {
		queued, err := s.deliveries.Enqueue(ctx, deliverydomain.EnqueueRequest{
			MerchantID: event.MerchantID,
			EventID:    event.ID,
			EventType:  event.EventType,
			URL:        endpoint.URL,
			Payload:    payload,
		})
		if err != nil {
			s.log.Error("delivery enqueue failed",
				zap.Int64("merchant_id", event.MerchantID),
				zap.Int64("endpoint_id", endpoint.ID),
				zap.Error(err),
			)
			continue
		}

		// First attempt is inline but detached from the caller's lifetime.
		go func(deliveryID int64) {
			attemptCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.deliveries.Attempt(attemptCtx, deliveryID); err != nil {
				s.log.Warn("initial delivery attempt errored",
					zap.Int64("delivery_id", deliveryID),
					zap.Error(err),
				)
			}
		}(queued.ID)
	}
}

func (s *Service) alert(ctx context.Context, event *domain.Event) {
	if !alertedEvents[event.EventType] || !s.slack.Enabled() {
		return
	}

	text := fmt.Sprintf("[%s] merchant %d: %s", event.EventType, event.MerchantID, string(event.Metadata))
	if err := s.slack.Notify(ctx, text); err != nil {
		s.log.Warn("slack alert failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

func (s *Service) AddEndpoint(ctx context.Context, merchantID int64, url string) (*domain.WebhookEndpoint, error) {
	trimmed := strings.TrimSpace(url)
	if merchantID == 0 || !strings.HasPrefix(trimmed, "https://") {
		return nil, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	endpoint := domain.WebhookEndpoint{
		ID:         s.genID.Generate().Int64(),
		MerchantID: merchantID,
		URL:        trimmed,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertEndpoint(ctx, s.db, &endpoint); err != nil {
		return nil, err
	}
	return &endpoint, nil
}

func (s *Service) ListEndpoints(ctx context.Context, merchantID int64) ([]domain.WebhookEndpoint, error) {
	return s.repo.ListEndpoints(ctx, s.db, merchantID)
}

func (s *Service) SetEndpointActive(ctx context.Context, merchantID, endpointID int64, isActive bool) error {
	updated, err := s.repo.UpdateEndpointActive(ctx, s.db, merchantID, endpointID, isActive)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrEndpointNotFound
	}
	return nil
}
