package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/delivery/domain"
	"github.com/clinicware/payrail/internal/observability/metrics"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
	Clock   clock.Clock
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	metrics       *metrics.Metrics
	clock         clock.Clock
	signingSecret string
	httpClient    *http.Client
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("delivery.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		metrics:       p.Metrics,
		clock:         p.Clock,
		signingSecret: p.Cfg.OutboundSigningSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.OutboundWebhookDelivery, error) {
	if req.MerchantID == 0 || strings.TrimSpace(req.URL) == "" || len(req.Payload) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	delivery := domain.OutboundWebhookDelivery{
		ID:             s.genID.Generate().Int64(),
		MerchantID:     req.MerchantID,
		EventID:        req.EventID,
		EventType:      req.EventType,
		URL:            strings.TrimSpace(req.URL),
		Payload:        req.Payload,
		Status:         domain.DeliveryPending,
		IdempotencyKey: ulid.Make().String(),
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (s *Service) Attempt(ctx context.Context, deliveryID int64) error {
	delivery, err := s.repo.FindByID(ctx, s.db, deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		return domain.ErrDeliveryNotFound
	}
	if delivery.Status != domain.DeliveryPending {
		return domain.ErrDeliveryTerminal
	}

	return s.attempt(ctx, delivery, delivery.IdempotencyKey)
}

func (s *Service) attempt(ctx context.Context, delivery *domain.OutboundWebhookDelivery, idempotencyKey string) error {
	attempts := delivery.Attempts + 1
	sendErr := s.send(ctx, delivery, idempotencyKey)
	now := s.clock.Now()

	if sendErr == nil {
		if err := s.repo.MarkDelivered(ctx, s.db, delivery.ID, attempts, now); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordOutboundDelivery(ctx, "delivered")
		}
		return nil
	}

	if attempts >= domain.MaxAttempts {
		if err := s.repo.MarkFailed(ctx, s.db, delivery.ID, attempts, sendErr.Error(), now); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordOutboundDelivery(ctx, "failed")
		}
		s.log.Warn("outbound delivery failed terminally",
			zap.Int64("delivery_id", delivery.ID),
			zap.Int64("merchant_id", delivery.MerchantID),
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		return nil
	}

	nextAttempt := now.Add(backoff(attempts))
	if err := s.repo.ScheduleRetry(ctx, s.db, delivery.ID, attempts, sendErr.Error(), idempotencyKey, nextAttempt, now); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordOutboundDelivery(ctx, "retried")
	}
	return nil
}

func (s *Service) SweepStuck(ctx context.Context, limit int) (int, int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now()
	stuck, err := s.repo.ListStuck(ctx, s.db, now.Add(-domain.StuckThreshold), now, limit)
	if err != nil {
		return 0, 0, err
	}

	retried, failed := 0, 0
	for i := range stuck {
		delivery := &stuck[i]
		if delivery.Attempts >= domain.MaxAttempts {
			if err := s.repo.MarkFailed(ctx, s.db, delivery.ID, delivery.Attempts, "attempt cap reached", now); err != nil {
				s.log.Error("marking stuck delivery failed",
					zap.Int64("delivery_id", delivery.ID),
					zap.Error(err),
				)
				continue
			}
			if s.metrics != nil {
				s.metrics.RecordOutboundDelivery(ctx, "failed")
			}
			failed++
			continue
		}

		// Fresh key: the receiver must be able to tell this re-trigger from
		// the original attempt that may still be in flight somewhere.
		if err := s.attempt(ctx, delivery, ulid.Make().String()); err != nil {
			s.log.Error("re-triggering stuck delivery failed",
				zap.Int64("delivery_id", delivery.ID),
				zap.Error(err),
			)
			continue
		}
		retried++
	}
	return retried, failed, nil
}

func (s *Service) send(ctx context.Context, delivery *domain.OutboundWebhookDelivery, idempotencyKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payrail-Event", delivery.EventType)
	req.Header.Set("X-Payrail-Idempotency-Key", idempotencyKey)
	if s.signingSecret != "" {
		mac := hmac.New(sha256.New, []byte(s.signingSecret))
		mac.Write(delivery.Payload)
		req.Header.Set("X-Payrail-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("endpoint returned %d", resp.StatusCode)
}

// backoff doubles per attempt starting at one minute, capped at one hour.
func backoff(attempts int) time.Duration {
	d := time.Minute << (attempts - 1)
	if d > time.Hour || d <= 0 {
		return time.Hour
	}
	return d
}
