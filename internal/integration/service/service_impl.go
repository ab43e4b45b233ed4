package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/clinicware/payrail/internal/payment/adapters"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Verifier performs the minimal non-destructive provider call that proves a
// freshly connected credential set actually works.
type Verifier func(ctx context.Context, adapter paymentdomain.Adapter) error

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Registry *adapters.Registry
	Clock    clock.Clock
	Cfg      config.Config
	Verifier Verifier `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	registry *adapters.Registry
	clock    clock.Clock
	genID    *snowflake.Node
	encKey   []byte
	verifier Verifier
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func New(p Params) domain.Service {
	secret := strings.TrimSpace(p.Cfg.IntegrationSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	verifier := p.Verifier
	if verifier == nil {
		verifier = probeAdapter
	}

	return &Service{
		db:       p.DB,
		log:      p.Log.Named("integration.service"),
		repo:     p.Repo,
		registry: p.Registry,
		clock:    p.Clock,
		genID:    p.GenID,
		encKey:   key,
		verifier: verifier,
	}
}

// probeAdapter creates a harmless customer record at the provider. Cheap,
// non-destructive, and exercises the credential end to end.
func probeAdapter(ctx context.Context, adapter paymentdomain.Adapter) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	_, err := adapter.CreateCustomer(ctx, paymentdomain.CustomerProfile{
		Name:  "Credential Verification",
		Email: "verify@payrail.dev",
	})
	return err
}

func (s *Service) Connect(ctx context.Context, req domain.ConnectRequest) (*domain.Summary, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if !req.Provider.Valid() || !s.registry.ProviderExists(req.Provider) {
		return nil, domain.ErrInvalidProvider
	}

	credentials := normalizeCredentials(req.Credentials)
	if len(credentials) == 0 {
		return nil, domain.ErrInvalidCredentials
	}

	encrypted, err := s.encrypt(credentials)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row := domain.MerchantIntegration{
		ID:          s.genID.Generate().Int64(),
		MerchantID:  int64(merchantID),
		Provider:    req.Provider.String(),
		Credentials: encrypted,
		Sandbox:     req.Sandbox,
		ConnectedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.repo.Find(ctx, s.db, int64(merchantID), req.Provider.String()); err != nil {
		return nil, err
	} else if existing != nil {
		row.ID = existing.ID
		row.ConnectedAt = existing.ConnectedAt
		row.CreatedAt = existing.CreatedAt
	}

	adapter, buildErr := s.registry.NewAdapter(req.Provider, paymentdomain.AdapterConfig{
		MerchantID: int64(merchantID),
		Sandbox:    req.Sandbox,
		Config:     credentials,
	})
	verifyErr := buildErr
	if verifyErr == nil {
		verifyErr = s.verifier(ctx, adapter)
	}

	if verifyErr != nil {
		message := verifyErr.Error()
		row.IsActive = false
		row.LastError = &message
		errAt := now
		row.LastErrorAt = &errAt
		if err := s.repo.Upsert(ctx, s.db, &row); err != nil {
			return nil, err
		}
		s.log.Warn("integration verification failed",
			zap.Int64("merchant_id", int64(merchantID)),
			zap.String("provider", req.Provider.String()),
			zap.Error(verifyErr),
		)
		return nil, domain.ErrVerificationFailed
	}

	row.IsActive = true
	if err := s.repo.Upsert(ctx, s.db, &row); err != nil {
		return nil, err
	}

	s.log.Info("integration connected",
		zap.Int64("merchant_id", int64(merchantID)),
		zap.String("provider", req.Provider.String()),
		zap.Bool("sandbox", req.Sandbox),
	)
	return summarize(&row), nil
}

func (s *Service) Rotate(ctx context.Context, prov provider.Provider, credentials map[string]any) (*domain.Summary, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if !prov.Valid() {
		return nil, domain.ErrInvalidProvider
	}

	normalized := normalizeCredentials(credentials)
	if len(normalized) == 0 {
		return nil, domain.ErrInvalidCredentials
	}

	existing, err := s.repo.Find(ctx, s.db, int64(merchantID), prov.String())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}

	encrypted, err := s.encrypt(normalized)
	if err != nil {
		return nil, err
	}

	existing.Credentials = encrypted
	existing.LastError = nil
	existing.LastErrorAt = nil
	existing.UpdatedAt = s.clock.Now()
	if err := s.repo.Upsert(ctx, s.db, existing); err != nil {
		return nil, err
	}

	s.log.Info("integration credentials rotated",
		zap.Int64("merchant_id", int64(merchantID)),
		zap.String("provider", prov.String()),
	)
	return summarize(existing), nil
}

func (s *Service) SetActive(ctx context.Context, prov provider.Provider, isActive bool) (*domain.Summary, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if !prov.Valid() {
		return nil, domain.ErrInvalidProvider
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, int64(merchantID), prov.String(), isActive, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	item, err := s.repo.Find(ctx, s.db, int64(merchantID), prov.String())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return summarize(item), nil
}

func (s *Service) List(ctx context.Context) ([]domain.Summary, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}

	items, err := s.repo.ListByMerchant(ctx, s.db, int64(merchantID))
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Summary, 0, len(items))
	for i := range items {
		resp = append(resp, *summarize(&items[i]))
	}
	return resp, nil
}

func (s *Service) IsActive(ctx context.Context, merchantID int64, prov provider.Provider) (bool, error) {
	item, err := s.repo.Find(ctx, s.db, merchantID, prov.String())
	if err != nil {
		return false, err
	}
	return item != nil && item.IsActive, nil
}

func (s *Service) ActiveProviders(ctx context.Context, merchantID int64) ([]provider.Provider, error) {
	items, err := s.repo.ListActiveByMerchant(ctx, s.db, merchantID)
	if err != nil {
		return nil, err
	}

	providers := make([]provider.Provider, 0, len(items))
	for _, item := range items {
		if p, ok := provider.Parse(item.Provider); ok {
			providers = append(providers, p)
		}
	}
	return providers, nil
}

func (s *Service) OldestActive(ctx context.Context, merchantID int64) (provider.Provider, bool, error) {
	providers, err := s.ActiveProviders(ctx, merchantID)
	if err != nil {
		return "", false, err
	}
	if len(providers) == 0 {
		return "", false, nil
	}
	return providers[0], true, nil
}

func (s *Service) NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error) {
	item, err := s.repo.Find(ctx, s.db, merchantID, prov.String())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if !item.IsActive {
		return nil, domain.ErrInactive
	}

	credentials, err := s.decrypt(item.Credentials)
	if err != nil {
		return nil, err
	}

	return s.registry.NewAdapter(prov, paymentdomain.AdapterConfig{
		MerchantID: merchantID,
		Sandbox:    item.Sandbox,
		Config:     credentials,
	})
}

func (s *Service) MarkUsed(ctx context.Context, merchantID int64, prov provider.Provider) error {
	return s.repo.UpdateLastUsed(ctx, s.db, merchantID, prov.String(), s.clock.Now())
}

func (s *Service) RecordError(ctx context.Context, merchantID int64, prov provider.Provider, message string) error {
	return s.repo.UpdateLastError(ctx, s.db, merchantID, prov.String(), message, s.clock.Now())
}

func (s *Service) encrypt(credentials map[string]any) (datatypes.JSON, error) {
	if len(s.encKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	encoded := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *Service) decrypt(blob datatypes.JSON) (map[string]any, error) {
	if len(s.encKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	var encoded encryptedPayload
	if err := json.Unmarshal(blob, &encoded); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	nonce, err := base64.RawStdEncoding.DecodeString(encoded.Nonce)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(encoded.Ciphertext)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, domain.ErrInvalidCredentials
	}

	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	var credentials map[string]any
	if err := json.Unmarshal(payload, &credentials); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return credentials, nil
}

func summarize(item *domain.MerchantIntegration) *domain.Summary {
	p, _ := provider.Parse(item.Provider)
	return &domain.Summary{
		Provider:    p,
		IsActive:    item.IsActive,
		Sandbox:     item.Sandbox,
		ConnectedAt: item.ConnectedAt,
		LastError:   item.LastError,
		LastErrorAt: item.LastErrorAt,
	}
}

func normalizeCredentials(credentials map[string]any) map[string]any {
	if len(credentials) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(credentials))
	for key, value := range credentials {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}

		switch cast := value.(type) {
		case string:
			trimmedValue := strings.TrimSpace(cast)
			if trimmedValue == "" {
				continue
			}
			normalized[trimmedKey] = trimmedValue
		default:
			normalized[trimmedKey] = cast
		}
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
