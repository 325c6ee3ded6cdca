package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/RentFox/app/models"
)

// EventLocker guards a provider event against concurrent processing.
type EventLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// EventArchiver keeps a copy of verified raw payloads.
type EventArchiver interface {
	ArchiveEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) error
}

type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", true, nil
}
func (noopLocker) Unlock(context.Context, string, string) error { return nil }

// Service applies payment provider state to local payment, subscription and
// payout records.
type Service struct {
	repo     Repository
	gateway  Gateway
	cfg      Config
	locker   EventLocker
	archiver EventArchiver
	now      func() time.Time
}

type Option func(*Service)

func WithLocker(l EventLocker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithArchiver(a EventArchiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway Gateway, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		gateway: gateway,
		cfg:     cfg,
		locker:  noopLocker{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg Config, opts ...Option) *Service {
	return NewService(NewRepository(db), gateway, cfg, opts...)
}

func (s *Service) Config() Config {
	return s.cfg
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (s *Service) archive(ctx context.Context, eventID, eventType string, payload []byte) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveEvent(ctx, models.ProviderStripe, eventID, eventType, payload); err != nil {
		log.Warnf("[Webhook] Failed to archive event %s (%s): %v", eventID, eventType, err)
	}
}

func lockKey(eventID string) string {
	return "billing:webhook:" + models.ProviderStripe + ":" + eventID
}
