/**
 * @description
 * Core business logic for the incorporation service: ownership checks,
 * the order lifecycle, resume routing and the supporting form operations.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/metrics"
	"github.com/scg/incorporation-service/internal/notify"
	"github.com/scg/incorporation-service/internal/store"
)

// Routing keys for events published to the events exchange.
const (
	RoutingKeyOrderPendingPayment    = "order.pending_payment"
	RoutingKeyOrderPaid              = "order.paid"
	RoutingKeyIncorporationSubmitted = "incorporation.submitted"
)

// Repository defines the database operations the service needs.
type Repository interface {
	CreateOnboardingWithDraft(ctx context.Context, userID string, jurisdiction domain.Jurisdiction) (*domain.Onboarding, *domain.Incorporation, error)
	GetOnboardingByID(ctx context.Context, id uuid.UUID) (*domain.Onboarding, error)
	UpdateOnboardingKYC(ctx context.Context, id uuid.UUID, update domain.OnboardingUpdate) (*domain.Onboarding, error)
	SetOnboardingDocument(ctx context.Context, id uuid.UUID, kind domain.DocumentKind, path string) (*domain.Onboarding, error)
	SetOnboardingStatus(ctx context.Context, id uuid.UUID, status domain.OnboardingStatus) (*domain.Onboarding, error)

	GetIncorporationByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Incorporation, error)
	CreateIncorporation(ctx context.Context, onboardingID uuid.UUID, jurisdiction domain.Jurisdiction, details map[string]interface{}) (*domain.Incorporation, error)
	UpdateIncorporation(ctx context.Context, inc *domain.Incorporation) (*domain.Incorporation, error)
	GetLatestIncorporationByUserID(ctx context.Context, userID string) (*domain.Incorporation, error)

	GetPendingOrderByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Order, error)
	CreatePendingOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CountOrdersCreatedBetween(ctx context.Context, start, end time.Time) (int, error)
	MarkOrderPaid(ctx context.Context, onboardingID uuid.UUID, paidAt time.Time) (*domain.Order, error)
	TouchOrderNotified(ctx context.Context, orderID uuid.UUID, notifiedAt time.Time) error
	FillOrderNotifyEmail(ctx context.Context, orderID uuid.UUID, email string) error
	ListStalePendingOrders(ctx context.Context, notifiedBefore time.Time, limit int) ([]domain.Order, error)

	UpsertProspect(ctx context.Context, p domain.Prospect) (*domain.Prospect, error)
	ListProspectsByUserID(ctx context.Context, userID string, limit int) ([]domain.Prospect, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Notifier sends transactional email.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) (notify.Result, error)
}

// Options carries the tunables of the service.
type Options struct {
	EventsExchange string
	AppBaseURL     string
	// ReminderConcurrency bounds parallel dispatches in a reminder sweep.
	ReminderConcurrency int
	Metrics             *metrics.Metrics
}

// Service provides the business logic for incorporation onboarding.
type Service struct {
	repo                Repository
	publisher           EventPublisher
	notifier            Notifier
	logger              *slog.Logger
	metrics             *metrics.Metrics
	exchange            string
	appBaseURL          string
	reminderConcurrency int
	now                 func() time.Time
}

// NewService creates a new incorporation service.
func NewService(repo Repository, publisher EventPublisher, notifier Notifier, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	exchange := strings.TrimSpace(opts.EventsExchange)
	if exchange == "" {
		exchange = "incorporation_events"
	}
	concurrency := opts.ReminderConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		repo:                repo,
		publisher:           publisher,
		notifier:            notifier,
		logger:              logger,
		metrics:             opts.Metrics,
		exchange:            exchange,
		appBaseURL:          strings.TrimSuffix(strings.TrimSpace(opts.AppBaseURL), "/"),
		reminderConcurrency: concurrency,
		now:                 time.Now,
	}
}

// ownedOnboarding loads an onboarding and checks it belongs to the caller.
// It runs before any mutation.
func (s *Service) ownedOnboarding(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID) (*domain.Onboarding, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, ErrUnauthenticated
	}

	onboarding, err := s.repo.GetOnboardingByID(ctx, onboardingID)
	if err != nil {
		if errors.Is(err, store.ErrOnboardingNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if onboarding.UserID != identity.UserID {
		return nil, ErrForbidden
	}
	return onboarding, nil
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

func (s *Service) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || s.appBaseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.appBaseURL + path
}
