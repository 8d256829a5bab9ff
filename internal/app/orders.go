package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/metrics"
	"github.com/scg/incorporation-service/internal/notify"
	"github.com/scg/incorporation-service/internal/store"
)

const maxOrderCodeAttempts = 3

// EnsureOrderRequest describes a request to (re)confirm the pending order of an onboarding.
type EnsureOrderRequest struct {
	OnboardingID    uuid.UUID
	Jurisdiction    string
	CompanyNameHint string
	PricingURL      string
}

// EnsureOrderResult is the outcome of EnsurePendingOrder.
type EnsureOrderResult struct {
	Order        *domain.Order `json:"order"`
	PricingURL   string        `json:"pricing_url"`
	Created      bool          `json:"created"`
	Notification notify.Result `json:"notification"`
}

// EnsurePendingOrder returns the onboarding's pending order, creating one when
// none exists. It is idempotent: repeated calls return the same order. The
// payment email is dispatched on every call and last_notified_at is stamped
// whether or not the dispatch succeeded.
func (s *Service) EnsurePendingOrder(ctx context.Context, identity domain.Identity, req EnsureOrderRequest) (*EnsureOrderResult, error) {
	onboarding, err := s.ownedOnboarding(ctx, identity, req.OnboardingID)
	if err != nil {
		return nil, err
	}

	rawJurisdiction := req.Jurisdiction
	if strings.TrimSpace(rawJurisdiction) == "" {
		rawJurisdiction = string(onboarding.Jurisdiction)
	}
	jurisdiction := domain.NormalizeJurisdiction(rawJurisdiction)

	order, created, err := s.findOrCreatePendingOrder(ctx, identity, onboarding.ID, jurisdiction)
	if err != nil {
		return nil, err
	}

	pricingURL := strings.TrimSpace(req.PricingURL)
	if pricingURL == "" {
		pricingURL = pricingPath(onboarding.ID)
	}

	recipient := strings.TrimSpace(identity.Email)
	if recipient == "" {
		recipient = order.NotifyEmail
	} else if order.NotifyEmail == "" {
		// First address seen fills an order created without one.
		if err := s.repo.FillOrderNotifyEmail(ctx, order.ID, recipient); err != nil {
			s.logger.Warn("failed to store order notification address", "order_id", order.ID, "error", err)
		} else {
			order.NotifyEmail = recipient
		}
	}
	companyName := strings.TrimSpace(req.CompanyNameHint)
	if companyName == "" {
		companyName = s.companyNameFor(ctx, onboarding.ID)
	}

	result := s.notifyPayment(ctx, order, recipient, companyName, pricingURL)

	if created {
		s.publishEvent(ctx, RoutingKeyOrderPendingPayment, orderEvent(order, s.now()))
	}

	return &EnsureOrderResult{
		Order:        order,
		PricingURL:   pricingURL,
		Created:      created,
		Notification: result,
	}, nil
}

func (s *Service) findOrCreatePendingOrder(
	ctx context.Context,
	identity domain.Identity,
	onboardingID uuid.UUID,
	jurisdiction domain.Jurisdiction,
) (*domain.Order, bool, error) {
	existing, err := s.repo.GetPendingOrderByOnboardingID(ctx, onboardingID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrOrderNotFound) {
		return nil, false, err
	}

	for attempt := 0; attempt < maxOrderCodeAttempts; attempt++ {
		code, err := s.generateOrderCode(ctx, jurisdiction, attempt)
		if err != nil {
			return nil, false, err
		}

		order, err := s.repo.CreatePendingOrder(ctx, domain.Order{
			UserID:       identity.UserID,
			OnboardingID: onboardingID,
			Jurisdiction: jurisdiction,
			OrderCode:    code,
			NotifyEmail:  strings.TrimSpace(identity.Email),
		})
		switch {
		case err == nil:
			s.logger.Info("order created", "order_id", order.ID, "order_code", order.OrderCode, "onboarding_id", onboardingID)
			s.metrics.IncrementOrdersCreated(string(jurisdiction))
			return order, true, nil
		case errors.Is(err, store.ErrPendingOrderExists):
			// A concurrent request created the order first.
			winner, err := s.repo.GetPendingOrderByOnboardingID(ctx, onboardingID)
			if err != nil {
				return nil, false, err
			}
			return winner, false, nil
		case errors.Is(err, store.ErrOrderCodeTaken):
			s.logger.Warn("order code collision, regenerating", "order_code", code, "attempt", attempt+1)
			s.metrics.IncrementOrderCodeCollisions()
			continue
		default:
			return nil, false, err
		}
	}

	return nil, false, fmt.Errorf("could not allocate a unique order code after %d attempts", maxOrderCodeAttempts)
}

// GenerateOrderCode builds SCG-<JURISDICTION>-<YYYYMMDD>-<SEQ>, where SEQ is the
// number of orders created so far on the current UTC day plus one, zero padded
// to four digits.
func (s *Service) GenerateOrderCode(ctx context.Context, jurisdiction domain.Jurisdiction) (string, error) {
	return s.generateOrderCode(ctx, jurisdiction, 0)
}

func (s *Service) generateOrderCode(ctx context.Context, jurisdiction domain.Jurisdiction, offset int) (string, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	nextDay := dayStart.AddDate(0, 0, 1)

	count, err := s.repo.CountOrdersCreatedBetween(ctx, dayStart, nextDay)
	if err != nil {
		return "", fmt.Errorf("count orders for code: %w", err)
	}

	return formatOrderCode(jurisdiction, dayStart, count+1+offset), nil
}

func formatOrderCode(jurisdiction domain.Jurisdiction, day time.Time, seq int) string {
	token := strings.ToUpper(strings.TrimSpace(string(jurisdiction)))
	if token == "" {
		token = string(domain.DefaultJurisdiction)
	}
	return fmt.Sprintf("SCG-%s-%s-%04d", token, day.Format("20060102"), seq)
}

// MarkOrderPaid moves the onboarding's pending order to paid and advances the
// incorporation to paid. When there is no pending order it returns (nil, nil)
// and writes nothing.
func (s *Service) MarkOrderPaid(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID) (*domain.Order, error) {
	if _, err := s.ownedOnboarding(ctx, identity, onboardingID); err != nil {
		return nil, err
	}

	paidAt := s.now().UTC()
	order, err := s.repo.MarkOrderPaid(ctx, onboardingID, paidAt)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	s.logger.Info("order paid", "order_id", order.ID, "order_code", order.OrderCode, "onboarding_id", onboardingID)
	s.metrics.IncrementOrdersPaid(string(order.Jurisdiction))

	inc, err := s.repo.GetIncorporationByOnboardingID(ctx, onboardingID)
	switch {
	case err == nil:
		if _, err := s.advanceIncorporation(ctx, inc, domain.IncorporationStatusPaid); err != nil {
			s.logger.Error("failed to advance incorporation to paid", "onboarding_id", onboardingID, "error", err)
		}
	case errors.Is(err, store.ErrIncorporationNotFound):
		s.logger.Warn("paid order has no incorporation", "onboarding_id", onboardingID)
	default:
		s.logger.Error("failed to load incorporation for paid order", "onboarding_id", onboardingID, "error", err)
	}

	s.publishEvent(ctx, RoutingKeyOrderPaid, orderEvent(order, paidAt))
	return order, nil
}

// notifyPayment sends the payment email and stamps last_notified_at regardless
// of the outcome. Failures are logged, never returned.
func (s *Service) notifyPayment(ctx context.Context, order *domain.Order, recipient, companyName, pricingURL string) notify.Result {
	result := notify.Result{}

	msg, err := notify.PaymentReminder(*order, recipient, companyName, s.absoluteURL(pricingURL))
	if err != nil {
		s.logger.Warn("failed to render payment email", "order_id", order.ID, "error", err)
	} else if s.notifier != nil {
		result, err = s.notifier.Send(ctx, msg)
		if err != nil {
			s.logger.Warn("payment email dispatch failed", "order_id", order.ID, "error", err)
		}
	}

	s.metrics.IncrementPaymentEmails(emailOutcome(result))

	notifiedAt := s.now().UTC()
	if err := s.repo.TouchOrderNotified(ctx, order.ID, notifiedAt); err != nil {
		s.logger.Warn("failed to record notification time", "order_id", order.ID, "error", err)
		return result
	}
	order.LastNotifiedAt = &notifiedAt
	return result
}

func emailOutcome(result notify.Result) string {
	switch {
	case !result.OK:
		return metrics.OutcomeFailed
	case result.Simulated:
		return metrics.OutcomeSimulated
	default:
		return metrics.OutcomeSent
	}
}

func (s *Service) companyNameFor(ctx context.Context, onboardingID uuid.UUID) string {
	inc, err := s.repo.GetIncorporationByOnboardingID(ctx, onboardingID)
	if err != nil {
		return ""
	}
	return firstCompanyName(inc.Details)
}

func pricingPath(onboardingID uuid.UUID) string {
	return "/pricing?" + url.Values{"onboardingId": {onboardingID.String()}}.Encode()
}

func orderEvent(order *domain.Order, at time.Time) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:      order.ID,
		OrderCode:    order.OrderCode,
		OnboardingID: order.OnboardingID,
		UserID:       order.UserID,
		Jurisdiction: order.Jurisdiction,
		Status:       order.Status,
		OccurredAt:   at,
	}
}
