package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/store"
)

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Incorporation *domain.Incorporation `json:"incorporation"`
	Order         *domain.Order         `json:"order"`
	PricingURL    string                `json:"pricing_url"`
}

// GetIncorporation returns the incorporation attached to one of the caller's onboardings.
func (s *Service) GetIncorporation(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID) (*domain.Incorporation, error) {
	if _, err := s.ownedOnboarding(ctx, identity, onboardingID); err != nil {
		return nil, err
	}

	inc, err := s.repo.GetIncorporationByOnboardingID(ctx, onboardingID)
	if errors.Is(err, store.ErrIncorporationNotFound) {
		return nil, ErrNotFound
	}
	return inc, err
}

// SaveIncorporationDraft merges fields into the draft incorporation, creating
// it if needed. Top-level keys overwrite. Submitted applications are read-only.
func (s *Service) SaveIncorporationDraft(
	ctx context.Context,
	identity domain.Identity,
	onboardingID uuid.UUID,
	jurisdiction string,
	fields map[string]interface{},
) (*domain.Incorporation, error) {
	onboarding, err := s.ownedOnboarding(ctx, identity, onboardingID)
	if err != nil {
		return nil, err
	}

	inc, err := s.loadOrCreateIncorporation(ctx, onboarding, jurisdiction)
	if err != nil {
		return nil, err
	}
	if inc.Status != domain.IncorporationStatusDraft {
		return nil, ErrInvalidTransition
	}

	if strings.TrimSpace(jurisdiction) != "" {
		inc.Jurisdiction = domain.NormalizeJurisdiction(jurisdiction)
	}
	mergeDetails(inc.Details, fields)

	saved, err := s.repo.UpdateIncorporation(ctx, inc)
	if err != nil {
		return nil, err
	}

	s.recordProspect(ctx, identity, saved.Jurisdiction, firstCompanyName(saved.Details))
	return saved, nil
}

// SubmitIncorporation merges fields, validates the jurisdiction's required
// fields and moves the application to submitted, then ensures the pending order.
// Re-submitting an already submitted application only re-confirms the order.
func (s *Service) SubmitIncorporation(
	ctx context.Context,
	identity domain.Identity,
	onboardingID uuid.UUID,
	fields map[string]interface{},
	pricingURL string,
) (*SubmitResult, error) {
	onboarding, err := s.ownedOnboarding(ctx, identity, onboardingID)
	if err != nil {
		return nil, err
	}

	inc, err := s.loadOrCreateIncorporation(ctx, onboarding, "")
	if err != nil {
		return nil, err
	}

	switch inc.Status {
	case domain.IncorporationStatusDraft:
		mergeDetails(inc.Details, fields)
		inc, err = s.repo.UpdateIncorporation(ctx, inc)
		if err != nil {
			return nil, err
		}

		if missing := missingFields(inc.Details, domain.RequiredIncorporationFields(inc.Jurisdiction)); len(missing) > 0 {
			return nil, &ValidationError{Message: "incorporation is incomplete", Missing: missing}
		}

		inc, err = s.advanceIncorporation(ctx, inc, domain.IncorporationStatusSubmitted)
		if err != nil {
			return nil, err
		}

		s.logger.Info("incorporation submitted", "onboarding_id", onboardingID, "jurisdiction", inc.Jurisdiction)
		s.publishEvent(ctx, RoutingKeyIncorporationSubmitted, domain.IncorporationSubmittedEvent{
			IncorporationID: inc.ID,
			OnboardingID:    inc.OnboardingID,
			UserID:          identity.UserID,
			Jurisdiction:    inc.Jurisdiction,
			SubmittedAt:     s.now().UTC(),
		})
	case domain.IncorporationStatusSubmitted:
	default:
		return nil, ErrInvalidTransition
	}

	companyName := firstCompanyName(inc.Details)
	s.recordProspect(ctx, identity, inc.Jurisdiction, companyName)

	ensured, err := s.EnsurePendingOrder(ctx, identity, EnsureOrderRequest{
		OnboardingID:    onboardingID,
		Jurisdiction:    string(inc.Jurisdiction),
		CompanyNameHint: companyName,
		PricingURL:      pricingURL,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitResult{Incorporation: inc, Order: ensured.Order, PricingURL: ensured.PricingURL}, nil
}

// advanceIncorporation moves inc forward to next. Backward moves are rejected
// with ErrInvalidTransition and re-applying the current status writes nothing.
func (s *Service) advanceIncorporation(ctx context.Context, inc *domain.Incorporation, next domain.IncorporationStatus) (*domain.Incorporation, error) {
	if !inc.Status.CanAdvanceTo(next) {
		s.logger.Warn("rejected backward incorporation transition", "onboarding_id", inc.OnboardingID, "from", inc.Status, "to", next)
		return nil, ErrInvalidTransition
	}
	if inc.Status == next {
		return inc, nil
	}

	inc.Status = next
	return s.repo.UpdateIncorporation(ctx, inc)
}

func (s *Service) loadOrCreateIncorporation(ctx context.Context, onboarding *domain.Onboarding, jurisdiction string) (*domain.Incorporation, error) {
	inc, err := s.repo.GetIncorporationByOnboardingID(ctx, onboarding.ID)
	if err == nil {
		if inc.Details == nil {
			inc.Details = map[string]interface{}{}
		}
		return inc, nil
	}
	if !errors.Is(err, store.ErrIncorporationNotFound) {
		return nil, err
	}

	raw := jurisdiction
	if strings.TrimSpace(raw) == "" {
		raw = string(onboarding.Jurisdiction)
	}
	inc, err = s.repo.CreateIncorporation(ctx, onboarding.ID, domain.NormalizeJurisdiction(raw), map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if inc.Details == nil {
		inc.Details = map[string]interface{}{}
	}
	return inc, nil
}

func mergeDetails(dst, src map[string]interface{}) {
	for key, value := range src {
		dst[key] = value
	}
}

func missingFields(details map[string]interface{}, required []string) []string {
	var missing []string
	for _, field := range required {
		if !isPresent(details[field]) {
			missing = append(missing, field)
		}
	}
	return missing
}

func isPresent(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case []interface{}:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}

// firstCompanyName extracts the first proposed company name from the details bag.
func firstCompanyName(details map[string]interface{}) string {
	switch names := details["companyNames"].(type) {
	case string:
		return strings.TrimSpace(names)
	case []string:
		if len(names) > 0 {
			return strings.TrimSpace(names[0])
		}
	case []interface{}:
		if len(names) == 0 {
			return ""
		}
		switch first := names[0].(type) {
		case string:
			return strings.TrimSpace(first)
		case map[string]interface{}:
			if name, ok := first["name"].(string); ok {
				return strings.TrimSpace(name)
			}
		}
	case map[string]interface{}:
		for _, key := range []string{"first", "primary", "name"} {
			if name, ok := names[key].(string); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	return ""
}
