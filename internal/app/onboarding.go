package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/store"
)

// StartOnboarding opens a new application for the caller with an empty draft incorporation.
func (s *Service) StartOnboarding(ctx context.Context, identity domain.Identity, jurisdiction string) (*domain.Onboarding, *domain.Incorporation, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, nil, ErrUnauthenticated
	}

	onboarding, inc, err := s.repo.CreateOnboardingWithDraft(ctx, identity.UserID, domain.NormalizeJurisdiction(jurisdiction))
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("onboarding started", "onboarding_id", onboarding.ID, "user_id", identity.UserID, "jurisdiction", onboarding.Jurisdiction)
	return onboarding, inc, nil
}

// GetOnboarding returns one of the caller's onboardings.
func (s *Service) GetOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Onboarding, error) {
	return s.ownedOnboarding(ctx, identity, id)
}

// UpdateOnboarding merges a partial KYC update into the onboarding.
func (s *Service) UpdateOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID, update domain.OnboardingUpdate) (*domain.Onboarding, error) {
	onboarding, err := s.ownedOnboarding(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return onboarding, nil
	}

	return s.repo.UpdateOnboardingKYC(ctx, id, update)
}

// AttachDocument records the storage path of a supporting document.
func (s *Service) AttachDocument(ctx context.Context, identity domain.Identity, id uuid.UUID, kind domain.DocumentKind, path string) (*domain.Onboarding, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Message: "unknown document kind: " + string(kind)}
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &ValidationError{Message: "document path is required", Missing: []string{"path"}}
	}

	if _, err := s.ownedOnboarding(ctx, identity, id); err != nil {
		return nil, err
	}

	return s.repo.SetOnboardingDocument(ctx, id, kind, path)
}

// CompleteOnboarding marks the onboarding COMPLETED. The incorporation must be paid.
func (s *Service) CompleteOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Onboarding, error) {
	onboarding, err := s.ownedOnboarding(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if onboarding.Status == domain.OnboardingStatusCompleted {
		return onboarding, nil
	}

	inc, err := s.repo.GetIncorporationByOnboardingID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrIncorporationNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	if inc.Status != domain.IncorporationStatusPaid {
		return nil, ErrInvalidTransition
	}

	completed, err := s.repo.SetOnboardingStatus(ctx, id, domain.OnboardingStatusCompleted)
	if err != nil {
		return nil, err
	}
	s.logger.Info("onboarding completed", "onboarding_id", id, "user_id", identity.UserID)
	return completed, nil
}
