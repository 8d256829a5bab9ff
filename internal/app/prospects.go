package app

import (
	"context"
	"strings"

	"github.com/scg/incorporation-service/internal/domain"
)

const prospectListLimit = 100

// UpsertProspect stores a company-name reservation for the caller.
func (s *Service) UpsertProspect(ctx context.Context, identity domain.Identity, jurisdiction, companyName string) (*domain.Prospect, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, ErrUnauthenticated
	}

	normalized := domain.NormalizeCompanyName(companyName)
	if normalized == "" {
		return nil, &ValidationError{Message: "company name is required", Missing: []string{"companyName"}}
	}

	return s.repo.UpsertProspect(ctx, domain.Prospect{
		UserID:         identity.UserID,
		Jurisdiction:   domain.NormalizeJurisdiction(jurisdiction),
		CompanyName:    strings.TrimSpace(companyName),
		NormalizedName: normalized,
	})
}

// ListProspects returns the caller's prospects, newest first.
func (s *Service) ListProspects(ctx context.Context, identity domain.Identity) ([]domain.Prospect, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, ErrUnauthenticated
	}
	return s.repo.ListProspectsByUserID(ctx, identity.UserID, prospectListLimit)
}

// recordProspect upserts a prospect as a side effect of saving a form. Errors are logged only.
func (s *Service) recordProspect(ctx context.Context, identity domain.Identity, jurisdiction domain.Jurisdiction, companyName string) {
	if strings.TrimSpace(companyName) == "" {
		return
	}
	if _, err := s.UpsertProspect(ctx, identity, string(jurisdiction), companyName); err != nil {
		s.logger.Warn("failed to record prospect", "user_id", identity.UserID, "error", err)
	}
}
