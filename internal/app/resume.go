package app

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/store"
)

// Route is the next page a client should be sent to.
type Route struct {
	Path     string     `json:"path"`
	Query    url.Values `json:"-"`
	Fallback bool       `json:"fallback"`
}

// String renders the route as a relative URL.
func (r Route) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

func incorporateRoute(preferredSlug string, fallback bool) Route {
	slug := domain.NormalizeJurisdiction(preferredSlug).Slug()
	return Route{Path: "/incorporate/" + slug, Fallback: fallback}
}

// DecideResumeRoute maps the caller's latest incorporation and onboarding
// status to the next step of the pipeline. It has no side effects.
//
//	no incorporation                 -> /incorporate/{slug}
//	draft                            -> /company-incorporation?onboardingId&jurisdiction
//	submitted                        -> /pricing?onboardingId
//	paid                             -> /client-register?onboardingId&jurisdiction
//	paid, onboarding COMPLETED       -> /success
//	anything else                    -> /incorporate/{slug}
func DecideResumeRoute(latest *domain.LatestIncorporation, onboardingStatus domain.OnboardingStatus, preferredSlug string) Route {
	if latest == nil {
		return incorporateRoute(preferredSlug, false)
	}

	onboardingID := latest.OnboardingID.String()
	jurisdiction := string(domain.NormalizeJurisdiction(string(latest.Jurisdiction)))

	switch latest.Status {
	case domain.IncorporationStatusDraft:
		return Route{
			Path:  "/company-incorporation",
			Query: url.Values{"onboardingId": {onboardingID}, "jurisdiction": {jurisdiction}},
		}
	case domain.IncorporationStatusSubmitted:
		return Route{
			Path:  "/pricing",
			Query: url.Values{"onboardingId": {onboardingID}},
		}
	case domain.IncorporationStatusPaid:
		if onboardingStatus == domain.OnboardingStatusCompleted {
			return Route{Path: "/success"}
		}
		return Route{
			Path:  "/client-register",
			Query: url.Values{"onboardingId": {onboardingID}, "jurisdiction": {jurisdiction}},
		}
	default:
		return incorporateRoute(preferredSlug, true)
	}
}

// ResolveLatestIncorporation returns the caller's most recently updated
// incorporation, or nil when they have none.
func (s *Service) ResolveLatestIncorporation(ctx context.Context, identity domain.Identity) (*domain.LatestIncorporation, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, ErrUnauthenticated
	}

	inc, err := s.repo.GetLatestIncorporationByUserID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrIncorporationNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &domain.LatestIncorporation{
		OnboardingID: inc.OnboardingID,
		Status:       inc.Status,
		Jurisdiction: domain.NormalizeJurisdiction(string(inc.Jurisdiction)),
	}, nil
}

// ResolveResumeRoute decides where the caller should continue.
func (s *Service) ResolveResumeRoute(ctx context.Context, identity domain.Identity, preferredSlug string) (Route, error) {
	latest, err := s.ResolveLatestIncorporation(ctx, identity)
	if err != nil {
		return Route{}, err
	}

	var onboardingStatus domain.OnboardingStatus
	if latest != nil && latest.Status == domain.IncorporationStatusPaid {
		onboarding, err := s.repo.GetOnboardingByID(ctx, latest.OnboardingID)
		if err != nil && !errors.Is(err, store.ErrOnboardingNotFound) {
			return Route{}, err
		}
		if onboarding != nil {
			onboardingStatus = onboarding.Status
		}
	}

	route := DecideResumeRoute(latest, onboardingStatus, preferredSlug)
	if route.Fallback {
		s.logger.Warn("unrecognised incorporation status, using fallback route",
			"user_id", identity.UserID,
			"status", latest.Status,
		)
	}
	return route, nil
}
