/**
 * @description
 * HTTP handlers for onboarding, incorporation, order, resume and prospect endpoints.
 * Handlers decode the request, resolve the caller identity from context and map
 * application errors onto HTTP status codes.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/app"
	"github.com/scg/incorporation-service/internal/domain"
)

// Service is the application surface used by the handlers.
type Service interface {
	StartOnboarding(ctx context.Context, identity domain.Identity, jurisdiction string) (*domain.Onboarding, *domain.Incorporation, error)
	GetOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Onboarding, error)
	UpdateOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID, update domain.OnboardingUpdate) (*domain.Onboarding, error)
	AttachDocument(ctx context.Context, identity domain.Identity, id uuid.UUID, kind domain.DocumentKind, path string) (*domain.Onboarding, error)
	CompleteOnboarding(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Onboarding, error)
	GetIncorporation(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID) (*domain.Incorporation, error)
	SaveIncorporationDraft(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID, jurisdiction string, fields map[string]interface{}) (*domain.Incorporation, error)
	SubmitIncorporation(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID, fields map[string]interface{}, pricingURL string) (*app.SubmitResult, error)
	EnsurePendingOrder(ctx context.Context, identity domain.Identity, req app.EnsureOrderRequest) (*app.EnsureOrderResult, error)
	MarkOrderPaid(ctx context.Context, identity domain.Identity, onboardingID uuid.UUID) (*domain.Order, error)
	ResolveLatestIncorporation(ctx context.Context, identity domain.Identity) (*domain.LatestIncorporation, error)
	ResolveResumeRoute(ctx context.Context, identity domain.Identity, preferredSlug string) (app.Route, error)
	UpsertProspect(ctx context.Context, identity domain.Identity, jurisdiction, companyName string) (*domain.Prospect, error)
	ListProspects(ctx context.Context, identity domain.Identity) ([]domain.Prospect, error)
	SendPaymentReminders(ctx context.Context, staleAfter time.Duration, limit int) (*app.ReminderResult, error)
}

// ReminderDefaults are used when the reminder trigger carries no overrides.
type ReminderDefaults struct {
	StaleAfter time.Duration
	BatchSize  int
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service   Service
	auth      *Authenticator
	loginPath string
	reminders ReminderDefaults
	logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(service Service, auth *Authenticator, loginPath string, reminders ReminderDefaults, logger *slog.Logger) *Handler {
	if strings.TrimSpace(loginPath) == "" {
		loginPath = "/login"
	}
	return &Handler{
		service:   service,
		auth:      auth,
		loginPath: loginPath,
		reminders: reminders,
		logger:    logger,
	}
}

type startOnboardingRequest struct {
	Jurisdiction string `json:"jurisdiction"`
}

type onboardingResponse struct {
	Onboarding    *domain.Onboarding    `json:"onboarding"`
	Incorporation *domain.Incorporation `json:"incorporation,omitempty"`
}

type attachDocumentRequest struct {
	Path string `json:"path"`
}

type saveIncorporationRequest struct {
	Jurisdiction string                 `json:"jurisdiction"`
	Fields       map[string]interface{} `json:"fields"`
}

type submitIncorporationRequest struct {
	Fields     map[string]interface{} `json:"fields"`
	PricingURL string                 `json:"pricing_url"`
}

type ensureOrderRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	CompanyName  string `json:"company_name"`
	PricingURL   string `json:"pricing_url"`
}

type markPaidResponse struct {
	Order   *domain.Order `json:"order"`
	Updated bool          `json:"updated"`
}

type resumeResponse struct {
	URL      string `json:"url"`
	Fallback bool   `json:"fallback"`
}

type latestIncorporationResponse struct {
	Incorporation *domain.LatestIncorporation `json:"incorporation"`
}

type prospectRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	CompanyName  string `json:"company_name"`
}

type reminderRunRequest struct {
	StaleAfterHours int `json:"stale_after_hours"`
	Limit           int `json:"limit"`
}

func (h *Handler) handleStartOnboarding(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req startOnboardingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	onboarding, inc, err := h.service.StartOnboarding(r.Context(), identity, req.Jurisdiction)
	if err != nil {
		h.writeServiceError(w, err, "start_onboarding", identity)
		return
	}

	respondWithJSON(w, http.StatusCreated, onboardingResponse{Onboarding: onboarding, Incorporation: inc})
}

func (h *Handler) handleGetOnboarding(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	onboarding, err := h.service.GetOnboarding(r.Context(), identity, id)
	if err != nil {
		h.writeServiceError(w, err, "get_onboarding", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, onboardingResponse{Onboarding: onboarding})
}

func (h *Handler) handleUpdateOnboarding(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	var update domain.OnboardingUpdate
	if !decodeBody(w, r, &update) {
		return
	}

	onboarding, err := h.service.UpdateOnboarding(r.Context(), identity, id, update)
	if err != nil {
		h.writeServiceError(w, err, "update_onboarding", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, onboardingResponse{Onboarding: onboarding})
}

func (h *Handler) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	var req attachDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	kind := domain.DocumentKind(chi.URLParam(r, "kind"))
	onboarding, err := h.service.AttachDocument(r.Context(), identity, id, kind, req.Path)
	if err != nil {
		h.writeServiceError(w, err, "attach_document", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, onboardingResponse{Onboarding: onboarding})
}

func (h *Handler) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	onboarding, err := h.service.CompleteOnboarding(r.Context(), identity, id)
	if err != nil {
		h.writeServiceError(w, err, "complete_onboarding", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, onboardingResponse{Onboarding: onboarding})
}

func (h *Handler) handleGetIncorporation(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	inc, err := h.service.GetIncorporation(r.Context(), identity, id)
	if err != nil {
		h.writeServiceError(w, err, "get_incorporation", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, inc)
}

func (h *Handler) handleSaveIncorporation(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	var req saveIncorporationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inc, err := h.service.SaveIncorporationDraft(r.Context(), identity, id, req.Jurisdiction, req.Fields)
	if err != nil {
		h.writeServiceError(w, err, "save_incorporation", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, inc)
}

func (h *Handler) handleSubmitIncorporation(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	var req submitIncorporationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.SubmitIncorporation(r.Context(), identity, id, req.Fields, req.PricingURL)
	if err != nil {
		h.writeServiceError(w, err, "submit_incorporation", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleEnsureOrder(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	var req ensureOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.EnsurePendingOrder(r.Context(), identity, app.EnsureOrderRequest{
		OnboardingID:    id,
		Jurisdiction:    req.Jurisdiction,
		CompanyNameHint: req.CompanyName,
		PricingURL:      req.PricingURL,
	})
	if err != nil {
		h.writeServiceError(w, err, "ensure_order", identity)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, result)
}

func (h *Handler) handleMarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := h.identityAndOnboardingID(w, r)
	if !ok {
		return
	}

	order, err := h.service.MarkOrderPaid(r.Context(), identity, id)
	if err != nil {
		h.writeServiceError(w, err, "mark_order_paid", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, markPaidResponse{Order: order, Updated: order != nil})
}

func (h *Handler) handleLatestIncorporation(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	latest, err := h.service.ResolveLatestIncorporation(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, err, "latest_incorporation", identity)
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "No incorporation found")
		return
	}

	respondWithJSON(w, http.StatusOK, latestIncorporationResponse{Incorporation: latest})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	route, err := h.service.ResolveResumeRoute(r.Context(), identity, r.URL.Query().Get("jurisdiction"))
	if err != nil {
		h.writeServiceError(w, err, "resume", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, resumeResponse{URL: route.String(), Fallback: route.Fallback})
}

// handleResumeRedirect authenticates on its own so that a missing session
// becomes a login redirect instead of a 401.
func (h *Handler) handleResumeRedirect(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Identify(r)
	if err != nil {
		http.Redirect(w, r, h.loginURL(r), http.StatusFound)
		return
	}

	route, err := h.service.ResolveResumeRoute(r.Context(), identity, r.URL.Query().Get("jurisdiction"))
	if err != nil {
		if errors.Is(err, app.ErrUnauthenticated) {
			http.Redirect(w, r, h.loginURL(r), http.StatusFound)
			return
		}
		h.writeServiceError(w, err, "resume_redirect", identity)
		return
	}

	http.Redirect(w, r, route.String(), http.StatusFound)
}

func (h *Handler) loginURL(r *http.Request) string {
	return h.loginPath + "?" + url.Values{"callbackUrl": {r.URL.RequestURI()}}.Encode()
}

func (h *Handler) handleListProspects(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	prospects, err := h.service.ListProspects(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, err, "list_prospects", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, prospects)
}

func (h *Handler) handleUpsertProspect(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req prospectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	prospect, err := h.service.UpsertProspect(r.Context(), identity, req.Jurisdiction, req.CompanyName)
	if err != nil {
		h.writeServiceError(w, err, "upsert_prospect", identity)
		return
	}

	respondWithJSON(w, http.StatusOK, prospect)
}

func (h *Handler) handleRunPaymentReminders(w http.ResponseWriter, r *http.Request) {
	var req reminderRunRequest
	if !decodeBody(w, r, &req) {
		return
	}

	staleAfter := h.reminders.StaleAfter
	if req.StaleAfterHours > 0 {
		staleAfter = time.Duration(req.StaleAfterHours) * time.Hour
	}
	limit := h.reminders.BatchSize
	if req.Limit > 0 {
		limit = req.Limit
	}

	result, err := h.service.SendPaymentReminders(r.Context(), staleAfter, limit)
	if err != nil {
		h.logger.Error("payment reminder sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to run payment reminders")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) identityAndOnboardingID(w http.ResponseWriter, r *http.Request) (domain.Identity, uuid.UUID, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return domain.Identity{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid onboarding ID")
		return domain.Identity{}, uuid.Nil, false
	}
	return identity, id, true
}

// writeServiceError maps application errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, endpoint string, identity domain.Identity) {
	var validationErr *app.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   validationErr.Error(),
			"missing": validationErr.Missing,
		})
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "endpoint", endpoint, "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong, please try again")
	}
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
