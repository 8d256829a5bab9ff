package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/notify"
	"github.com/scg/incorporation-service/internal/store"
)

var testNow = time.Date(2024, time.March, 1, 10, 30, 0, 0, time.UTC)

// memRepo is an in-memory Repository that mirrors the constraints of the
// Postgres schema: one pending order per onboarding and unique order codes.
type memRepo struct {
	mu             sync.Mutex
	onboardings    map[uuid.UUID]domain.Onboarding
	incorporations map[uuid.UUID]domain.Incorporation
	orders         []domain.Order
	prospects      []domain.Prospect

	clock        func() time.Time
	beforeCreate func(r *memRepo)
	touchErr     error
	touched      []uuid.UUID
	writes       int
}

func newMemRepo() *memRepo {
	return &memRepo{
		onboardings:    map[uuid.UUID]domain.Onboarding{},
		incorporations: map[uuid.UUID]domain.Incorporation{},
		clock:          func() time.Time { return testNow },
	}
}

func (r *memRepo) addOnboarding(userID string, jurisdiction domain.Jurisdiction) domain.Onboarding {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := domain.Onboarding{
		ID:           uuid.New(),
		UserID:       userID,
		Jurisdiction: jurisdiction,
		Status:       domain.OnboardingStatusPending,
		CreatedAt:    r.clock(),
		UpdatedAt:    r.clock(),
	}
	r.onboardings[o.ID] = o
	return o
}

func (r *memRepo) addIncorporation(onboardingID uuid.UUID, jurisdiction domain.Jurisdiction, status domain.IncorporationStatus, details map[string]interface{}, updatedAt time.Time) domain.Incorporation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if details == nil {
		details = map[string]interface{}{}
	}
	inc := domain.Incorporation{
		ID:           uuid.New(),
		OnboardingID: onboardingID,
		Jurisdiction: jurisdiction,
		Status:       status,
		Details:      details,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
	r.incorporations[onboardingID] = inc
	return inc
}

func (r *memRepo) addOrder(o domain.Order) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	r.orders = append(r.orders, o)
	return o
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *memRepo) CreateOnboardingWithDraft(ctx context.Context, userID string, jurisdiction domain.Jurisdiction) (*domain.Onboarding, *domain.Incorporation, error) {
	o := r.addOnboarding(userID, jurisdiction)
	inc := r.addIncorporation(o.ID, jurisdiction, domain.IncorporationStatusDraft, nil, r.clock())
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	return &o, &inc, nil
}

func (r *memRepo) GetOnboardingByID(ctx context.Context, id uuid.UUID) (*domain.Onboarding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.onboardings[id]
	if !ok {
		return nil, store.ErrOnboardingNotFound
	}
	return &o, nil
}

func (r *memRepo) UpdateOnboardingKYC(ctx context.Context, id uuid.UUID, update domain.OnboardingUpdate) (*domain.Onboarding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.onboardings[id]
	if !ok {
		return nil, store.ErrOnboardingNotFound
	}
	if update.FullName != nil {
		o.FullName = update.FullName
	}
	if update.Nationality != nil {
		o.Nationality = update.Nationality
	}
	if update.DateOfBirth != nil {
		o.DateOfBirth = update.DateOfBirth
	}
	if update.ResidentialAddress != nil {
		o.ResidentialAddress = update.ResidentialAddress
	}
	if update.PhoneNumber != nil {
		o.PhoneNumber = update.PhoneNumber
	}
	if update.Occupation != nil {
		o.Occupation = update.Occupation
	}
	if update.SourceOfFunds != nil {
		o.SourceOfFunds = update.SourceOfFunds
	}
	if update.ProjectDescription != nil {
		o.ProjectDescription = update.ProjectDescription
	}
	r.onboardings[id] = o
	r.writes++
	return &o, nil
}

func (r *memRepo) SetOnboardingDocument(ctx context.Context, id uuid.UUID, kind domain.DocumentKind, path string) (*domain.Onboarding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.onboardings[id]
	if !ok {
		return nil, store.ErrOnboardingNotFound
	}
	p := path
	switch kind {
	case domain.DocumentPassport:
		o.PassportPath = &p
	case domain.DocumentProofOfAddress:
		o.ProofOfAddressPath = &p
	case domain.DocumentBankReference:
		o.BankReferencePath = &p
	}
	r.onboardings[id] = o
	r.writes++
	return &o, nil
}

func (r *memRepo) SetOnboardingStatus(ctx context.Context, id uuid.UUID, status domain.OnboardingStatus) (*domain.Onboarding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.onboardings[id]
	if !ok {
		return nil, store.ErrOnboardingNotFound
	}
	o.Status = status
	r.onboardings[id] = o
	r.writes++
	return &o, nil
}

func (r *memRepo) GetIncorporationByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Incorporation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incorporations[onboardingID]
	if !ok {
		return nil, store.ErrIncorporationNotFound
	}
	inc.Details = copyDetails(inc.Details)
	return &inc, nil
}

func (r *memRepo) CreateIncorporation(ctx context.Context, onboardingID uuid.UUID, jurisdiction domain.Jurisdiction, details map[string]interface{}) (*domain.Incorporation, error) {
	r.mu.Lock()
	if existing, ok := r.incorporations[onboardingID]; ok {
		r.mu.Unlock()
		existing.Details = copyDetails(existing.Details)
		return &existing, nil
	}
	r.writes++
	r.mu.Unlock()
	inc := r.addIncorporation(onboardingID, jurisdiction, domain.IncorporationStatusDraft, copyDetails(details), r.clock())
	return &inc, nil
}

func (r *memRepo) UpdateIncorporation(ctx context.Context, inc *domain.Incorporation) (*domain.Incorporation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incorporations[inc.OnboardingID]; !ok {
		return nil, store.ErrIncorporationNotFound
	}
	updated := *inc
	updated.Details = copyDetails(inc.Details)
	updated.UpdatedAt = r.clock()
	r.incorporations[inc.OnboardingID] = updated
	r.writes++
	out := updated
	out.Details = copyDetails(updated.Details)
	return &out, nil
}

func (r *memRepo) GetLatestIncorporationByUserID(ctx context.Context, userID string) (*domain.Incorporation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []domain.Incorporation
	for _, inc := range r.incorporations {
		if r.onboardings[inc.OnboardingID].UserID == userID {
			candidates = append(candidates, inc)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrIncorporationNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID.String() > candidates[j].ID.String()
	})
	latest := candidates[0]
	return &latest, nil
}

func (r *memRepo) GetPendingOrderByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OnboardingID == onboardingID && o.Status == domain.OrderStatusPendingPayment {
			out := o
			return &out, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (r *memRepo) CreatePendingOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if r.beforeCreate != nil {
		hook := r.beforeCreate
		r.beforeCreate = nil
		hook(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OnboardingID == order.OnboardingID && o.Status == domain.OrderStatusPendingPayment {
			return nil, store.ErrPendingOrderExists
		}
		if o.OrderCode == order.OrderCode {
			return nil, store.ErrOrderCodeTaken
		}
	}
	order.ID = uuid.New()
	order.Status = domain.OrderStatusPendingPayment
	order.CreatedAt = r.clock()
	order.UpdatedAt = r.clock()
	r.orders = append(r.orders, order)
	r.writes++
	out := order
	return &out, nil
}

func (r *memRepo) CountOrdersCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, o := range r.orders {
		if !o.CreatedAt.Before(start) && o.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) MarkOrderPaid(ctx context.Context, onboardingID uuid.UUID, paidAt time.Time) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.orders {
		if o.OnboardingID == onboardingID && o.Status == domain.OrderStatusPendingPayment {
			at := paidAt
			r.orders[i].Status = domain.OrderStatusPaid
			r.orders[i].PaidAt = &at
			r.writes++
			out := r.orders[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memRepo) TouchOrderNotified(ctx context.Context, orderID uuid.UUID, notifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	for i, o := range r.orders {
		if o.ID == orderID {
			at := notifiedAt
			r.orders[i].LastNotifiedAt = &at
			r.touched = append(r.touched, orderID)
			r.writes++
			return nil
		}
	}
	return store.ErrOrderNotFound
}

func (r *memRepo) FillOrderNotifyEmail(ctx context.Context, orderID uuid.UUID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.orders {
		if o.ID == orderID {
			if o.NotifyEmail == "" {
				r.orders[i].NotifyEmail = email
				r.writes++
			}
			return nil
		}
	}
	return store.ErrOrderNotFound
}

func (r *memRepo) ListStalePendingOrders(ctx context.Context, notifiedBefore time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status != domain.OrderStatusPendingPayment {
			continue
		}
		if o.LastNotifiedAt == nil || o.LastNotifiedAt.Before(notifiedBefore) {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) UpsertProspect(ctx context.Context, p domain.Prospect) (*domain.Prospect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.prospects {
		if existing.UserID == p.UserID && existing.Jurisdiction == p.Jurisdiction && existing.NormalizedName == p.NormalizedName {
			r.prospects[i].CompanyName = p.CompanyName
			out := r.prospects[i]
			return &out, nil
		}
	}
	p.ID = uuid.New()
	r.prospects = append(r.prospects, p)
	return &p, nil
}

func (r *memRepo) ListProspectsByUserID(ctx context.Context, userID string, limit int) ([]domain.Prospect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Prospect{}
	for _, p := range r.prospects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []string
	bodies []interface{}
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	p.bodies = append(p.bodies, body)
	return p.err
}

type notifierStub struct {
	mu     sync.Mutex
	sent   []notify.Message
	result notify.Result
	err    error
}

func (n *notifierStub) Send(ctx context.Context, msg notify.Message) (notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.result, n.err
}

func newTestService(repo *memRepo) (*Service, *publisherStub, *notifierStub) {
	publisher := &publisherStub{}
	notifier := &notifierStub{result: notify.Result{OK: true, Simulated: true}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, publisher, notifier, logger, Options{
		EventsExchange: "incorporation_events",
		AppBaseURL:     "https://app.scg.test",
	})
	svc.now = func() time.Time { return testNow }
	return svc, publisher, notifier
}

func completeDetails(j domain.Jurisdiction) map[string]interface{} {
	details := map[string]interface{}{}
	for _, field := range domain.RequiredIncorporationFields(j) {
		details[field] = "provided"
	}
	details["companyNames"] = []interface{}{"Acme Holdings Ltd"}
	details["shareholders"] = []interface{}{map[string]interface{}{"name": "Jane Doe", "shares": 100}}
	details["declarations"] = true
	return details
}
