package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scg/incorporation-service/internal/domain"
	"github.com/scg/incorporation-service/internal/notify"
)

func TestEnsurePendingOrder_IsIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc, publisher, notifier := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionCayman)
	identity := domain.Identity{UserID: "user_1", Email: "client@example.com"}

	first, err := svc.EnsurePendingOrder(context.Background(), identity, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("first EnsurePendingOrder returned error: %v", err)
	}
	second, err := svc.EnsurePendingOrder(context.Background(), identity, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("second EnsurePendingOrder returned error: %v", err)
	}

	if first.Order.ID != second.Order.ID {
		t.Fatalf("expected the same order on repeated calls, got %s and %s", first.Order.ID, second.Order.ID)
	}
	if !first.Created || second.Created {
		t.Fatalf("expected created=true then false, got %v then %v", first.Created, second.Created)
	}
	if got := repo.orderCount(); got != 1 {
		t.Fatalf("expected exactly one order, got %d", got)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected the payment email on every call, got %d sends", len(notifier.sent))
	}
	if len(repo.touched) != 2 {
		t.Fatalf("expected last_notified_at stamped on every call, got %d", len(repo.touched))
	}
	if len(publisher.events) != 1 || publisher.events[0] != RoutingKeyOrderPendingPayment {
		t.Fatalf("expected a single pending_payment event, got %v", publisher.events)
	}
	if first.Order.Jurisdiction != domain.JurisdictionCayman {
		t.Fatalf("expected onboarding jurisdiction on order, got %s", first.Order.Jurisdiction)
	}
}

func TestEnsurePendingOrder_FillsMissingNotifyEmail(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)

	first, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1"}, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Order.NotifyEmail != "" {
		t.Fatalf("expected no address on the new order, got %q", first.Order.NotifyEmail)
	}

	identity := domain.Identity{UserID: "user_1", Email: "client@example.com"}
	second, err := svc.EnsurePendingOrder(context.Background(), identity, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Order.NotifyEmail != "client@example.com" {
		t.Fatalf("expected the address to be filled in, got %q", second.Order.NotifyEmail)
	}

	other := domain.Identity{UserID: "user_1", Email: "other@example.com"}
	if _, err := svc.EnsurePendingOrder(context.Background(), other, EnsureOrderRequest{OnboardingID: onboarding.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale, err := repo.ListStalePendingOrders(context.Background(), testNow.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].NotifyEmail != "client@example.com" {
		t.Fatalf("expected the first address to be kept for reminders, got %+v", stale)
	}
}

func TestEnsurePendingOrder_DefaultPricingURL(t *testing.T) {
	repo := newMemRepo()
	svc, _, notifier := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)

	result, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1", Email: "client@example.com"}, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "/pricing?onboardingId=" + onboarding.ID.String()
	if result.PricingURL != want {
		t.Fatalf("expected pricing URL %q, got %q", want, result.PricingURL)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0].HTML, "https://app.scg.test"+want) {
		t.Fatal("expected the email to link to the absolute pricing URL")
	}
	if notifier.sent[0].To != "client@example.com" {
		t.Fatalf("expected email to the caller, got %q", notifier.sent[0].To)
	}
}

func TestEnsurePendingOrder_KeepsSuppliedPricingURL(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)

	result, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1"}, EnsureOrderRequest{
		OnboardingID: onboarding.ID,
		PricingURL:   "https://pay.scg.test/checkout/42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PricingURL != "https://pay.scg.test/checkout/42" {
		t.Fatalf("expected supplied pricing URL, got %q", result.PricingURL)
	}
}

func TestEnsurePendingOrder_OwnershipCheckedBeforeMutation(t *testing.T) {
	tests := []struct {
		name     string
		identity domain.Identity
		useOwned bool
		wantErr  error
	}{
		{name: "foreign onboarding", identity: domain.Identity{UserID: "intruder"}, useOwned: true, wantErr: ErrForbidden},
		{name: "no session", identity: domain.Identity{}, useOwned: true, wantErr: ErrUnauthenticated},
		{name: "unknown onboarding", identity: domain.Identity{UserID: "user_1"}, useOwned: false, wantErr: ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemRepo()
			svc, publisher, notifier := newTestService(repo)
			onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)
			id := onboarding.ID
			if !tc.useOwned {
				id = uuid.New()
			}

			_, err := svc.EnsurePendingOrder(context.Background(), tc.identity, EnsureOrderRequest{OnboardingID: id})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if repo.orderCount() != 0 || repo.writes != 0 {
				t.Fatalf("expected no writes, got %d orders and %d writes", repo.orderCount(), repo.writes)
			}
			if len(notifier.sent) != 0 || len(publisher.events) != 0 {
				t.Fatal("expected no side effects when the ownership check fails")
			}
		})
	}
}

func TestEnsurePendingOrder_NotificationFailureIsTolerated(t *testing.T) {
	repo := newMemRepo()
	svc, _, notifier := newTestService(repo)
	notifier.result = notify.Result{OK: false}
	notifier.err = errors.New("smtp relay unavailable")
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionPanama)

	result, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1", Email: "client@example.com"}, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("expected notification failure to be swallowed, got %v", err)
	}
	if result.Order == nil {
		t.Fatal("expected the order to be returned")
	}
	if result.Notification.OK {
		t.Fatal("expected the failed notification to be reported as not ok")
	}
	if result.Order.LastNotifiedAt == nil || !result.Order.LastNotifiedAt.Equal(testNow) {
		t.Fatalf("expected last_notified_at to be stamped, got %v", result.Order.LastNotifiedAt)
	}
	if len(repo.touched) != 1 {
		t.Fatalf("expected one notification stamp, got %d", len(repo.touched))
	}
}

func TestEnsurePendingOrder_ReturnsWinnerOfConcurrentCreate(t *testing.T) {
	repo := newMemRepo()
	svc, publisher, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)

	var winner domain.Order
	repo.beforeCreate = func(r *memRepo) {
		winner = r.addOrder(domain.Order{
			UserID:       "user_1",
			OnboardingID: onboarding.ID,
			Jurisdiction: domain.JurisdictionBVI,
			OrderCode:    "SCG-BVI-20240301-0001",
			Status:       domain.OrderStatusPendingPayment,
			CreatedAt:    testNow,
		})
	}

	result, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1"}, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Order.ID != winner.ID {
		t.Fatalf("expected the concurrent winner %s, got %s", winner.ID, result.Order.ID)
	}
	if result.Created {
		t.Fatal("expected created=false when another request won")
	}
	if repo.orderCount() != 1 {
		t.Fatalf("expected one order, got %d", repo.orderCount())
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no creation event from the losing request, got %v", publisher.events)
	}
}

func TestEnsurePendingOrder_RegeneratesCollidingCode(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)
	other := repo.addOnboarding("user_2", domain.JurisdictionBVI)

	// One order today yields sequence 0002, which is already taken by a
	// code issued out of band.
	repo.addOrder(domain.Order{OnboardingID: other.ID, OrderCode: "SCG-BVI-20240301-0002", Status: domain.OrderStatusPaid, CreatedAt: testNow})

	result, err := svc.EnsurePendingOrder(context.Background(), domain.Identity{UserID: "user_1"}, EnsureOrderRequest{OnboardingID: onboarding.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Order.OrderCode != "SCG-BVI-20240301-0003" {
		t.Fatalf("expected regenerated code SCG-BVI-20240301-0003, got %s", result.Order.OrderCode)
	}
}

func TestGenerateOrderCode(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)

	repo.addOrder(domain.Order{OrderCode: "SCG-BVI-20240229-0009", CreatedAt: time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC)})
	for i := 0; i < 3; i++ {
		repo.addOrder(domain.Order{OrderCode: uuid.NewString(), CreatedAt: testNow.Add(-time.Duration(i) * time.Hour)})
	}
	repo.addOrder(domain.Order{OrderCode: "SCG-BVI-20240302-0001", CreatedAt: time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)})

	tests := []struct {
		jurisdiction domain.Jurisdiction
		want         string
	}{
		{domain.JurisdictionCayman, "SCG-CAYMAN-20240301-0004"},
		{domain.JurisdictionHongKong, "SCG-HONGKONG-20240301-0004"},
		{domain.Jurisdiction(""), "SCG-BVI-20240301-0004"},
	}

	for _, tc := range tests {
		got, err := svc.GenerateOrderCode(context.Background(), tc.jurisdiction)
		if err != nil {
			t.Fatalf("GenerateOrderCode returned error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestMarkOrderPaid_NoPendingOrderWritesNothing(t *testing.T) {
	repo := newMemRepo()
	svc, publisher, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)

	order, err := svc.MarkOrderPaid(context.Background(), domain.Identity{UserID: "user_1"}, onboarding.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil order, got %+v", order)
	}
	if repo.writes != 0 {
		t.Fatalf("expected no writes, got %d", repo.writes)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %v", publisher.events)
	}
}

func TestMarkOrderPaid_PaysOrderAndAdvancesIncorporation(t *testing.T) {
	repo := newMemRepo()
	svc, publisher, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionSingapore)
	repo.addIncorporation(onboarding.ID, domain.JurisdictionSingapore, domain.IncorporationStatusSubmitted, nil, testNow)
	repo.addOrder(domain.Order{
		UserID:       "user_1",
		OnboardingID: onboarding.ID,
		OrderCode:    "SCG-SINGAPORE-20240301-0001",
		Status:       domain.OrderStatusPendingPayment,
		CreatedAt:    testNow,
	})

	order, err := svc.MarkOrderPaid(context.Background(), domain.Identity{UserID: "user_1"}, onboarding.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order == nil || order.Status != domain.OrderStatusPaid || order.PaidAt == nil {
		t.Fatalf("expected a paid order, got %+v", order)
	}

	inc, _ := repo.GetIncorporationByOnboardingID(context.Background(), onboarding.ID)
	if inc.Status != domain.IncorporationStatusPaid {
		t.Fatalf("expected incorporation to advance to paid, got %s", inc.Status)
	}
	if len(publisher.events) != 1 || publisher.events[0] != RoutingKeyOrderPaid {
		t.Fatalf("expected order.paid event, got %v", publisher.events)
	}

	again, err := svc.MarkOrderPaid(context.Background(), domain.Identity{UserID: "user_1"}, onboarding.ID)
	if err != nil || again != nil {
		t.Fatalf("expected second call to be a no-op, got %+v, %v", again, err)
	}
}

func TestMarkOrderPaid_ForeignOnboardingIsForbidden(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newTestService(repo)
	onboarding := repo.addOnboarding("user_1", domain.JurisdictionBVI)
	repo.addOrder(domain.Order{UserID: "user_1", OnboardingID: onboarding.ID, OrderCode: "SCG-BVI-20240301-0001", Status: domain.OrderStatusPendingPayment})

	if _, err := svc.MarkOrderPaid(context.Background(), domain.Identity{UserID: "intruder"}, onboarding.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	pending, err := repo.GetPendingOrderByOnboardingID(context.Background(), onboarding.ID)
	if err != nil || pending == nil {
		t.Fatalf("expected order to remain pending, got %v", err)
	}
}
