package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scg/incorporation-service/internal/domain"
)

// newTestRepository connects to STORE_TEST_DATABASE_URL and applies the schema.
// Tests that need it are skipped when the variable is unset.
func newTestRepository(t *testing.T) (*PostgresRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("STORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STORE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return repo, pool
}

func createTestOnboarding(t *testing.T, repo *PostgresRepository, pool *pgxpool.Pool) *domain.Onboarding {
	t.Helper()

	ctx := context.Background()
	onboarding, _, err := repo.CreateOnboardingWithDraft(ctx, "user_"+uuid.NewString(), domain.JurisdictionCayman)
	if err != nil {
		t.Fatalf("failed to create onboarding: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM orders WHERE onboarding_id = $1`, onboarding.ID)
		pool.Exec(ctx, `DELETE FROM incorporations WHERE onboarding_id = $1`, onboarding.ID)
		pool.Exec(ctx, `DELETE FROM onboardings WHERE id = $1`, onboarding.ID)
	})
	return onboarding
}

func TestCreatePendingOrder_MapsUniqueIndexes(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()
	onboarding := createTestOnboarding(t, repo, pool)
	other := createTestOnboarding(t, repo, pool)

	code := "SCG-CAYMAN-TEST-" + uuid.NewString()[:8]
	first, err := repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       onboarding.UserID,
		OnboardingID: onboarding.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    code,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", first.Status)
	}

	_, err = repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       onboarding.UserID,
		OnboardingID: onboarding.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    code + "-2",
	})
	if !errors.Is(err, ErrPendingOrderExists) {
		t.Fatalf("expected ErrPendingOrderExists, got %v", err)
	}

	_, err = repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       other.UserID,
		OnboardingID: other.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    code,
	})
	if !errors.Is(err, ErrOrderCodeTaken) {
		t.Fatalf("expected ErrOrderCodeTaken, got %v", err)
	}
}

func TestCountOrdersCreatedBetween_IsHalfOpen(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()
	onboarding := createTestOnboarding(t, repo, pool)

	order, err := repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       onboarding.UserID,
		OnboardingID: onboarding.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    "SCG-CAYMAN-TEST-" + uuid.NewString()[:8],
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day := time.Date(1999, time.January, 2, 0, 0, 0, 0, time.UTC)
	if _, err := pool.Exec(ctx, `UPDATE orders SET created_at = $2 WHERE id = $1`, order.ID, day); err != nil {
		t.Fatalf("failed to backdate order: %v", err)
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{name: "day containing the order", start: day, end: day.AddDate(0, 0, 1), want: 1},
		{name: "previous day excludes its end", start: day.AddDate(0, 0, -1), end: day, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.CountOrdersCreatedBetween(ctx, tc.start, tc.end)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestMarkOrderPaid_NoPendingOrderReturnsNil(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()
	onboarding := createTestOnboarding(t, repo, pool)

	order, err := repo.MarkOrderPaid(ctx, onboarding.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil order, got %+v", order)
	}

	if _, err := repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       onboarding.UserID,
		OnboardingID: onboarding.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    "SCG-CAYMAN-TEST-" + uuid.NewString()[:8],
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paid, err := repo.MarkOrderPaid(ctx, onboarding.ID, time.Now().UTC())
	if err != nil || paid == nil || paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected the pending order to be paid, got %+v, %v", paid, err)
	}
	again, err := repo.MarkOrderPaid(ctx, onboarding.ID, time.Now().UTC())
	if err != nil || again != nil {
		t.Fatalf("expected a second call to find nothing pending, got %+v, %v", again, err)
	}
}

func TestFillOrderNotifyEmail_KeepsExistingAddress(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()
	onboarding := createTestOnboarding(t, repo, pool)

	order, err := repo.CreatePendingOrder(ctx, domain.Order{
		UserID:       onboarding.UserID,
		OnboardingID: onboarding.ID,
		Jurisdiction: domain.JurisdictionCayman,
		OrderCode:    "SCG-CAYMAN-TEST-" + uuid.NewString()[:8],
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.FillOrderNotifyEmail(ctx, order.ID, "first@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.FillOrderNotifyEmail(ctx, order.ID, "second@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetPendingOrderByOnboardingID(ctx, onboarding.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.NotifyEmail != "first@example.com" {
		t.Fatalf("expected first@example.com, got %q", got.NotifyEmail)
	}
}
