package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/scg/incorporation-service/internal/domain"
)

const orderColumns = `
	id, user_id, onboarding_id, jurisdiction, order_code, status,
	COALESCE(notify_email, ''), last_notified_at, paid_at, created_at, updated_at
`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.OnboardingID,
		&o.Jurisdiction,
		&o.OrderCode,
		&o.Status,
		&o.NotifyEmail,
		&o.LastNotifiedAt,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetPendingOrderByOnboardingID returns the pending_payment order for an onboarding.
func (r *PostgresRepository) GetPendingOrderByOnboardingID(ctx context.Context, onboardingID uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE onboarding_id = $1 AND status = $2`
	return scanOrder(r.db.QueryRow(ctx, query, onboardingID, domain.OrderStatusPendingPayment))
}

// CreatePendingOrder inserts a pending_payment order. It returns
// ErrPendingOrderExists when another pending order for the onboarding won the
// race, and ErrOrderCodeTaken when the generated code collided.
func (r *PostgresRepository) CreatePendingOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	query := `
		INSERT INTO orders (id, user_id, onboarding_id, jurisdiction, order_code, status, notify_email)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING ` + orderColumns
	created, err := scanOrder(r.db.QueryRow(ctx, query,
		uuid.New(),
		order.UserID,
		order.OnboardingID,
		order.Jurisdiction,
		order.OrderCode,
		domain.OrderStatusPendingPayment,
		order.NotifyEmail,
	))
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintOnePendingOrder:
				return nil, ErrPendingOrderExists
			case constraintOrderCodeUnique:
				return nil, ErrOrderCodeTaken
			}
		}
		return nil, err
	}
	return created, nil
}

// CountOrdersCreatedBetween counts orders created in [start, end).
func (r *PostgresRepository) CountOrdersCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	).Scan(&count)
	return count, err
}

// MarkOrderPaid moves the pending order of an onboarding to paid. When no
// pending order exists nothing is written and (nil, nil) is returned.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, onboardingID uuid.UUID, paidAt time.Time) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET status = $3, paid_at = $4, updated_at = NOW()
		WHERE onboarding_id = $1 AND status = $2
		RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRow(ctx, query,
		onboardingID, domain.OrderStatusPendingPayment, domain.OrderStatusPaid, paidAt))
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	return order, err
}

// TouchOrderNotified records when the payment email was last dispatched.
func (r *PostgresRepository) TouchOrderNotified(ctx context.Context, orderID uuid.UUID, notifiedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET last_notified_at = $2, updated_at = NOW() WHERE id = $1`,
		orderID, notifiedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FillOrderNotifyEmail stores the notification address on an order that has
// none. An order that already carries one is left untouched.
func (r *PostgresRepository) FillOrderNotifyEmail(ctx context.Context, orderID uuid.UUID, email string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET notify_email = $2, updated_at = NOW()
		 WHERE id = $1 AND COALESCE(notify_email, '') = ''`,
		orderID, email,
	)
	return err
}

// ListStalePendingOrders returns pending orders that were never notified or
// were last notified before the cutoff, oldest first.
func (r *PostgresRepository) ListStalePendingOrders(ctx context.Context, notifiedBefore time.Time, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		  AND (last_notified_at IS NULL OR last_notified_at < $2)
		ORDER BY COALESCE(last_notified_at, created_at) ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, domain.OrderStatusPendingPayment, notifiedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
