package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReminderResult summarizes a payment reminder sweep.
type ReminderResult struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Simulated int `json:"simulated"`
	Failed    int `json:"failed"`
}

// SendPaymentReminders re-sends the payment email for pending orders whose
// last notification is older than staleAfter. Every evaluated order gets its
// last_notified_at stamped, whatever the dispatch outcome.
func (s *Service) SendPaymentReminders(ctx context.Context, staleAfter time.Duration, limit int) (*ReminderResult, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := s.now().UTC().Add(-staleAfter)

	orders, err := s.repo.ListStalePendingOrders(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReminderBatch(len(orders))

	var mu sync.Mutex
	result := &ReminderResult{Evaluated: len(orders)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.reminderConcurrency)
	for i := range orders {
		order := &orders[i]
		g.Go(func() error {
			if order.NotifyEmail == "" {
				s.logger.Warn("pending order has no notification address", "order_id", order.ID)
			}

			companyName := s.companyNameFor(gctx, order.OnboardingID)
			sent := s.notifyPayment(gctx, order, order.NotifyEmail, companyName, pricingPath(order.OnboardingID))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case !sent.OK:
				result.Failed++
			case sent.Simulated:
				result.Simulated++
			default:
				result.Sent++
			}
			return nil
		})
	}
	// Dispatch failures are counted, never returned, so Wait only reports nil.
	_ = g.Wait()

	s.logger.Info("payment reminder sweep finished",
		"evaluated", result.Evaluated,
		"sent", result.Sent,
		"simulated", result.Simulated,
		"failed", result.Failed,
	)
	return result, nil
}
