/**
 * @description
 * Scheduled job implementations for the incorporation scheduler.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/scg/incorporation-service/pkg/incorporationclient"
)

const jobTimeout = 2 * time.Minute

// IncorporationClient triggers sweeps on the incorporation API.
type IncorporationClient interface {
	RunPaymentReminders(ctx context.Context) (*incorporationclient.ReminderSummary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	client IncorporationClient
	logger *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(client IncorporationClient, logger *slog.Logger) *Jobs {
	return &Jobs{client: client, logger: logger}
}

// SendPaymentReminders asks the API to re-send payment emails for stale pending orders.
func (j *Jobs) SendPaymentReminders() {
	j.logger.Info("starting payment reminder job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	summary, err := j.client.RunPaymentReminders(ctx)
	if err != nil {
		j.logger.Error("failed to run payment reminders", "error", err)
		return
	}

	if summary.Failed > 0 {
		j.logger.Warn("some payment reminders failed", "failed", summary.Failed, "evaluated", summary.Evaluated)
	}
	j.logger.Info("payment reminder job finished",
		"evaluated", summary.Evaluated,
		"sent", summary.Sent,
		"simulated", summary.Simulated,
		"failed", summary.Failed,
	)
}
