/**
 * @description
 * Outbound email dispatch. A Dispatcher delivers through a configured
 * transport, or logs the message and reports it as simulated when no
 * transport is configured.
 */
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Message is a single HTML email.
type Message struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Result reports what happened to a message.
type Result struct {
	OK        bool `json:"ok"`
	Simulated bool `json:"simulated"`
}

// Transport delivers a message for real.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher sends email through an optional transport.
type Dispatcher struct {
	transport   Transport
	defaultFrom string
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil transport puts it in simulation mode.
func NewDispatcher(transport Transport, defaultFrom string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: transport, defaultFrom: defaultFrom, logger: logger}
}

// Simulated reports whether the dispatcher only logs messages.
func (d *Dispatcher) Simulated() bool {
	return d.transport == nil
}

// Send delivers msg. Missing configuration is never an error: the message is
// logged and {OK: true, Simulated: true} is returned. A delivery failure yields
// {OK: false} together with the transport error.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if strings.TrimSpace(msg.From) == "" {
		msg.From = d.defaultFrom
	}
	if strings.TrimSpace(msg.To) == "" {
		return Result{OK: false}, errors.New("email recipient is empty")
	}

	if d.transport == nil {
		d.logger.Info("email transport not configured; simulating send",
			"to", msg.To,
			"from", msg.From,
			"subject", msg.Subject,
			"html", msg.HTML,
		)
		return Result{OK: true, Simulated: true}, nil
	}

	if err := d.transport.Deliver(ctx, msg); err != nil {
		d.logger.Warn("email delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return Result{OK: false}, err
	}

	d.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return Result{OK: true}, nil
}
