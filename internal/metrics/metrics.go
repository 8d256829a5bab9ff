package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeSimulated = "simulated"
	OutcomeFailed    = "failed"
)

// Metrics holds the order lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	OrdersCreated       *prometheus.CounterVec
	OrdersPaid          *prometheus.CounterVec
	PaymentEmails       *prometheus.CounterVec
	OrderCodeCollisions prometheus.Counter
	ReminderBatchSize   prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scg_orders_created_total",
			Help: "Total number of pending payment orders created",
		}, []string{"jurisdiction"}),
		OrdersPaid: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scg_orders_paid_total",
			Help: "Total number of orders marked as paid",
		}, []string{"jurisdiction"}),
		PaymentEmails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scg_payment_emails_total",
			Help: "Payment emails dispatched, by outcome",
		}, []string{"outcome"}),
		OrderCodeCollisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "scg_order_code_collisions_total",
			Help: "Order code collisions that forced a regeneration",
		}),
		ReminderBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scg_payment_reminder_batch_size",
			Help:    "Number of stale pending orders evaluated per reminder sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}
}

func (m *Metrics) IncrementOrdersCreated(jurisdiction string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(jurisdiction).Inc()
}

func (m *Metrics) IncrementOrdersPaid(jurisdiction string) {
	if m == nil {
		return
	}
	m.OrdersPaid.WithLabelValues(jurisdiction).Inc()
}

func (m *Metrics) IncrementPaymentEmails(outcome string) {
	if m == nil {
		return
	}
	m.PaymentEmails.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementOrderCodeCollisions() {
	if m == nil {
		return
	}
	m.OrderCodeCollisions.Inc()
}

func (m *Metrics) ObserveReminderBatch(size int) {
	if m == nil {
		return
	}
	m.ReminderBatchSize.Observe(float64(size))
}
