package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "vidnet"

// Metrics holds the business counters exported on /metrics
type Metrics struct {
	commissions      *prometheus.CounterVec
	commissionAmount prometheus.Counter
	payments         *prometheus.CounterVec
	votingsStarted   prometheus.Counter
	votesCast        prometheus.Counter
	expulsions       prometheus.Counter
	votingsExpired   prometheus.Counter
}

// New creates the counters and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commissions_total",
			Help:      "Commissions paid, by level.",
		}, []string{"level"}),
		commissionAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_amount_total",
			Help:      "Total commission amount paid in USD.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Completed membership payments, by currency.",
		}, []string{"currency"}),
		votingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votings_started_total",
			Help:      "Expulsion votings started.",
		}),
		votesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Votes cast in expulsion votings.",
		}),
		expulsions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expulsions_total",
			Help:      "Users expelled by voting.",
		}),
		votingsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votings_expired_total",
			Help:      "Votings failed by the expiry sweep.",
		}),
	}

	reg.MustRegister(
		m.commissions,
		m.commissionAmount,
		m.payments,
		m.votingsStarted,
		m.votesCast,
		m.expulsions,
		m.votingsExpired,
	)
	return m
}

// NewUnregistered returns counters that are not exported anywhere
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// CommissionPaid records one commission
func (m *Metrics) CommissionPaid(level int, amount decimal.Decimal) {
	m.commissions.WithLabelValues(strconv.Itoa(level)).Inc()
	m.commissionAmount.Add(amount.InexactFloat64())
}

// PaymentCompleted records one completed payment
func (m *Metrics) PaymentCompleted(currency string) {
	m.payments.WithLabelValues(currency).Inc()
}

// VotingStarted records a new voting
func (m *Metrics) VotingStarted() {
	m.votingsStarted.Inc()
}

// VoteCast records a vote
func (m *Metrics) VoteCast() {
	m.votesCast.Inc()
}

// UserExpelled records an expulsion
func (m *Metrics) UserExpelled() {
	m.expulsions.Inc()
}

// VotingsExpired records votings failed by the sweep
func (m *Metrics) VotingsExpired(n int) {
	m.votingsExpired.Add(float64(n))
}
