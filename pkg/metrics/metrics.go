package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationEvents counts invitation lifecycle transitions (sent|resent|accepted|revoked|expired).
	InvitationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promogate_invitation_events_total",
			Help: "Total number of invitation lifecycle events",
		},
		[]string{"event"},
	)

	// SMSCodesSent counts dispatched verification codes by purpose.
	SMSCodesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promogate_sms_codes_sent_total",
			Help: "Total number of SMS verification codes sent",
		},
		[]string{"purpose"},
	)

	// StepUpChallenges counts step-up verification outcomes (cached|challenged|completed|cancelled|expired).
	StepUpChallenges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promogate_stepup_challenges_total",
			Help: "Total number of step-up verification outcomes",
		},
		[]string{"outcome"},
	)

	// AccessDecisions counts access evaluations and their outcome (allow|deny|step_up|error).
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promogate_access_decisions_total",
			Help: "Total number of access decisions",
		},
		[]string{"action", "result"},
	)

	// ActiveSessions tracks active stakeholder sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promogate_active_sessions",
			Help: "Number of active stakeholder sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promogate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
