package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Interaction outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeIgnored      = "ignored"
	OutcomeUnauthorized = "unauthorized"
	OutcomeValidation   = "validation"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
	OutcomeTimeout      = "timeout"
	OutcomePanic        = "panic"
)

// Collector holds all Prometheus metrics for the bot.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	Interactions        *prometheus.CounterVec
	InteractionDuration *prometheus.HistogramVec
	LedgerMutations     *prometheus.CounterVec
	WebhookUpdates      *prometheus.CounterVec
}

// NewCollector creates the metrics on a private registry, so several
// collectors can coexist in tests.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	interactions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Total number of processed interactions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interaction_duration_seconds",
			Help:      "Time spent processing one interaction",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	mutations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Accounts created, accounts renamed and transactions recorded",
		},
		[]string{"op"},
	)

	updates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_updates_total",
			Help:      "Webhook requests received, by decode result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		interactions,
		duration,
		mutations,
		updates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:            registry,
		Interactions:        interactions,
		InteractionDuration: duration,
		LedgerMutations:     mutations,
		WebhookUpdates:      updates,
	}
}

// ObserveInteraction records one finished interaction.
func (c *Collector) ObserveInteraction(kind, outcome string, elapsed time.Duration) {
	c.Interactions.WithLabelValues(kind, outcome).Inc()
	c.InteractionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
