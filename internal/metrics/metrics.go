// Package metrics exposes Prometheus counters for the agent runtime.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the agent counters. A nil *Metrics is safe to use; every
// method no-ops, so components can take metrics optionally.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsEnded     prometheus.Counter
	repliesDelivered  prometheus.Counter
	strategyFailures  *prometheus.CounterVec
	provisionOutcomes *prometheus.CounterVec
	tasksProcessed    *prometheus.CounterVec
}

// New creates and registers the agent counters on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keith_sessions_started_total",
			Help: "Conversations started.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keith_sessions_ended_total",
			Help: "Conversations torn down.",
		}),
		repliesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keith_replies_delivered_total",
			Help: "Text replies delivered to the transport.",
		}),
		strategyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keith_retrieval_strategy_failures_total",
			Help: "Retrieval strategies that degraded to an empty contribution.",
		}, []string{"strategy"}),
		provisionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keith_provision_outcomes_total",
			Help: "Settled provisioning attempts by status.",
		}, []string{"status"}),
		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keith_tasks_processed_total",
			Help: "Queue tasks processed by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsEnded,
		m.repliesDelivered,
		m.strategyFailures,
		m.provisionOutcomes,
		m.tasksProcessed,
	)

	return m
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.sessionsEnded.Inc()
	}
}

func (m *Metrics) ReplyDelivered() {
	if m != nil {
		m.repliesDelivered.Inc()
	}
}

// StrategyFailed satisfies retrieval.StrategyFailureCounter.
func (m *Metrics) StrategyFailed(strategy string) {
	if m != nil {
		m.strategyFailures.WithLabelValues(strategy).Inc()
	}
}

// ProvisionSettled satisfies provision.OutcomeCounter.
func (m *Metrics) ProvisionSettled(status string) {
	if m != nil {
		m.provisionOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TaskProcessed(outcome string) {
	if m != nil {
		m.tasksProcessed.WithLabelValues(outcome).Inc()
	}
}

// Serve starts the /metrics HTTP endpoint and blocks until the context is
// canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if m == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics server listening", zap.String("addr", addr))
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
