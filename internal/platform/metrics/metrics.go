// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine implements task.Metrics on a private Prometheus registry so tests
// can create many instances without duplicate-registration panics.
type Engine struct {
	registry *prometheus.Registry

	stateChanges   *prometheus.CounterVec
	retries        *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	lockContention *prometheus.CounterVec
}

var _ task.Metrics = (*Engine)(nil)

// NewEngine creates the collectors and registers them. depths, when
// non-nil, is polled on scrape to report per-lane queue depth.
func NewEngine(depths func() map[domain.QueueName]int) *Engine {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := &Engine{
		registry: registry,
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_task_state_changes_total",
			Help: "Number of task lifecycle transitions, labeled by resulting state.",
		}, []string{"state"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_task_retries_total",
			Help: "Number of task retries scheduled, labeled by queue lane.",
		}, []string{"queue"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_task_timeouts_total",
			Help: "Number of task executions cut off at the hard timeout, labeled by queue lane.",
		}, []string{"queue"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_conversation_lock_contention_total",
			Help: "Number of dequeues deferred because the conversation lock was held, labeled by queue lane.",
		}, []string{"queue"}),
	}

	registry.MustRegister(e.stateChanges, e.retries, e.timeouts, e.lockContention)

	if depths != nil {
		for _, lane := range []domain.QueueName{
			domain.QueueConversations,
			domain.QueueWebhooks,
			domain.QueueAnalytics,
		} {
			lane := lane
			registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "engage_queue_depth",
				Help:        "Number of tasks waiting in the lane.",
				ConstLabels: prometheus.Labels{"queue": string(lane)},
			}, func() float64 {
				return float64(depths()[lane])
			}))
		}
	}

	return e
}

// TaskStateChanged implements task.Metrics.
func (e *Engine) TaskStateChanged(state domain.TaskState) {
	e.stateChanges.WithLabelValues(string(state)).Inc()
}

// TaskRetried implements task.Metrics.
func (e *Engine) TaskRetried(queue domain.QueueName) {
	e.retries.WithLabelValues(string(queue)).Inc()
}

// TaskTimedOut implements task.Metrics.
func (e *Engine) TaskTimedOut(queue domain.QueueName) {
	e.timeouts.WithLabelValues(string(queue)).Inc()
}

// LockContended implements task.Metrics.
func (e *Engine) LockContended(queue domain.QueueName) {
	e.lockContention.WithLabelValues(string(queue)).Inc()
}

// Handler returns the scrape endpoint for this engine's registry.
func (e *Engine) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
