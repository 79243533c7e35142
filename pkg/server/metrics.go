package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nstogner/contextharness/pkg/controller"
	"github.com/nstogner/contextharness/pkg/domain"
)

const metricsNamespace = "contextharness"

// Metrics turns trace events into Prometheus series. Each Metrics owns its
// registry so several harness runs in one process do not share counters.
type Metrics struct {
	registry *prometheus.Registry

	turns        prometheus.Counter
	toolCalls    *prometheus.CounterVec
	toolErrors   *prometheus.CounterVec
	offloads     prometheus.Counter
	compactions  prometheus.Counter
	skillsLoaded prometheus.Counter
	outcomes     *prometheus.CounterVec
	budget       prometheus.Gauge
	utilization  prometheus.Gauge
}

// NewMetrics registers the harness series on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Agent turns started.",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by tool.",
		}, []string{"tool"}),
		toolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_errors_total",
			Help:      "Tool calls that returned an error result, by tool.",
		}, []string{"tool"}),
		offloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offloads_total",
			Help:      "Tool outputs offloaded to scratch files.",
		}),
		compactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compactions_total",
			Help:      "Context compactions performed.",
		}),
		skillsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skills_loaded_total",
			Help:      "Skill documents embedded in system prompts.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Finished runs, by outcome.",
		}, []string{"outcome"}),
		budget: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "budget_tokens",
			Help:      "Estimated tokens currently in context.",
		}),
		utilization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "budget_utilization_ratio",
			Help:      "Fraction of the context budget in use at the last turn start.",
		}),
	}
}

// Observe updates the series for one trace event.
func (m *Metrics) Observe(e domain.TraceEvent) {
	switch e.Event {
	case controller.EventTurnStart:
		m.turns.Inc()
		m.setBudget(e.Data)
		if u, ok := floatValue(e.Data["utilization"]); ok {
			m.utilization.Set(u)
		}
	case controller.EventToolCall:
		m.toolCalls.WithLabelValues(toolLabel(e.Data)).Inc()
	case controller.EventToolResult:
		if off, _ := e.Data["was_offloaded"].(bool); off {
			m.offloads.Inc()
		}
		if failed, _ := e.Data["is_error"].(bool); failed {
			m.toolErrors.WithLabelValues(toolLabel(e.Data)).Inc()
		}
	case controller.EventCompactionTriggered:
		m.compactions.Inc()
	case controller.EventCompacted:
		m.setBudget(e.Data)
	case controller.EventSkillLoaded:
		m.skillsLoaded.Inc()
	case controller.EventComplete:
		m.outcomes.WithLabelValues(string(domain.RunStatusComplete)).Inc()
		if v, ok := floatValue(e.Data["final_budget"]); ok {
			m.budget.Set(v)
		}
	case controller.EventMaxTurns:
		m.outcomes.WithLabelValues(string(domain.RunStatusMaxTurns)).Inc()
	case controller.EventError:
		m.outcomes.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	}
}

// Run observes events until the channel closes or ctx is done.
func (m *Metrics) Run(ctx context.Context, events <-chan domain.TraceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setBudget(data map[string]any) {
	if v, ok := floatValue(data["budget"]); ok {
		m.budget.Set(v)
	}
}

func toolLabel(data map[string]any) string {
	if name, ok := data["tool"].(string); ok && name != "" {
		return name
	}
	return "unknown"
}

// floatValue accepts the numeric types trace data carries live (int, float64)
// and after a JSON round trip (float64).
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
