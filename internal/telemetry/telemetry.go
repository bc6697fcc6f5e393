// Package telemetry exposes deployment metrics through a Prometheus
// registry. The CLI is short-lived, so metrics are written to a
// node_exporter textfile instead of being scraped.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

const namespace = "kapnode"

// Metrics records deployment runs. It implements core.Observer.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	OutputLines      *prometheus.CounterVec
	StageEntries     *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RecorderWarnings prometheus.Counter
	RemoteCommands   *prometheus.HistogramVec
	LastRunSuccess   *prometheus.GaugeVec

	mu     sync.Mutex
	stages map[string]api.Stage
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stages:   map[string]api.Stage{},
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Deployment runs by result and node type.",
			},
			[]string{"result", "node_type"},
		),
		OutputLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "output_lines_total",
				Help:      "Classified script output lines by kind.",
			},
			[]string{"kind"},
		),
		StageEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_entries_total",
				Help:      "Times a deployment stage was entered.",
			},
			[]string{"stage"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Orchestrator state transitions by destination state.",
			},
			[]string{"state"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Wall time of deployment runs.",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"result"},
		),
		RecorderWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recorder_warnings_total",
				Help:      "Bookkeeping failures after successful deployments.",
			},
		),
		RemoteCommands: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of blocking remote commands.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "result"},
		),
		LastRunSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_deployment_success",
				Help:      "1 if the last deployment of a host succeeded, else 0.",
			},
			[]string{"hostname"},
		),
	}
	m.registry.MustRegister(m.RunsTotal, m.OutputLines, m.StageEntries, m.Transitions,
		m.RunDuration, m.RecorderWarnings, m.RemoteCommands, m.LastRunSuccess)
	return m
}

// Registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StateChanged(_ string, _, to api.RunState) {
	m.Transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) EventClassified(runID string, ev api.OutputEvent) {
	m.OutputLines.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Stage == api.StageNone {
		return
	}
	m.mu.Lock()
	entered := m.stages[runID] != ev.Stage
	m.stages[runID] = ev.Stage
	m.mu.Unlock()
	if entered {
		m.StageEntries.WithLabelValues(string(ev.Stage)).Inc()
	}
}

func (m *Metrics) RunFinished(o *api.DeploymentOutcome) {
	m.mu.Lock()
	delete(m.stages, o.RunID)
	m.mu.Unlock()

	result := resultLabel(o.Succeeded)
	m.RunsTotal.WithLabelValues(result, o.NodeType).Inc()
	m.RunDuration.WithLabelValues(result).Observe(o.Duration().Seconds())
	m.RecorderWarnings.Add(float64(len(o.Warnings)))
	success := 0.0
	if o.Succeeded {
		success = 1
	}
	m.LastRunSuccess.WithLabelValues(o.Hostname).Set(success)
}

// ObserveCommand records a blocking remote command that started at start.
func (m *Metrics) ObserveCommand(op string, start time.Time, err error) {
	m.RemoteCommands.WithLabelValues(op, resultLabel(err == nil)).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all metrics in the text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	log.Debug().Str("path", path).Msg("Metrics written")
	return nil
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
