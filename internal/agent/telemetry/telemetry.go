package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepsearch/provider"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Telemetry keeps in-process counters for runs, branches and gateway calls and
// mirrors them into prometheus collectors.
type Telemetry struct {
	logger  *zap.Logger
	metrics *Metrics
	mu      sync.RWMutex

	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	phaseDuration  *prometheus.HistogramVec
	branches       *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	inflight       prometheus.Gauge
}

// Metrics holds various performance metrics
type Metrics struct {
	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	DiscardedRuns  int64
	AverageRunTime time.Duration

	// Branch metrics
	TotalBranches  int64
	FailedBranches int64

	// Gateway metrics
	GatewayRequests       map[string]int64
	GatewayFailures       map[string]int64
	GatewayAverageLatency map[string]time.Duration
	ErrorKinds            map[string]int64
}

// RunEvent represents one finished pipeline run
type RunEvent struct {
	ID             string
	Query          string
	Model          string
	StartTime      time.Time
	EndTime        time.Time
	State          string
	Queries        int
	FailedBranches int
	Discarded      bool
	Error          error
}

// BranchEvent represents one fan-out branch
type BranchEvent struct {
	RunID    string
	Index    int
	Query    string
	Duration time.Duration
	Error    error
}

// GatewayEvent represents one call through the model gateway
type GatewayEvent struct {
	Model    string
	Duration time.Duration
	Error    error
}

// New creates a telemetry instance and registers its collectors on reg.
// A nil registerer keeps the collectors unregistered.
func New(reg prometheus.Registerer, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{
		logger: logger.Named("telemetry"),
		metrics: &Metrics{
			GatewayRequests:       make(map[string]int64),
			GatewayFailures:       make(map[string]int64),
			GatewayAverageLatency: make(map[string]time.Duration),
			ErrorKinds:            make(map[string]int64),
		},
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepsearch",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"state"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepsearch",
			Name:      "phase_duration_seconds",
			Help:      "Wall time per pipeline phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		branches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "fanout_branches_total",
			Help:      "Fan-out branches by outcome.",
		}, []string{"outcome", "kind"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "gateway_requests_total",
			Help:      "Model gateway calls by model and error kind.",
		}, []string{"model", "kind"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepsearch",
			Name:      "gateway_request_duration_seconds",
			Help:      "Model gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsearch",
			Name:      "runs_in_flight",
			Help:      "Pipeline runs currently executing.",
		}),
	}
	if reg != nil {
		for _, c := range t.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("register collector: %w", err)
			}
		}
	}
	return t, nil
}

func (t *Telemetry) collectors() []prometheus.Collector {
	return []prometheus.Collector{t.runs, t.runDuration, t.phaseDuration, t.branches, t.gatewayCalls, t.gatewayLatency, t.inflight}
}

// RunStarted bumps the in-flight gauge
func (t *Telemetry) RunStarted() {
	if t == nil {
		return
	}
	t.inflight.Inc()
}

// RecordRunEvent records a complete run and decrements the in-flight gauge
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if t == nil {
		return
	}
	duration := event.EndTime.Sub(event.StartTime)

	t.mu.Lock()
	t.metrics.TotalRuns++
	switch {
	case event.Discarded:
		t.metrics.DiscardedRuns++
	case event.Error != nil:
		t.metrics.FailedRuns++
	default:
		t.metrics.SuccessfulRuns++
	}
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + duration) / time.Duration(t.metrics.TotalRuns)
	}
	t.mu.Unlock()

	t.inflight.Dec()
	t.runs.WithLabelValues(event.State).Inc()
	t.runDuration.WithLabelValues(event.State).Observe(duration.Seconds())

	fields := []zap.Field{
		zap.String("run_id", event.ID),
		zap.String("model", event.Model),
		zap.String("state", event.State),
		zap.Duration("duration", duration),
		zap.Int("queries", event.Queries),
		zap.Int("failed_branches", event.FailedBranches),
	}
	if event.Error != nil {
		fields = append(fields, zap.Error(event.Error), zap.String("kind", provider.Classify(event.Error)))
		t.logger.Warn("run finished", fields...)
		return
	}
	t.logger.Info("run finished", fields...)
}

// RecordBranchEvent records a fan-out branch outcome
func (t *Telemetry) RecordBranchEvent(ctx context.Context, event BranchEvent) {
	if t == nil {
		return
	}
	kind := provider.Classify(event.Error)
	outcome := "ok"
	if event.Error != nil {
		outcome = "failed"
	}

	t.mu.Lock()
	t.metrics.TotalBranches++
	if event.Error != nil {
		t.metrics.FailedBranches++
	}
	t.mu.Unlock()

	t.branches.WithLabelValues(outcome, kind).Inc()
	if event.Error != nil {
		t.logger.Debug("branch failed",
			zap.String("run_id", event.RunID),
			zap.Int("index", event.Index),
			zap.String("kind", kind),
			zap.Error(event.Error))
	}
}

// RecordPhase observes the duration of one pipeline phase
func (t *Telemetry) RecordPhase(phase string, d time.Duration) {
	if t == nil {
		return
	}
	t.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordGatewayEvent records a single gateway call
func (t *Telemetry) RecordGatewayEvent(ctx context.Context, event GatewayEvent) {
	if t == nil {
		return
	}
	kind := provider.Classify(event.Error)
	label := kind
	if label == "" {
		label = "ok"
	}

	t.mu.Lock()
	t.metrics.GatewayRequests[event.Model]++
	n := t.metrics.GatewayRequests[event.Model]
	if event.Error != nil {
		t.metrics.GatewayFailures[event.Model]++
		t.metrics.ErrorKinds[kind]++
	}
	avg := t.metrics.GatewayAverageLatency[event.Model]
	t.metrics.GatewayAverageLatency[event.Model] = (avg*time.Duration(n-1) + event.Duration) / time.Duration(n)
	t.mu.Unlock()

	t.gatewayCalls.WithLabelValues(event.Model, label).Inc()
	t.gatewayLatency.WithLabelValues(event.Model).Observe(event.Duration.Seconds())
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.GatewayRequests = copyMap(t.metrics.GatewayRequests)
	metrics.GatewayFailures = copyMap(t.metrics.GatewayFailures)
	metrics.GatewayAverageLatency = copyMap(t.metrics.GatewayAverageLatency)
	metrics.ErrorKinds = copyMap(t.metrics.ErrorKinds)
	return metrics
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetPerformanceReport returns a plain-text performance report
func (t *Telemetry) GetPerformanceReport() string {
	m := t.GetMetrics()
	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Runs:
  Total: %d
  Successful: %d (%.2f%%)
  Failed: %d
  Discarded: %d
  Average Run Time: %v
Branches:
  Total: %d
  Failed: %d

Gateway Usage:
`, m.TotalRuns, m.SuccessfulRuns, percent(m.SuccessfulRuns, m.TotalRuns),
		m.FailedRuns, m.DiscardedRuns, m.AverageRunTime, m.TotalBranches, m.FailedBranches)

	models := make([]string, 0, len(m.GatewayRequests))
	for model := range m.GatewayRequests {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		report += fmt.Sprintf("  %s: %d requests, %d failed, %v avg latency\n",
			model, m.GatewayRequests[model], m.GatewayFailures[model], m.GatewayAverageLatency[model])
	}
	return report
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Shutdown logs a final summary
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	m := t.GetMetrics()
	t.logger.Info("final report",
		zap.Int64("runs", m.TotalRuns),
		zap.Int64("successful", m.SuccessfulRuns),
		zap.Int64("failed", m.FailedRuns),
		zap.Int64("branches", m.TotalBranches),
		zap.Int64("failed_branches", m.FailedBranches),
		zap.Duration("avg_run_time", m.AverageRunTime))
}
