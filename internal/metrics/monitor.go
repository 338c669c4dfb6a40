// Package metrics exports flow lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/forechoandlook/goflow/flows"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Monitor is a flows.FlowMonitor backed by Prometheus collectors. It is
// safe for concurrent use, so one Monitor can observe many flows.
type Monitor struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    *prometheus.GaugeVec
	nodeExecutions  *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	nodeRetries     *prometheus.CounterVec
	nodeFallbacks   *prometheus.CounterVec
	batchIterations *prometheus.CounterVec

	mu         sync.Mutex
	runStarts  map[string]time.Time
	nodeStarts map[nodeKey]time.Time
}

type nodeKey struct {
	runID string
	step  int
}

// NewMonitor registers the collectors on reg under namespace. Registering
// twice on the same registry panics, as promauto does.
func NewMonitor(namespace string, reg prometheus.Registerer) *Monitor {
	factory := promauto.With(reg)
	return &Monitor{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Completed flow runs by outcome.",
		}, []string{"flow", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_run_duration_seconds",
			Help:      "Wall time of a flow run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		runsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_runs_in_flight",
			Help:      "Flow runs started but not yet complete.",
		}, []string{"flow"}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node cycles by outcome.",
		}, []string{"flow", "node", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time of one prep/exec/post cycle, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow", "node"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Failed exec attempts that were retried.",
		}, []string{"flow", "node"}),
		nodeFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_fallbacks_total",
			Help:      "Exec phases that exhausted their retries.",
		}, []string{"flow", "node", "batch"}),
		batchIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_iterations_total",
			Help:      "Parameter sets run by batch flows.",
		}, []string{"flow"}),
		runStarts:  make(map[string]time.Time),
		nodeStarts: make(map[nodeKey]time.Time),
	}
}

func (m *Monitor) Notify(_ context.Context, event flows.FlowEvent) {
	switch event.Type {
	case flows.FlowEventTypeFlowStart:
		m.runsInFlight.WithLabelValues(event.Flow).Inc()
		m.mu.Lock()
		m.runStarts[event.RunID] = event.Timestamp
		m.mu.Unlock()

	case flows.FlowEventTypeFlowComplete:
		m.runsInFlight.WithLabelValues(event.Flow).Dec()
		m.runsTotal.WithLabelValues(event.Flow, status(event.Err)).Inc()
		m.mu.Lock()
		start, ok := m.runStarts[event.RunID]
		delete(m.runStarts, event.RunID)
		m.mu.Unlock()
		if ok {
			m.runDuration.WithLabelValues(event.Flow).Observe(event.Timestamp.Sub(start).Seconds())
		}

	case flows.FlowEventTypeNodeStart:
		m.mu.Lock()
		m.nodeStarts[nodeKey{event.RunID, event.Step}] = event.Timestamp
		m.mu.Unlock()

	case flows.FlowEventTypeNodeEnd, flows.FlowEventTypeNodeError:
		m.nodeExecutions.WithLabelValues(event.Flow, event.Node, status(event.Err)).Inc()
		key := nodeKey{event.RunID, event.Step}
		m.mu.Lock()
		start, ok := m.nodeStarts[key]
		delete(m.nodeStarts, key)
		m.mu.Unlock()
		if ok {
			m.nodeDuration.WithLabelValues(event.Flow, event.Node).Observe(event.Timestamp.Sub(start).Seconds())
		}

	case flows.FlowEventTypeNodeRetry:
		m.nodeRetries.WithLabelValues(event.Flow, event.Node).Inc()

	case flows.FlowEventTypeNodeFallback:
		m.nodeFallbacks.WithLabelValues(event.Flow, event.Node, strconv.FormatBool(event.Item >= 0)).Inc()

	case flows.FlowEventTypeBatchIteration:
		m.batchIterations.WithLabelValues(event.Flow).Inc()
	}
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}

var _ flows.FlowMonitor = (*Monitor)(nil)
