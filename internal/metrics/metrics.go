package metrics

import (
	"sync"
	"time"

	"tasksync/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tasksync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by outcome.",
		},
		[]string{"outcome"},
	)

	items = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Queue entries processed by result.",
		},
		[]string{"result"},
	)

	checksumRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_checksum_rejects_total",
			Help:      "Batches rejected by the peer for an integrity mismatch.",
		},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall time of a sync cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Queue entries awaiting dispatch after the last cycle.",
		},
	)

	deadLetters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_dead_letters",
			Help:      "Entries in the dead-letter archive after the last cycle.",
		},
	)
)

// Cycle outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeAborted = "aborted"
)

// Item result labels.
const (
	ResultSynced       = "synced"
	ResultRetried      = "retried"
	ResultDeadLettered = "dead_lettered"
	ResultDropped      = "dropped"
	ResultDeferred     = "deferred"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, cycles, items, checksumRejects, cycleDuration, queueDepth, deadLetters)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveCycle records one finished cycle.
func ObserveCycle(outcome string, d time.Duration) {
	cycles.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(d.Seconds())
}

// AddItems adds n to the item counter for result.
func AddItems(result string, n int) {
	if n <= 0 {
		return
	}
	items.WithLabelValues(result).Add(float64(n))
}

func IncChecksumReject() {
	checksumRejects.Inc()
}

// SetBacklog publishes the queue and archive sizes.
func SetBacklog(pending, dead int) {
	queueDepth.Set(float64(pending))
	deadLetters.Set(float64(dead))
}

// Subscribe wires the sync lifecycle events into the collectors.
func Subscribe(bus *events.EventBus) {
	count := func(result string) events.EventHandler {
		return func(*events.Event) error {
			AddItems(result, 1)
			return nil
		}
	}
	bus.Subscribe(events.EventEntrySynced, count(ResultSynced))
	bus.Subscribe(events.EventEntryRetried, count(ResultRetried))
	bus.Subscribe(events.EventEntryDeadLettered, count(ResultDeadLettered))
	bus.Subscribe(events.EventEntryDropped, count(ResultDropped))
	bus.Subscribe(events.EventBatchRejected, func(*events.Event) error {
		IncChecksumReject()
		return nil
	})
	bus.Subscribe(events.EventCycleCompleted, func(e *events.Event) error {
		var p events.CycleEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		outcome := OutcomeSuccess
		switch {
		case p.Aborted:
			outcome = OutcomeAborted
		case !p.Success:
			outcome = OutcomePartial
		}
		ObserveCycle(outcome, time.Duration(p.DurationMS)*time.Millisecond)
		AddItems(ResultDeferred, p.Deferred)
		SetBacklog(p.Pending, p.DeadLetters)
		return nil
	})
}
