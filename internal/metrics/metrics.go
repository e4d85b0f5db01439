// Package metrics holds the process-wide pipeline counters. A single Pipeline
// instance is constructed in main and injected into the receiver and the
// worker pool; all increments are concurrency-safe.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline aggregates ingestion and processing counters. Each counter is
// exported to Prometheus and mirrored by an atomic total for the JSON metrics
// endpoint. Counters reset only on process restart.
type Pipeline struct {
	received     prometheus.Counter
	verified     prometheus.Counter
	rejected     *prometheus.CounterVec
	deduplicated prometheus.Counter
	queued       prometheus.Counter
	succeeded    prometheus.Counter
	failed       prometheus.Counter
	deadLettered prometheus.Counter
	retried      prometheus.Counter

	queueDepth    prometheus.Gauge
	queueCapacity prometheus.Gauge

	receivedN     atomic.Uint64
	verifiedN     atomic.Uint64
	rejectedN     atomic.Uint64
	deduplicatedN atomic.Uint64
	queuedN       atomic.Uint64
	succeededN    atomic.Uint64
	failedN       atomic.Uint64
	deadLetteredN atomic.Uint64
	retriedN      atomic.Uint64
}

// New registers the pipeline metrics against reg and returns the instance.
// Tests pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_received_total",
			Help: "Total webhook deliveries received",
		}),
		verified: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_verified_total",
			Help: "Total deliveries with a valid signature",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crmsync_events_rejected_total",
			Help: "Total deliveries rejected, by reason",
		}, []string{"reason"}),
		deduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_deduplicated_total",
			Help: "Total duplicate deliveries dropped",
		}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_queued_total",
			Help: "Total events enqueued for processing",
		}),
		succeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_succeeded_total",
			Help: "Total events synced downstream",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_failed_total",
			Help: "Total processing failures, including retried attempts",
		}),
		deadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_dead_lettered_total",
			Help: "Total events moved to the dead letter store",
		}),
		retried: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmsync_events_retried_total",
			Help: "Total retry entries scheduled",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crmsync_queue_depth",
			Help: "Current depth of the ingestion queue",
		}),
		queueCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crmsync_queue_capacity",
			Help: "Maximum capacity of the ingestion queue",
		}),
	}
}

func (p *Pipeline) IncReceived()     { p.received.Inc(); p.receivedN.Add(1) }
func (p *Pipeline) IncVerified()     { p.verified.Inc(); p.verifiedN.Add(1) }
func (p *Pipeline) IncDeduplicated() { p.deduplicated.Inc(); p.deduplicatedN.Add(1) }
func (p *Pipeline) IncQueued()       { p.queued.Inc(); p.queuedN.Add(1) }
func (p *Pipeline) IncSucceeded()    { p.succeeded.Inc(); p.succeededN.Add(1) }
func (p *Pipeline) IncFailed()       { p.failed.Inc(); p.failedN.Add(1) }
func (p *Pipeline) IncDeadLettered() { p.deadLettered.Inc(); p.deadLetteredN.Add(1) }
func (p *Pipeline) IncRetried()      { p.retried.Inc(); p.retriedN.Add(1) }

// IncRejected records a rejection with its stable reason code.
func (p *Pipeline) IncRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
	p.rejectedN.Add(1)
}

// SetQueueDepth updates the queue depth gauge.
func (p *Pipeline) SetQueueDepth(depth int64) { p.queueDepth.Set(float64(depth)) }

// SetQueueCapacity updates the queue capacity gauge.
func (p *Pipeline) SetQueueCapacity(capacity int64) { p.queueCapacity.Set(float64(capacity)) }

// Snapshot is the JSON metrics endpoint payload: raw counters plus derived
// percentages.
type Snapshot struct {
	Received          uint64    `json:"received"`
	Verified          uint64    `json:"verified"`
	Rejected          uint64    `json:"rejected"`
	Deduplicated      uint64    `json:"deduplicated"`
	Queued            uint64    `json:"queued"`
	Succeeded         uint64    `json:"succeeded"`
	Failed            uint64    `json:"failed"`
	DeadLettered      uint64    `json:"dead_lettered"`
	Retried           uint64    `json:"retried"`
	AcceptanceRate    float64   `json:"acceptance_rate"`
	DeduplicationRate float64   `json:"deduplication_rate"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns the current counter values. Rates are fractions of the
// received total; zero when nothing has been received yet.
func (p *Pipeline) Snapshot() Snapshot {
	s := Snapshot{
		Received:     p.receivedN.Load(),
		Verified:     p.verifiedN.Load(),
		Rejected:     p.rejectedN.Load(),
		Deduplicated: p.deduplicatedN.Load(),
		Queued:       p.queuedN.Load(),
		Succeeded:    p.succeededN.Load(),
		Failed:       p.failedN.Load(),
		DeadLettered: p.deadLetteredN.Load(),
		Retried:      p.retriedN.Load(),
		Timestamp:    time.Now().UTC(),
	}
	if s.Received > 0 {
		s.AcceptanceRate = float64(s.Queued) / float64(s.Received)
		s.DeduplicationRate = float64(s.Deduplicated) / float64(s.Received)
	}
	return s
}
