// Package processor runs the worker pool that drains the ingestion queue,
// routes events through module adapters and applies the retry and dead
// letter policy.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memograph-systems/crmsync/internal/adapters"
	"github.com/memograph-systems/crmsync/internal/deadletter"
	"github.com/memograph-systems/crmsync/internal/metrics"
	"github.com/memograph-systems/crmsync/internal/models"
	"github.com/memograph-systems/crmsync/internal/queue"
)

type Config struct {
	Workers         int
	BatchSize       int
	BatchWait       time.Duration
	MaxAttempts     int
	Backoff         Backoff
	SyncTimeout     time.Duration
	PromoteInterval time.Duration
}

// Pool owns a fixed set of long-lived workers plus a retry mover that
// promotes scheduled retries back onto the queue. Scaling beyond one process
// is done by running more processes against the same queue.
type Pool struct {
	cfg      Config
	queue    queue.Ingestion
	dlq      deadletter.Store
	adapters *adapters.Registry
	metrics  *metrics.Pipeline
	log      *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(cfg Config, q queue.Ingestion, dlq deadletter.Store, registry *adapters.Registry, m *metrics.Pipeline, log *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}

	return &Pool{
		cfg:      cfg,
		queue:    q,
		dlq:      dlq,
		adapters: registry,
		metrics:  m,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches the workers and the retry mover.
func (p *Pool) Start() {
	for i := 1; i <= p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.retryMover()
	p.log.Info("worker pool started", "workers", p.cfg.Workers, "batch_size", p.cfg.BatchSize)
}

// Stop signals the pool and blocks until every worker has finished its
// in-flight batch. Entries popped for that batch are processed to completion,
// so nothing is lost on shutdown.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.log.With(slog.Int("worker_id", id))
	log.Info("worker started")
	ctx := context.Background()

	for {
		if p.stopped() {
			log.Info("worker exiting")
			return
		}

		// Bounded wait, so an idle worker still wakes for the stop check.
		batch, err := p.queue.DequeueBatch(ctx, p.cfg.BatchSize, p.cfg.BatchWait)
		if err != nil {
			log.Error("dequeue failed", "error", err)
			select {
			case <-p.stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// The whole batch is processed even when a stop arrives mid-way:
		// popped entries are only gone from the queue once handled.
		for _, entry := range batch {
			p.processEntry(ctx, log, entry)
		}
	}
}

func (p *Pool) processEntry(ctx context.Context, log *slog.Logger, entry models.QueueEntry) {
	event := entry.Event
	log = log.With(
		slog.String("event_id", event.EventID),
		slog.String("module", event.Module),
		slog.Int("attempt", entry.AttemptCount),
	)

	adapter, err := p.adapters.Resolve(event.Module)
	if err != nil {
		p.metrics.IncFailed()
		p.deadLetter(ctx, log, entry, models.FailureUnknownModule, err)
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, p.cfg.SyncTimeout)
	syncErr := p.safeSync(syncCtx, adapter, event)
	cancel()

	if syncErr == nil {
		p.metrics.IncSucceeded()
		log.Debug("event synced")
		return
	}

	p.metrics.IncFailed()

	if models.IsPermanent(syncErr) {
		p.deadLetter(ctx, log, entry, models.FailurePermanent, syncErr)
		return
	}

	now := time.Now().UTC()
	next := entry.AttemptCount + 1
	if next > p.cfg.MaxAttempts {
		p.deadLetter(ctx, log, entry.NextAttempt(now, now), models.FailureRetriesExhausted, syncErr)
		return
	}

	delay := p.cfg.Backoff.Delay(next)
	retry := entry.NextAttempt(now, now.Add(delay))
	if err := p.queue.ScheduleRetry(ctx, retry); err != nil {
		log.Error("retry scheduling failed, requeueing immediately", "error", err)
		if err := p.queue.Requeue(ctx, retry); err != nil {
			log.Error("requeue failed, entry lost", "error", err)
		}
		return
	}

	p.metrics.IncRetried()
	log.Warn("event sync failed, retry scheduled",
		"error", syncErr,
		"next_attempt", next,
		"delay", delay,
	)
}

// safeSync confines adapter failures to error values: a panic inside an
// adapter must not take down the worker or abort the rest of the batch.
func (p *Pool) safeSync(ctx context.Context, adapter adapters.Adapter, event models.WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.Transient(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return adapter.Sync(ctx, event)
}

func (p *Pool) deadLetter(ctx context.Context, log *slog.Logger, entry models.QueueEntry, category string, cause error) {
	record := models.DeadLetterRecord{
		Entry: entry,
		Reason: models.FailureReason{
			Category: category,
			Message:  cause.Error(),
		},
		FailedAt: time.Now().UTC(),
	}

	if err := p.dlq.Put(ctx, record); err != nil {
		// The entry must not vanish; put it back and let a later attempt
		// reach the store again.
		log.Error("dead letter put failed, requeueing entry", "error", err)
		if err := p.queue.Requeue(ctx, entry); err != nil {
			log.Error("requeue failed, entry lost", "error", err)
		}
		return
	}

	p.metrics.IncDeadLettered()
	log.Warn("event dead lettered", "category", category, "cause", cause)
}

// retryMover periodically promotes due retries onto the ready list and
// refreshes the queue depth gauge.
func (p *Pool) retryMover() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n, err := p.queue.PromoteDue(ctx, time.Now()); err != nil {
				p.log.Error("retry promotion failed", "error", err)
			} else if n > 0 {
				p.log.Debug("promoted retries", "count", n)
			}

			if depth, err := p.queue.Depth(ctx); err == nil {
				p.metrics.SetQueueDepth(depth)
			}
		}
	}
}
