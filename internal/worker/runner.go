// Package worker runs the recurring batch that drains the raw event queue:
// resolve repo context, process per type, dedup and score, fan out, mark
// processed.
//
// Events are processed strictly sequentially within a run. The dominant
// per-event latency is external calls (summarizer, GitHub API), and running
// them in parallel would both exhaust GitHub rate limits and race concurrent
// upserts on the same dedupe hash.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsefeed/pulsefeed/internal/dedupe"
	"github.com/pulsefeed/pulsefeed/internal/fanout"
	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
	"github.com/pulsefeed/pulsefeed/internal/processor"
)

const (
	// DefaultInterEventDelay bounds downstream API and database pressure
	// between events.
	DefaultInterEventDelay = 1 * time.Second

	// DefaultBatchBudget is the hard wall-clock limit for one batch run.
	// An event that runs past the budget fails like any other event; the
	// batch itself still completes its bookkeeping.
	DefaultBatchBudget = 10 * time.Minute
)

// Runner drains the raw event queue on a recurring trigger.
type Runner struct {
	events    feed.EventStore
	repos     feed.RepoDirectory
	timelines feed.TimelineStore
	registry  *processor.Registry
	writer    *fanout.Writer
	lock      Lock
	log       zerolog.Logger

	interEventDelay time.Duration
	batchBudget     time.Duration
}

// Config wires a Runner.
type Config struct {
	Events    feed.EventStore
	Repos     feed.RepoDirectory
	Timelines feed.TimelineStore
	Registry  *processor.Registry
	Writer    *fanout.Writer
	Lock      Lock
	Logger    zerolog.Logger

	// InterEventDelay defaults to DefaultInterEventDelay.
	InterEventDelay time.Duration

	// BatchBudget defaults to DefaultBatchBudget.
	BatchBudget time.Duration
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.InterEventDelay == 0 {
		cfg.InterEventDelay = DefaultInterEventDelay
	}
	if cfg.BatchBudget == 0 {
		cfg.BatchBudget = DefaultBatchBudget
	}
	if cfg.Lock == nil {
		cfg.Lock = NewLocalLock()
	}
	return &Runner{
		events:          cfg.Events,
		repos:           cfg.Repos,
		timelines:       cfg.Timelines,
		registry:        cfg.Registry,
		writer:          cfg.Writer,
		lock:            cfg.Lock,
		log:             cfg.Logger,
		interEventDelay: cfg.InterEventDelay,
		batchBudget:     cfg.BatchBudget,
	}
}

// Start runs batches on the given interval until the context is canceled.
// The first batch runs immediately.
func (r *Runner) Start(ctx context.Context, interval time.Duration) error {
	r.log.Info().Dur("interval", interval).Msg("worker: starting batch loop")

	if err := r.RunBatch(ctx); err != nil {
		r.log.Error().Err(err).Msg("worker: batch failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunBatch(ctx); err != nil {
				r.log.Error().Err(err).Msg("worker: batch failed")
			}
		}
	}
}

// RunBatch drains the queue once. Per-event failures are logged and do not
// abort the batch; after the loop every selected event is marked processed
// regardless of its individual outcome.
func (r *Runner) RunBatch(ctx context.Context) error {
	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		r.log.Debug().Msg("worker: lease held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Msg("worker: failed to release lease")
		}
	}()

	started := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}()

	events, err := r.events.Unprocessed(ctx)
	if err != nil {
		return fmt.Errorf("failed to select unprocessed events: %w", err)
	}

	// Wake snoozed entries once per batch, before processing.
	woken, err := r.timelines.ReactivateSnoozed(ctx, time.Now().UTC())
	if err != nil {
		r.log.Error().Err(err).Msg("worker: snooze sweep failed")
	} else if woken > 0 {
		metrics.SnoozeReactivated.Add(float64(woken))
		r.log.Info().Int64("entries", woken).Msg("worker: reactivated snoozed entries")
	}

	if len(events) == 0 {
		return nil
	}
	r.log.Info().Int("events", len(events)).Msg("worker: processing batch")

	// The budget applies to processing only. Bookkeeping below runs on the
	// parent context so a blown budget cannot leave events unmarked.
	batchCtx, cancel := context.WithTimeout(ctx, r.batchBudget)
	defer cancel()

	for i, ev := range events {
		if err := r.processEvent(batchCtx, &ev); err != nil {
			metrics.EventsProcessed.WithLabelValues(string(ev.EventType), "error").Inc()
			r.log.Error().Err(err).
				Str("event_id", ev.ID.String()).
				Str("event_type", string(ev.EventType)).
				Msg("worker: event processing failed")
		}

		if i < len(events)-1 {
			select {
			case <-batchCtx.Done():
			case <-time.After(r.interEventDelay):
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if err := r.events.MarkProcessed(ctx, ids, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark events processed: %w", err)
	}
	return nil
}

// processEvent runs the full pipeline for one event.
func (r *Runner) processEvent(ctx context.Context, ev *feed.RawEvent) error {
	repo, err := r.repos.Lookup(ctx, ev.Org, ev.Repo)
	if errors.Is(err, feed.ErrUnknownRepo) {
		// Ingestion drops untracked repos, so this only happens when a repo
		// was removed after its events were stored.
		metrics.EventsProcessed.WithLabelValues(string(ev.EventType), "skipped").Inc()
		r.log.Warn().Str("org", ev.Org).Str("repo", ev.Repo).Msg("worker: repo no longer tracked, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("repo lookup for %s/%s: %w", ev.Org, ev.Repo, err)
	}

	subscribers, err := r.repos.Subscribers(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("subscriber lookup for %s/%s: %w", ev.Org, ev.Repo, err)
	}

	proc, err := r.registry.ForType(ev.EventType)
	if err != nil {
		return err
	}

	result, err := proc.Process(ctx, ev, processor.RepoContext{Repo: repo, Subscribers: subscribers})
	if err != nil {
		return err
	}
	if !result.ShouldPost {
		metrics.EventsProcessed.WithLabelValues(string(ev.EventType), "suppressed").Inc()
		r.log.Debug().Str("event_id", ev.ID.String()).Msg("worker: entry suppressed")
		return nil
	}

	entry := fanout.Entry{
		Type:        ev.EventType,
		Payload:     result.Payload,
		Score:       dedupe.Score(ev.EventType),
		RepoID:      repo.ID,
		DedupeHash:  dedupe.Hash(ev.Org, ev.Repo, ev.EventType, result.StableKey),
		EventID:     ev.ID,
		Involvement: result.Involvement,
	}
	if err := r.writer.Write(ctx, entry, subscribers); err != nil {
		return fmt.Errorf("fan-out for event %s: %w", ev.ID, err)
	}

	metrics.EventsProcessed.WithLabelValues(string(ev.EventType), "ok").Inc()
	return nil
}
