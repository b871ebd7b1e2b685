package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope          = "coworkersync/sync"
	spanRun            = "coworkersync.sync.run"
	metricCreated      = "coworkersync.sync.contacts.created"
	metricUpdated      = "coworkersync.sync.contacts.updated"
	metricDeleted      = "coworkersync.sync.contacts.deleted"
	metricSkipped      = "coworkersync.sync.contacts.skipped"
	metricPhotosSynced = "coworkersync.sync.photos.synced"
	metricPhotosFailed = "coworkersync.sync.photos.failed"
	metricRunsFailed   = "coworkersync.sync.runs.failed"
	metricRunsCanceled = "coworkersync.sync.runs.canceled"
)

// Runner performs a single sync run. Implemented by [Orchestrator].
type Runner interface {
	RunSync(ctx context.Context, identity string) Report
}

// Engine runs the polling loop over all configured accounts. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	runner       Runner
	accounts     []string
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer          trace.Tracer
	cntCreated      metric.Int64Counter
	cntUpdated      metric.Int64Counter
	cntDeleted      metric.Int64Counter
	cntSkipped      metric.Int64Counter
	cntPhotosSynced metric.Int64Counter
	cntPhotosFailed metric.Int64Counter
	cntRunsFailed   metric.Int64Counter
	cntRunsCanceled metric.Int64Counter
}

// NewEngine creates an Engine syncing accounts one after another every
// pollInterval.
func NewEngine(runner Runner, accounts []string, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		runner:       runner,
		accounts:     accounts,
		pollInterval: pollInterval,
		log:          logger,

		tracer:          tracer,
		cntCreated:      mustCounter(metricCreated, "Number of contacts created during sync"),
		cntUpdated:      mustCounter(metricUpdated, "Number of contacts updated during sync"),
		cntDeleted:      mustCounter(metricDeleted, "Number of contacts deleted during sync"),
		cntSkipped:      mustCounter(metricSkipped, "Number of contacts skipped after a write failure"),
		cntPhotosSynced: mustCounter(metricPhotosSynced, "Number of contact photos stored or cleared"),
		cntPhotosFailed: mustCounter(metricPhotosFailed, "Number of contact photos that could not be synced"),
		cntRunsFailed:   mustCounter(metricRunsFailed, "Number of sync runs that ended with a fatal error"),
		cntRunsCanceled: mustCounter(metricRunsCanceled, "Number of sync runs that were canceled"),
	}
}

// syncAccount runs one sync for identity, recording a trace span and metrics.
func (e *Engine) syncAccount(ctx context.Context, identity string) Report {
	ctx, span := e.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.identity", identity)))
	defer span.End()

	rep := e.runner.RunSync(ctx, identity)

	acct := metric.WithAttributes(attribute.String("sync.identity", identity))
	add := func(c metric.Int64Counter, n int) {
		if n > 0 {
			c.Add(ctx, int64(n), acct)
		}
	}
	add(e.cntCreated, rep.Created)
	add(e.cntUpdated, rep.Updated)
	add(e.cntDeleted, rep.Deleted)
	add(e.cntSkipped, rep.Skipped)
	add(e.cntPhotosSynced, rep.Photos.Synced+rep.Photos.Cleared)
	add(e.cntPhotosFailed, rep.Photos.Failed)
	if rep.Err != nil {
		e.cntRunsFailed.Add(ctx, 1, acct)
	}
	if rep.Canceled {
		e.cntRunsCanceled.Add(ctx, 1, acct)
	}

	span.SetAttributes(
		attribute.String("sync.run_id", rep.RunID),
		attribute.String("sync.phase", rep.Phase.String()),
		attribute.String("sync.outcome", rep.Outcome()),
		attribute.Int("sync.created", rep.Created),
		attribute.Int("sync.updated", rep.Updated),
		attribute.Int("sync.deleted", rep.Deleted),
		attribute.Int("sync.skipped", rep.Skipped),
		attribute.Int("sync.photos.synced", rep.Photos.Synced),
		attribute.Int("sync.photos.failed", rep.Photos.Failed),
	)
	if rep.Err != nil {
		span.RecordError(rep.Err)
	}
	return rep
}

// RunOnce syncs every account once, sequentially, and returns one report per
// account. It stops early when ctx is canceled.
func (e *Engine) RunOnce(ctx context.Context) []Report {
	reports := make([]Report, 0, len(e.accounts))
	for _, identity := range e.accounts {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, e.syncAccount(ctx, identity))
	}
	return reports
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}
