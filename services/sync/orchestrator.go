package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"dnevniksync/lib/retry"
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/sync")

type SyncStatus int

const (
	SyncSucceeded SyncStatus = iota
	SyncPartialFailure
	SyncFailed
)

func (s SyncStatus) String() string {
	switch s {
	case SyncSucceeded:
		return "succeeded"
	case SyncPartialFailure:
		return "partial_failure"
	case SyncFailed:
		return "failed"
	}
	return "unknown"
}

type SyncSummary struct {
	Inserts int
	Updates int
	Deletes int
	// Skipped counts changes that could not be published after
	// retries, they will be retried naturally on the next run.
	Skipped int
}

type SyncResult struct {
	Status  SyncStatus
	Summary SyncSummary
	Err     error
}

type Sessions interface {
	Ensure(ctx context.Context, accountID string) (*dnevnik.Session, error)
	Invalidate(accountID string)
}

type Fetcher interface {
	Fetch(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error)
}

type OrchestratorOptions struct {
	Sessions   Sessions
	Fetcher    Fetcher
	Extractors Extractors
	Controller Controller
	Planner    Planner
	// MaxParallelRuns bounds how many accounts sync at once. Zero
	// means 4.
	MaxParallelRuns int
	PublishRetry    retry.Policy
	AuthRetry       retry.Policy
}

// Orchestrator drives full sync runs. Per account at most one run is
// in flight, a trigger landing during a run waits for that run's
// result and schedules one follow-up run. Across accounts parallelism
// is bounded by a semaphore.
type Orchestrator struct {
	sessions   Sessions
	fetcher    Fetcher
	extractors Extractors
	controller Controller
	planner    Planner

	publishRetry retry.Policy
	authRetry    retry.Policy

	sem chan struct{}

	mu     gosync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	done    chan struct{}
	result  SyncResult
	pending bool
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	parallel := opts.MaxParallelRuns
	if parallel <= 0 {
		parallel = 4
	}
	if opts.Planner == nil {
		opts.Planner = WeekPlanner{}
	}
	if opts.PublishRetry.MaxAttempts == 0 {
		opts.PublishRetry = retry.Quick
	}
	if opts.AuthRetry.MaxAttempts == 0 {
		opts.AuthRetry = retry.Quick
	}

	return &Orchestrator{
		sessions:     opts.Sessions,
		fetcher:      opts.Fetcher,
		extractors:   opts.Extractors,
		controller:   opts.Controller,
		planner:      opts.Planner,
		publishRetry: opts.PublishRetry,
		authRetry:    opts.AuthRetry,
		sem:          make(chan struct{}, parallel),
		active:       map[string]*activeRun{},
	}
}

// TriggerSync runs a full sync for the account and blocks until it
// finishes. If a run is already in flight the call coalesces: it
// returns the in-flight run's result and marks one follow-up run to
// pick up whatever changed since that run started.
func (o *Orchestrator) TriggerSync(ctx context.Context, accountID string) SyncResult {
	o.mu.Lock()
	if run, ok := o.active[accountID]; ok {
		run.pending = true
		o.mu.Unlock()
		<-run.done
		return run.result
	}
	run := &activeRun{done: make(chan struct{})}
	o.active[accountID] = run
	o.mu.Unlock()

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.finishRun(accountID, run, SyncResult{Status: SyncFailed, Err: ctx.Err()})
		return run.result
	}
	result := o.runSync(ctx, accountID)
	<-o.sem

	if pending := o.finishRun(accountID, run, result); pending {
		// detach from the caller's ctx, the follow-up outlives it
		go o.TriggerSync(context.WithoutCancel(ctx), accountID)
	}
	return result
}

func (o *Orchestrator) finishRun(accountID string, run *activeRun, result SyncResult) bool {
	o.mu.Lock()
	delete(o.active, accountID)
	pending := run.pending
	o.mu.Unlock()

	run.result = result
	close(run.done)
	return pending
}

func (o *Orchestrator) runSync(ctx context.Context, accountID string) SyncResult {
	ctx, span := tracer.Start(ctx, "sync:Run")
	defer span.End()
	span.SetAttributes(attribute.String("account", accountID))

	started := timezone.Now()
	result := o.pipeline(ctx, accountID)

	span.SetAttributes(attribute.String("status", result.Status.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if result.Status == SyncFailed {
		span.SetStatus(codes.Error, "sync run failed")
	}

	slog.InfoContext(ctx, "sync run finished",
		"account", accountID,
		"status", result.Status.String(),
		"inserts", result.Summary.Inserts,
		"updates", result.Summary.Updates,
		"deletes", result.Summary.Deletes,
		"skipped", result.Summary.Skipped,
		"took", time.Since(started),
		"err", result.Err,
	)
	return result
}

func (o *Orchestrator) pipeline(ctx context.Context, accountID string) SyncResult {
	session, err := o.authenticate(ctx, accountID)
	if err != nil {
		return SyncResult{Status: SyncFailed, Err: err}
	}

	records, covered, pageErrs, err := o.fetchAndExtract(ctx, accountID, session)
	if err != nil {
		return SyncResult{Status: SyncFailed, Err: err}
	}
	if len(covered) == 0 {
		return SyncResult{Status: SyncFailed, Err: errors.Join(pageErrs...)}
	}

	records = CanonicalizeSubjects(records)

	changes, err := o.reconcile(ctx, accountID, records, covered)
	if err != nil {
		return SyncResult{Status: SyncFailed, Err: err}
	}

	summary, skipErrs, err := o.publish(ctx, accountID, changes)
	if err != nil {
		return SyncResult{Status: SyncFailed, Summary: summary, Err: err}
	}

	status := SyncSucceeded
	if len(pageErrs) > 0 || summary.Skipped > 0 {
		status = SyncPartialFailure
	}
	return SyncResult{
		Status:  status,
		Summary: summary,
		Err:     errors.Join(append(pageErrs, skipErrs...)...),
	}
}

func (o *Orchestrator) authenticate(ctx context.Context, accountID string) (*dnevnik.Session, error) {
	ctx, span := tracer.Start(ctx, "sync:Authenticate")
	defer span.End()

	var session *dnevnik.Session
	err := retry.Do(ctx, o.authRetry, func() error {
		s, err := o.sessions.Ensure(ctx, accountID)
		var authErr *AuthError
		if errors.As(err, &authErr) && authErr.Reason == AuthInvalidCredentials {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "authentication failed")
		return nil, err
	}
	return session, nil
}

// fetchAndExtract walks the plan page by page. A failed page is logged
// and skipped, its ranges stay uncovered so its records survive
// reconciliation untouched. Two failures abort the whole run: a dead
// login (retrying other pages is pointless) and a schema mismatch
// (publishing partial extractions of an unrecognized layout is worse
// than failing loudly).
func (o *Orchestrator) fetchAndExtract(ctx context.Context, accountID string, session *dnevnik.Session) ([]Record, []Range, []error, error) {
	ctx, span := tracer.Start(ctx, "sync:FetchAndExtract")
	defer span.End()

	var records []Record
	var covered []Range
	var pageErrs []error

	for _, spec := range o.planner.Plan(timezone.Now()) {
		// cancellation checkpoint, a run never stops mid-page
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		page, err := o.fetchPage(ctx, accountID, &session, spec)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				span.SetStatus(codes.Error, "re-authentication failed")
				return nil, nil, nil, err
			}
			slog.WarnContext(ctx, "page fetch failed",
				"account", accountID, "page", spec.Kind, "err", err)
			pageErrs = append(pageErrs, err)
			continue
		}

		// a fetch in flight when cancellation lands still completes,
		// but its page is never handed to extraction
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		extracted, err := o.extractors.Extract(page)
		if err != nil {
			var extractErr *ExtractError
			if errors.As(err, &extractErr) {
				span.SetStatus(codes.Error, "portal layout changed")
				slog.ErrorContext(ctx, "page no longer matches its adapter",
					"account", accountID, "page", spec.Kind, "err", err)
				return nil, nil, nil, err
			}
			pageErrs = append(pageErrs, err)
			continue
		}

		records = append(records, extracted...)
		covered = append(covered, spec.Covers()...)
	}
	return records, covered, pageErrs, nil
}

// fetchPage allows exactly one re-authentication per page. A session
// that expires mid-run is rebuilt once, a second expiry right after a
// fresh login means something else is wrong.
func (o *Orchestrator) fetchPage(ctx context.Context, accountID string, session **dnevnik.Session, spec PageSpec) (RawPage, error) {
	page, err := o.fetcher.Fetch(ctx, accountID, *session, spec)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Reason != FetchSessionExpired {
		return page, err
	}

	slog.InfoContext(ctx, "session expired mid-run, re-authenticating",
		"account", accountID, "page", spec.Kind)
	o.sessions.Invalidate(accountID)
	fresh, err := o.sessions.Ensure(ctx, accountID)
	if err != nil {
		return RawPage{}, err
	}
	*session = fresh
	return o.fetcher.Fetch(ctx, accountID, fresh, spec)
}

func (o *Orchestrator) reconcile(ctx context.Context, accountID string, records []Record, covered []Range) (ChangeSet, error) {
	ctx, span := tracer.Start(ctx, "sync:Reconcile")
	defer span.End()

	var upserts, deletes ChangeSet
	for _, kind := range Kinds {
		ranges := rangesOf(covered, kind)
		if len(ranges) == 0 {
			continue
		}

		snapshot, err := o.controller.GetSnapshot(ctx, accountID, kind, boundingRange(kind, ranges))
		if err != nil {
			span.SetStatus(codes.Error, "snapshot read failed")
			return nil, err
		}

		for _, item := range Reconcile(recordsOf(records, kind), snapshot, ranges) {
			if item.Op == OpDelete {
				deletes = append(deletes, item)
			} else {
				upserts = append(upserts, item)
			}
		}
	}
	return append(upserts, deletes...), nil
}

func (o *Orchestrator) publish(ctx context.Context, accountID string, changes ChangeSet) (SyncSummary, []error, error) {
	ctx, span := tracer.Start(ctx, "sync:Publish")
	defer span.End()
	span.SetAttributes(attribute.Int("changes", len(changes)))

	var summary SyncSummary
	var skipErrs []error
	for _, item := range changes {
		if err := ctx.Err(); err != nil {
			return summary, nil, err
		}

		err := retry.Do(ctx, o.publishRetry, func() error {
			err := o.controller.ApplyChange(ctx, accountID, item)
			var pubErr *PublishError
			if errors.As(err, &pubErr) && pubErr.Reason == PublishConflict {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			slog.WarnContext(ctx, "change could not be published",
				"account", accountID, "op", item.Op, "key", item.Record.Key(), "err", err)
			summary.Skipped++
			skipErrs = append(skipErrs, err)
			continue
		}

		switch item.Op {
		case OpInsert:
			summary.Inserts++
		case OpUpdate:
			summary.Updates++
		case OpDelete:
			summary.Deletes++
		}
	}
	return summary, skipErrs, nil
}

func rangesOf(covered []Range, kind RecordKind) []Range {
	var out []Range
	for _, r := range covered {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func recordsOf(records []Record, kind RecordKind) []Record {
	var out []Record
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// boundingRange is the single window handed to the controller, wide
// enough to load every snapshot record the per-range delete check
// might need.
func boundingRange(kind RecordKind, ranges []Range) Range {
	out := Range{Kind: kind, From: ranges[0].From, To: ranges[0].To}
	for _, r := range ranges[1:] {
		if r.From.Before(out.From) {
			out.From = r.From
		}
		if r.To.After(out.To) {
			out.To = r.To
		}
	}
	return out
}
