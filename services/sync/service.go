package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"dnevniksync/lib/scrapers/dnevnik"
)

type ServiceOptions struct {
	Controller Controller
	Portal     dnevnik.ClientOptions
	// MinRequestInterval paces portal requests per account.
	MinRequestInterval time.Duration
	ScheduleWeeks      int
	MaxParallelRuns    int
	// SyncInterval is how often the daemon re-syncs every account.
	// Zero means 30 minutes.
	SyncInterval time.Duration
}

// Service wires the full pipeline together and adds the periodic
// all-accounts sync on top.
type Service struct {
	controller Controller
	orch       *Orchestrator
	portal     dnevnik.ClientOptions
	interval   time.Duration
}

func NewService(opts ServiceOptions) *Service {
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = time.Minute * 30
	}

	sessions := NewSessionManager(opts.Controller, opts.Portal)
	fetcher := NewPageFetcher(opts.MinRequestInterval)
	orch := NewOrchestrator(OrchestratorOptions{
		Sessions:        sessions,
		Fetcher:         fetcher,
		Extractors:      DefaultExtractors(),
		Controller:      opts.Controller,
		Planner:         WeekPlanner{ScheduleWeeks: opts.ScheduleWeeks},
		MaxParallelRuns: opts.MaxParallelRuns,
	})

	return &Service{
		controller: opts.Controller,
		orch:       orch,
		portal:     opts.Portal,
		interval:   interval,
	}
}

func (s *Service) TriggerSync(ctx context.Context, accountID string) SyncResult {
	return s.orch.TriggerSync(ctx, accountID)
}

// Verify checks portal credentials without touching any account state,
// used when linking an account. The session is thrown away.
func (s *Service) Verify(ctx context.Context, login, secret string) (dnevnik.Identity, error) {
	client, err := dnevnik.NewClient(ctx, s.portal)
	if err != nil {
		return dnevnik.Identity{}, err
	}
	return client.LoginUsernamePassword(ctx, login, secret)
}

// SyncAll syncs every linked account, bounded by the orchestrator's
// parallelism limit, and waits for all of them.
func (s *Service) SyncAll(ctx context.Context) error {
	accounts, err := s.controller.ListAccounts(ctx)
	if err != nil {
		return err
	}

	var wg gosync.WaitGroup
	for _, accountID := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.orch.TriggerSync(ctx, accountID)
		}()
	}
	wg.Wait()
	return nil
}

// RunDaemon periodically syncs all accounts until ctx is cancelled. It
// syncs once immediately on start.
func (s *Service) RunDaemon(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		err := s.SyncAll(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "periodic sync pass failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
