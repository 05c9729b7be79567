package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"dnevniksync/lib/retry"
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/timezone"

	"github.com/stretchr/testify/require"
)

// memController keeps the published snapshot in memory and lets tests
// inject publish failures per key.
type memController struct {
	mu       gosync.Mutex
	creds    map[string]CredentialRef
	records  map[string]Record
	failKeys map[string]error
	applies  int
}

func newMemController() *memController {
	return &memController{
		creds:    map[string]CredentialRef{"acc-1": {Login: "student", Secret: "letmein"}},
		records:  map[string]Record{},
		failKeys: map[string]error{},
	}
}

func (c *memController) GetCredentialRef(ctx context.Context, accountID string) (CredentialRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.creds[accountID]
	if !ok {
		return CredentialRef{}, fmt.Errorf("account %q has no linked credentials", accountID)
	}
	return ref, nil
}

func (c *memController) GetSnapshot(ctx context.Context, accountID string, kind RecordKind, rng Range) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, r := range c.records {
		if r.Kind == kind && rng.Contains(r.Kind, r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *memController) ApplyChange(ctx context.Context, accountID string, item ChangeItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applies++
	key := item.Record.Key()
	if err, ok := c.failKeys[key]; ok {
		return err
	}
	if item.Op == OpDelete {
		delete(c.records, key)
	} else {
		c.records[key] = item.Record
	}
	return nil
}

func (c *memController) ListAccounts(ctx context.Context) ([]string, error) {
	return []string{"acc-1"}, nil
}

func (c *memController) seed(records ...Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.records[r.Key()] = r
	}
}

func (c *memController) appliesCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applies
}

func (c *memController) recordCount(kind RecordKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

type fakeSessions struct {
	mu          gosync.Mutex
	ensures     int
	invalidates int
	err         error
}

func (s *fakeSessions) Ensure(ctx context.Context, accountID string) (*dnevnik.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	if s.err != nil {
		return nil, s.err
	}
	return &dnevnik.Session{CreatedAt: timezone.Now()}, nil
}

func (s *fakeSessions) Invalidate(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidates++
}

// fakeFetcher serves canned bodies per page kind, with optional
// one-shot errors consumed in order.
type fakeFetcher struct {
	mu     gosync.Mutex
	bodies map[PageKind][]byte
	errs   map[PageKind][]error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if queue := f.errs[spec.Kind]; len(queue) > 0 {
		err := queue[0]
		f.errs[spec.Kind] = queue[1:]
		if err != nil {
			return RawPage{}, err
		}
	}
	return RawPage{
		Spec:      spec,
		AccountID: accountID,
		FetchedAt: timezone.Now(),
		Body:      f.bodies[spec.Kind],
	}, nil
}

type fixedPlanner []PageSpec

func (p fixedPlanner) Plan(time.Time) []PageSpec { return p }

var testPlan = fixedPlanner{
	{Kind: PageMarks, From: timezone.Date(2024, 5, 1), To: timezone.Date(2024, 5, 31)},
	{Kind: PageSchedule, From: timezone.Date(2024, 5, 13), To: timezone.Date(2024, 5, 19)},
}

func testFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[PageKind][]byte{
			PageMarks:    []byte(marksBody),
			PageSchedule: []byte(scheduleBody),
		},
		errs: map[PageKind][]error{},
	}
}

func testOrchestrator(controller *memController, sessions Sessions, fetcher Fetcher) *Orchestrator {
	fastRetry := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return NewOrchestrator(OrchestratorOptions{
		Sessions:     sessions,
		Fetcher:      fetcher,
		Extractors:   DefaultExtractors(),
		Controller:   controller,
		Planner:      testPlan,
		PublishRetry: fastRetry,
		AuthRetry:    fastRetry,
	})
}

func TestSyncRunConvergesOnPortalState(t *testing.T) {
	controller := newMemController()
	orch := testOrchestrator(controller, &fakeSessions{}, testFetcher())

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.NoError(t, result.Err)
	require.Equal(t, SyncSucceeded, result.Status)
	// 2 grades, 3 lessons, 2 homework entries
	require.Equal(t, 7, result.Summary.Inserts)
	require.Equal(t, 0, result.Summary.Skipped)

	// a second run against unchanged pages publishes nothing
	result = orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncSucceeded, result.Status)
	require.Equal(t, SyncSummary{}, result.Summary)
}

func TestSyncDeletesVanishedRecordsInsideWindow(t *testing.T) {
	controller := newMemController()
	controller.seed(
		// inside the marks window but absent from the page
		gradeRecord("Химия", 20, 2, "3"),
		// before the window, must survive
		Record{
			AccountID: "acc-1", Kind: KindGrade, Subject: "Химия",
			Date: timezone.Date(2024, 4, 2), Slot: 2, Score: "3",
		},
	)
	orch := testOrchestrator(controller, &fakeSessions{}, testFetcher())

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncSucceeded, result.Status)
	require.Equal(t, 1, result.Summary.Deletes)
	require.Equal(t, 3, controller.recordCount(KindGrade))
}

func TestSyncSkipsFailedPageAndKeepsItsRecords(t *testing.T) {
	controller := newMemController()
	stale := Record{
		AccountID: "acc-1", Kind: KindSchedule, Subject: "История",
		Date: timezone.Date(2024, 5, 14), Slot: 5, Room: "101",
	}
	controller.seed(stale)

	fetcher := testFetcher()
	fetcher.errs[PageSchedule] = []error{
		&FetchError{Reason: FetchUnavailable, URL: "/v2/schedules/view"},
	}
	orch := testOrchestrator(controller, &fakeSessions{}, fetcher)

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncPartialFailure, result.Status)
	require.Error(t, result.Err)

	// grades still synced
	require.Equal(t, 2, controller.recordCount(KindGrade))
	// the schedule page was not covered, its stale record survives
	require.Equal(t, 1, controller.recordCount(KindSchedule))
}

func TestSyncFailsOnInvalidCredentialsWithoutPublishing(t *testing.T) {
	controller := newMemController()
	sessions := &fakeSessions{err: &AuthError{Reason: AuthInvalidCredentials}}
	orch := testOrchestrator(controller, sessions, testFetcher())

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncFailed, result.Status)

	var authErr *AuthError
	require.ErrorAs(t, result.Err, &authErr)
	require.Equal(t, AuthInvalidCredentials, authErr.Reason)
	require.Equal(t, 0, controller.appliesCount())
	// permanent rejections are not retried
	require.Equal(t, 1, sessions.ensures)
}

func TestSyncReauthenticatesExpiredSessionOnce(t *testing.T) {
	controller := newMemController()
	sessions := &fakeSessions{}
	fetcher := testFetcher()
	fetcher.errs[PageMarks] = []error{
		&FetchError{Reason: FetchSessionExpired, URL: "/api/v2/marks"},
	}
	orch := testOrchestrator(controller, sessions, fetcher)

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncSucceeded, result.Status)
	require.Equal(t, 7, result.Summary.Inserts)
	require.Equal(t, 1, sessions.invalidates)
	require.Equal(t, 2, sessions.ensures)
}

func TestSyncFailsOnSchemaMismatch(t *testing.T) {
	controller := newMemController()
	fetcher := testFetcher()
	fetcher.bodies[PageMarks] = []byte(`{"error": "redesign"}`)
	orch := testOrchestrator(controller, &fakeSessions{}, fetcher)

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncFailed, result.Status)

	var extractErr *ExtractError
	require.ErrorAs(t, result.Err, &extractErr)
	require.Equal(t, 0, controller.appliesCount())
}

func TestSyncSkipsUnpublishableChange(t *testing.T) {
	controller := newMemController()
	blocked := Record{
		AccountID: "acc-1", Kind: KindGrade, Subject: "Алгебра",
		Date: timezone.Date(2024, 5, 13), Slot: 1,
	}
	controller.failKeys[blocked.Key()] = &PublishError{Reason: PublishUnavailable}
	orch := testOrchestrator(controller, &fakeSessions{}, testFetcher())

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncPartialFailure, result.Status)
	require.Equal(t, 6, result.Summary.Inserts)
	require.Equal(t, 1, result.Summary.Skipped)
}

func TestSyncConflictIsNotRetried(t *testing.T) {
	controller := newMemController()
	blocked := Record{
		AccountID: "acc-1", Kind: KindGrade, Subject: "Алгебра",
		Date: timezone.Date(2024, 5, 13), Slot: 1,
	}
	controller.failKeys[blocked.Key()] = &PublishError{Reason: PublishConflict}
	orch := testOrchestrator(controller, &fakeSessions{}, testFetcher())

	result := orch.TriggerSync(context.Background(), "acc-1")
	require.Equal(t, SyncPartialFailure, result.Status)
	// 7 changes, the conflicting one tried exactly once
	require.Equal(t, 7, controller.appliesCount())
}

// blockingFetcher parks the first fetch until released so a second
// trigger can land mid-run.
type blockingFetcher struct {
	inner   *fakeFetcher
	started chan struct{}
	release chan struct{}
	once    gosync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error) {
	f.once.Do(func() {
		close(f.started)
		<-f.release
	})
	return f.inner.Fetch(ctx, accountID, session, spec)
}

func TestTriggerSyncCoalescesConcurrentRuns(t *testing.T) {
	controller := newMemController()
	fetcher := &blockingFetcher{
		inner:   testFetcher(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	sessions := &fakeSessions{}
	orch := testOrchestrator(controller, sessions, fetcher)

	results := make(chan SyncResult, 2)
	go func() {
		results <- orch.TriggerSync(context.Background(), "acc-1")
	}()
	<-fetcher.started
	go func() {
		results <- orch.TriggerSync(context.Background(), "acc-1")
	}()

	// give the second trigger time to register as pending, then let
	// the first run finish
	time.Sleep(time.Millisecond * 50)
	close(fetcher.release)

	first := <-results
	second := <-results
	require.Equal(t, first, second)

	// the coalesced trigger schedules exactly one follow-up run
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return sessions.ensures == 2
	}, time.Second*5, time.Millisecond*10)
}
