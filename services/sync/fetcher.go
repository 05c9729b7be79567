package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	gosync "sync"
	"time"

	"dnevniksync/lib/retry"
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/timezone"

	"golang.org/x/time/rate"
)

type PageKind string

const (
	PageMarks    PageKind = "marks"
	PageSchedule PageKind = "schedule"
)

// PageSpec names one portal page to fetch plus the date window it is
// authoritative for. The window scopes which stored records a fetch of
// this page is allowed to delete.
type PageSpec struct {
	Kind PageKind
	From time.Time
	To   time.Time
}

// Covers maps the page onto the record ranges it vouches for. The
// printable schedule page carries both the timetable and homework, so
// it covers two kinds at once.
func (s PageSpec) Covers() []Range {
	switch s.Kind {
	case PageMarks:
		return []Range{{Kind: KindGrade, From: s.From, To: s.To}}
	case PageSchedule:
		return []Range{
			{Kind: KindSchedule, From: s.From, To: s.To},
			{Kind: KindHomework, From: s.From, To: s.To},
		}
	}
	return nil
}

// RawPage is a fetched page body plus the spec it answers. A nil Body
// with a nil error means the portal reports no content for the window
// (a week with no lessons), which still counts as covered.
type RawPage struct {
	Spec      PageSpec
	AccountID string
	FetchedAt time.Time
	Body      []byte
}

// PageFetcher pulls pages through an authenticated session, pacing
// requests per account so a burst of syncs cannot hammer the portal.
type PageFetcher struct {
	policy      retry.Policy
	minInterval time.Duration

	mu       gosync.Mutex
	limiters map[string]*rate.Limiter
}

func NewPageFetcher(minInterval time.Duration) *PageFetcher {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &PageFetcher{
		policy:      retry.Quick,
		minInterval: minInterval,
		limiters:    map[string]*rate.Limiter{},
	}
}

func (f *PageFetcher) limiter(accountID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[accountID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(f.minInterval), 1)
		f.limiters[accountID] = limiter
	}
	return limiter
}

func (f *PageFetcher) Fetch(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error) {
	switch spec.Kind {
	case PageMarks:
		return f.fetchMarks(ctx, accountID, session, spec)
	case PageSchedule:
		return f.fetchSchedule(ctx, accountID, session, spec)
	}
	return RawPage{}, fmt.Errorf("unknown page kind %q", spec.Kind)
}

func (f *PageFetcher) fetchMarks(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error) {
	body, err := f.get(ctx, accountID, session, session.Client.MarksURL(session.Identity))
	if err != nil {
		return RawPage{}, err
	}
	if dnevnik.LooksLikeLoginPage(body) {
		return RawPage{}, &FetchError{Reason: FetchSessionExpired, URL: session.Client.MarksURL(session.Identity)}
	}
	return RawPage{
		Spec:      spec,
		AccountID: accountID,
		FetchedAt: timezone.Now(),
		Body:      body,
	}, nil
}

// the printable week page is reached through the interactive view
// page, the portal only links it from there
func (f *PageFetcher) fetchSchedule(ctx context.Context, accountID string, session *dnevnik.Session, spec PageSpec) (RawPage, error) {
	viewURL := session.Client.ScheduleViewURL(session.Identity, spec.From)
	view, err := f.get(ctx, accountID, session, viewURL)
	if err != nil {
		return RawPage{}, err
	}
	if dnevnik.LooksLikeLoginPage(view) {
		return RawPage{}, &FetchError{Reason: FetchSessionExpired, URL: viewURL}
	}

	link, err := dnevnik.ParsePrintLink(view)
	if err != nil {
		return RawPage{}, &FetchError{Reason: FetchUnavailable, URL: viewURL, Err: err}
	}
	if link == "" {
		// the portal drops the print link on empty weeks
		return RawPage{
			Spec:      spec,
			AccountID: accountID,
			FetchedAt: timezone.Now(),
		}, nil
	}

	printURL, err := resolveLink(session.Client.SchoolsUrl, link)
	if err != nil {
		return RawPage{}, &FetchError{Reason: FetchUnavailable, URL: viewURL, Err: err}
	}

	body, err := f.get(ctx, accountID, session, printURL)
	if err != nil {
		return RawPage{}, err
	}
	if dnevnik.LooksLikeLoginPage(body) {
		return RawPage{}, &FetchError{Reason: FetchSessionExpired, URL: printURL}
	}
	return RawPage{
		Spec:      spec,
		AccountID: accountID,
		FetchedAt: timezone.Now(),
		Body:      body,
	}, nil
}

func resolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// get performs one paced, retried request. Auth rejections surface as
// FetchSessionExpired without burning retry attempts, everything else
// transient is retried until the policy gives up.
func (f *PageFetcher) get(ctx context.Context, accountID string, session *dnevnik.Session, pageURL string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, f.policy, func() error {
		err := f.limiter(accountID).Wait(ctx)
		if err != nil {
			return retry.Permanent(err)
		}

		res, err := session.Client.Http.R().
			SetContext(ctx).
			Get(pageURL)
		if err != nil {
			return err
		}

		status := res.StatusCode()
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return retry.Permanent(&FetchError{Reason: FetchSessionExpired, URL: pageURL})
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("portal returned %d for %s", status, pageURL)
		case status != http.StatusOK:
			return retry.Permanent(fmt.Errorf("portal returned %d for %s", status, pageURL))
		}
		body = res.Body()
		return nil
	})
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &FetchError{Reason: FetchUnavailable, URL: pageURL, Err: err}
	}
	return body, nil
}
