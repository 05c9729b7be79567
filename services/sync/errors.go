package sync

import "fmt"

// every failure in the pipeline is classified into one of four error
// kinds so callers can tell retryable conditions apart from ones that
// need a human (re-linking an account, updating a page adapter)

type AuthReason int

const (
	// AuthInvalidCredentials means the portal rejected the login,
	// retrying cannot help until the user re-links the account.
	AuthInvalidCredentials AuthReason = iota
	// AuthTransient covers network failures and portal 5xx during
	// login, safe to retry with backoff.
	AuthTransient
)

func (r AuthReason) String() string {
	switch r {
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthTransient:
		return "transient"
	}
	return "unknown"
}

type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth failed (%s)", e.Reason)
	}
	return fmt.Sprintf("auth failed (%s): %s", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type FetchReason int

const (
	// FetchSessionExpired means the portal served the login page (or a
	// 401/403) in place of content, the session needs to be rebuilt.
	FetchSessionExpired FetchReason = iota
	// FetchUnavailable means retries were exhausted without getting a
	// usable page.
	FetchUnavailable
)

func (r FetchReason) String() string {
	switch r {
	case FetchSessionExpired:
		return "session_expired"
	case FetchUnavailable:
		return "unavailable"
	}
	return "unknown"
}

type FetchError struct {
	Reason FetchReason
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s failed (%s)", e.URL, e.Reason)
	}
	return fmt.Sprintf("fetch %s failed (%s): %s", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type ExtractReason int

const (
	// ExtractSchemaMismatch means the structural anchors the records
	// are keyed on are gone, the portal layout changed and the page
	// adapter needs updating. Never retried.
	ExtractSchemaMismatch ExtractReason = iota
)

func (r ExtractReason) String() string {
	switch r {
	case ExtractSchemaMismatch:
		return "schema_mismatch"
	}
	return "unknown"
}

type ExtractError struct {
	Reason ExtractReason
	Page   PageKind
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s failed (%s): %s", e.Page, e.Reason, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

type PublishReason int

const (
	PublishConflict PublishReason = iota
	PublishUnavailable
)

func (r PublishReason) String() string {
	switch r {
	case PublishConflict:
		return "conflict"
	case PublishUnavailable:
		return "unavailable"
	}
	return "unknown"
}

type PublishError struct {
	Reason PublishReason
	Err    error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("publish failed (%s)", e.Reason)
	}
	return fmt.Sprintf("publish failed (%s): %s", e.Reason, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
