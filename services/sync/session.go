package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/timezone"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	sessionCacheSize = 2048
	// the portal gives no explicit session expiry, observed lifetimes
	// sit around an hour so evict a little earlier
	sessionLifetime = time.Minute * 45
)

// SessionManager caches one authenticated portal session per account
// and collapses concurrent login attempts into a single credential
// exchange. Credentials are fetched from the controller on every
// login, never cached.
type SessionManager struct {
	credentials CredentialSource
	options     dnevnik.ClientOptions

	cache *expirable.LRU[string, *dnevnik.Session]
	group singleflight.Group
}

func NewSessionManager(credentials CredentialSource, options dnevnik.ClientOptions) *SessionManager {
	return &SessionManager{
		credentials: credentials,
		options:     options,
		cache:       expirable.NewLRU[string, *dnevnik.Session](sessionCacheSize, nil, sessionLifetime),
	}
}

// Ensure returns a live session for the account, logging in if the
// cache has none. Concurrent callers for the same account share one
// login attempt and its outcome.
func (m *SessionManager) Ensure(ctx context.Context, accountID string) (*dnevnik.Session, error) {
	if session, ok := m.cache.Get(accountID); ok {
		return session, nil
	}

	v, err, _ := m.group.Do(accountID, func() (any, error) {
		// a flight that just finished may have populated the cache
		if session, ok := m.cache.Get(accountID); ok {
			return session, nil
		}
		return m.login(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dnevnik.Session), nil
}

// Invalidate drops the cached session, the next Ensure logs in fresh.
func (m *SessionManager) Invalidate(accountID string) {
	m.cache.Remove(accountID)
}

func (m *SessionManager) login(ctx context.Context, accountID string) (*dnevnik.Session, error) {
	ref, err := m.credentials.GetCredentialRef(ctx, accountID)
	if err != nil {
		return nil, &AuthError{Reason: AuthTransient, Err: err}
	}

	client, err := dnevnik.NewClient(ctx, m.options)
	if err != nil {
		return nil, &AuthError{Reason: AuthTransient, Err: err}
	}

	identity, err := client.LoginUsernamePassword(ctx, ref.Login, ref.Secret)
	if errors.Is(err, dnevnik.ErrLoginFailed) {
		slog.WarnContext(ctx, "portal rejected credentials", "account", accountID)
		return nil, &AuthError{Reason: AuthInvalidCredentials, Err: err}
	}
	if err != nil {
		return nil, &AuthError{Reason: AuthTransient, Err: err}
	}

	session := &dnevnik.Session{
		Client:    client,
		Identity:  identity,
		CreatedAt: timezone.Now(),
	}
	m.cache.Add(accountID, session)

	slog.InfoContext(ctx, "portal session established",
		"account", accountID, "person", identity.PersonID)
	return session, nil
}
