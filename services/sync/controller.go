package sync

import "context"

// CredentialRef is what the controller hands back for an account. The
// pipeline never stores these, they live only for the duration of a
// login attempt.
type CredentialRef struct {
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

type CredentialSource interface {
	GetCredentialRef(ctx context.Context, accountID string) (CredentialRef, error)
}

// Controller is the owning system the pipeline syncs against. It holds
// the linked accounts, their credentials and the last published
// snapshot. ApplyChange must be idempotent, the orchestrator retries
// it on transient failures.
type Controller interface {
	CredentialSource

	GetSnapshot(ctx context.Context, accountID string, kind RecordKind, rng Range) ([]Record, error)
	ApplyChange(ctx context.Context, accountID string, item ChangeItem) error
	ListAccounts(ctx context.Context) ([]string, error)
}
