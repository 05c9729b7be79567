package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"

	"dnevniksync/lib/snapshotstore"
)

// LocalController implements Controller on top of the snapshot store,
// with credentials held in memory. It is the deployment mode where the
// sync daemon owns its own records instead of publishing to a remote
// system.
type LocalController struct {
	store snapshotstore.Store

	mu          gosync.RWMutex
	credentials map[string]CredentialRef
}

func NewLocalController(store snapshotstore.Store) *LocalController {
	return &LocalController{
		store:       store,
		credentials: map[string]CredentialRef{},
	}
}

// LinkAccount registers the account with its portal credentials.
func (c *LocalController) LinkAccount(ctx context.Context, accountID string, ref CredentialRef) error {
	err := c.store.CreateAccount(ctx, accountID, ref.Login)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.credentials[accountID] = ref
	c.mu.Unlock()
	return nil
}

func (c *LocalController) UnlinkAccount(ctx context.Context, accountID string) error {
	err := c.store.DeleteAccount(ctx, accountID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.credentials, accountID)
	c.mu.Unlock()
	return nil
}

func (c *LocalController) GetCredentialRef(ctx context.Context, accountID string) (CredentialRef, error) {
	c.mu.RLock()
	ref, ok := c.credentials[accountID]
	c.mu.RUnlock()
	if !ok {
		return CredentialRef{}, fmt.Errorf("account %q has no linked credentials", accountID)
	}
	return ref, nil
}

func (c *LocalController) GetSnapshot(ctx context.Context, accountID string, kind RecordKind, rng Range) ([]Record, error) {
	rows, err := c.store.Query(ctx, accountID, string(kind), rng.From, rng.To)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		var record Record
		err := json.Unmarshal([]byte(row.Payload), &record)
		if err != nil {
			return nil, fmt.Errorf("stored record %q has a malformed payload: %w", row.Key, err)
		}
		records[i] = record
	}
	return records, nil
}

func (c *LocalController) ApplyChange(ctx context.Context, accountID string, item ChangeItem) error {
	record := item.Record
	if item.Op == OpDelete {
		return c.store.Delete(ctx, accountID, string(record.Kind), record.Key())
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.Upsert(ctx, snapshotstore.Row{
		Account: accountID,
		Kind:    string(record.Kind),
		Key:     record.Key(),
		Hash:    record.ContentHash(),
		Subject: record.Subject,
		Date:    record.Date,
		Slot:    record.Slot,
		Payload: string(payload),
	})
}

func (c *LocalController) ListAccounts(ctx context.Context) ([]string, error) {
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids, nil
}
