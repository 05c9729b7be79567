package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Record struct {
	Account   string
	Kind      string
	Key       string
	Hash      string
	Subject   string
	Date      string
	Slot      int64
	Payload   string
	UpdatedAt int64
}

type Account struct {
	ID    string
	Login string
}

const upsertRecord = `
INSERT INTO records (account, kind, key, hash, subject, date, slot, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account, kind, key) DO UPDATE SET
    hash = excluded.hash,
    subject = excluded.subject,
    date = excluded.date,
    slot = excluded.slot,
    payload = excluded.payload,
    updated_at = excluded.updated_at
`

type UpsertRecordParams struct {
	Account   string
	Kind      string
	Key       string
	Hash      string
	Subject   string
	Date      string
	Slot      int64
	Payload   string
	UpdatedAt int64
}

func (q *Queries) UpsertRecord(ctx context.Context, arg UpsertRecordParams) error {
	_, err := q.db.ExecContext(ctx, upsertRecord,
		arg.Account,
		arg.Kind,
		arg.Key,
		arg.Hash,
		arg.Subject,
		arg.Date,
		arg.Slot,
		arg.Payload,
		arg.UpdatedAt,
	)
	return err
}

const deleteRecord = `
DELETE FROM records WHERE account = ? AND kind = ? AND key = ?
`

type DeleteRecordParams struct {
	Account string
	Kind    string
	Key     string
}

func (q *Queries) DeleteRecord(ctx context.Context, arg DeleteRecordParams) error {
	_, err := q.db.ExecContext(ctx, deleteRecord, arg.Account, arg.Kind, arg.Key)
	return err
}

const getRecordsInRange = `
SELECT account, kind, key, hash, subject, date, slot, payload, updated_at
FROM records
WHERE account = ? AND kind = ? AND date >= ? AND date <= ?
ORDER BY key
`

type GetRecordsInRangeParams struct {
	Account string
	Kind    string
	After   string
	Before  string
}

func (q *Queries) GetRecordsInRange(ctx context.Context, arg GetRecordsInRangeParams) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx, getRecordsInRange,
		arg.Account, arg.Kind, arg.After, arg.Before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.Account, &r.Kind, &r.Key, &r.Hash,
			&r.Subject, &r.Date, &r.Slot, &r.Payload, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const createAccount = `
INSERT INTO accounts (id, login) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET login = excluded.login
`

type CreateAccountParams struct {
	ID    string
	Login string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx, createAccount, arg.ID, arg.Login)
	return err
}

const deleteAccount = `
DELETE FROM accounts WHERE id = ?
`

func (q *Queries) DeleteAccount(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteAccount, id)
	return err
}

const deleteAccountRecords = `
DELETE FROM records WHERE account = ?
`

func (q *Queries) DeleteAccountRecords(ctx context.Context, account string) error {
	_, err := q.db.ExecContext(ctx, deleteAccountRecords, account)
	return err
}

const listAccounts = `
SELECT id, login FROM accounts ORDER BY id
`

func (q *Queries) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Login); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
