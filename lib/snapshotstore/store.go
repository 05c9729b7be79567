// Package snapshotstore persists the last reconciled record set per
// account. It backs the controller's snapshot interface when syncs run
// against local storage and doubles as the reference implementation of
// the idempotent apply contract.
package snapshotstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"dnevniksync/lib/snapshotstore/db"
	"dnevniksync/lib/timezone"
)

type Config struct {
	// File is a local sqlite path, used when Url is empty.
	File string `json:"file"`
	// Url points at a remote libsql instance.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Config) OpenDB() (*sql.DB, error) {
	if config.Url == "" {
		if config.File == "" {
			return nil, fmt.Errorf("a database path was not specified")
		}

		_, statErr := os.Stat(config.File)
		if os.IsNotExist(statErr) && config.File != ":memory:" {
			f, err := os.Create(config.File)
			if err != nil {
				return nil, err
			}
			f.Close()
		}

		database, err := sql.Open("sqlite", config.File)
		if err != nil {
			return nil, err
		}
		// see this stackoverflow post for information on why the following
		// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		database.SetMaxOpenConns(1)
		_, err = database.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			return nil, err
		}
		return database, nil
	}

	remote, err := url.Parse(config.Url)
	if err != nil {
		return nil, err
	}
	if config.AuthToken != "" {
		query := remote.Query()
		query.Set("authToken", config.AuthToken)
		remote.RawQuery = query.Encode()
	}
	return sql.Open("libsql", remote.String())
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(db.Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{
		db:  database,
		qry: db.New(database),
	}, nil
}

// Row is one stored record. Payload carries the kind-specific mutable
// fields as JSON, Hash is the content hash over those same fields.
type Row struct {
	Account string
	Kind    string
	Key     string
	Hash    string
	Subject string
	Date    time.Time
	Slot    int
	Payload string
}

type Account struct {
	ID    string
	Login string
}

func (s Store) Upsert(ctx context.Context, row Row) error {
	return s.qry.UpsertRecord(ctx, db.UpsertRecordParams{
		Account:   row.Account,
		Kind:      row.Kind,
		Key:       row.Key,
		Hash:      row.Hash,
		Subject:   row.Subject,
		Date:      row.Date.Format(time.DateOnly),
		Slot:      int64(row.Slot),
		Payload:   row.Payload,
		UpdatedAt: timezone.Now().Unix(),
	})
}

func (s Store) Delete(ctx context.Context, account, kind, key string) error {
	return s.qry.DeleteRecord(ctx, db.DeleteRecordParams{
		Account: account,
		Kind:    kind,
		Key:     key,
	})
}

func (s Store) Query(ctx context.Context, account, kind string, from, to time.Time) ([]Row, error) {
	rows, err := s.qry.GetRecordsInRange(ctx, db.GetRecordsInRangeParams{
		Account: account,
		Kind:    kind,
		After:   from.Format(time.DateOnly),
		Before:  to.Format(time.DateOnly),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		date, err := time.ParseInLocation(time.DateOnly, r.Date, timezone.Location)
		if err != nil {
			return nil, fmt.Errorf("stored record %q has a malformed date: %w", r.Key, err)
		}
		out[i] = Row{
			Account: r.Account,
			Kind:    r.Kind,
			Key:     r.Key,
			Hash:    r.Hash,
			Subject: r.Subject,
			Date:    date,
			Slot:    int(r.Slot),
			Payload: r.Payload,
		}
	}
	return out, nil
}

func (s Store) CreateAccount(ctx context.Context, id, login string) error {
	return s.qry.CreateAccount(ctx, db.CreateAccountParams{ID: id, Login: login})
}

// DeleteAccount removes the account and every record scraped for it.
func (s Store) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	err = txqry.DeleteAccountRecords(ctx, id)
	if err != nil {
		return err
	}
	err = txqry.DeleteAccount(ctx, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.qry.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, len(rows))
	for i, a := range rows {
		out[i] = Account{ID: a.ID, Login: a.Login}
	}
	return out, nil
}
