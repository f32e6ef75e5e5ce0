package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/legacygrant/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite implementation of the storage collaborator used by
// the migration orchestrator and the listing write path.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindCandidates returns every account matching f with its subscriptions,
// payment count, metadata, and categories embedded.
func (s *Store) FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.AccountRecord, error) {
	query := `SELECT ` + accountCols + ` FROM accounts WHERE studio_created_at IS NOT NULL`
	var args []any
	if f.Tier != nil {
		query += ` AND tier = ?`
		args = append(args, string(*f.Tier))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id`

	accounts, err := listAccounts(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	records := make([]model.AccountRecord, 0, len(accounts))
	for _, a := range accounts {
		if !f.StudioCreatedBefore.IsZero() && !a.StudioCreatedAt.Before(f.StudioCreatedBefore) {
			continue
		}
		rec, err := loadRecord(ctx, s.db, a)
		if err != nil {
			return nil, fmt.Errorf("find candidates: %w", err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// GetRecord returns the account with its history, or nil if it does not exist.
func (s *Store) GetRecord(ctx context.Context, accountID int64) (*model.AccountRecord, error) {
	a, err := getAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	return loadRecord(ctx, s.db, a)
}

// RunInTransaction runs fn inside a transaction scoped to one account. The
// transaction commits only if fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, accountID int64, fn func(model.AccountTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&accountTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit account %d: %w", accountID, err)
	}
	return nil
}

// UpsertMetadataFlag sets one metadata flag outside any batch transaction.
func (s *Store) UpsertMetadataFlag(ctx context.Context, accountID int64, key, value string) error {
	return upsertMetadata(ctx, s.db, accountID, key, value)
}

func loadRecord(ctx context.Context, q querier, a *model.Account) (*model.AccountRecord, error) {
	subs, err := listSubscriptions(ctx, q, a.ID)
	if err != nil {
		return nil, err
	}
	payments, err := countPayments(ctx, q, a.ID)
	if err != nil {
		return nil, err
	}
	meta, err := listMetadata(ctx, q, a.ID)
	if err != nil {
		return nil, err
	}
	cats, err := listCategories(ctx, q, a.ID)
	if err != nil {
		return nil, err
	}
	return &model.AccountRecord{
		Account:       *a,
		Subscriptions: subs,
		PaymentCount:  payments,
		Metadata:      meta,
		Categories:    cats,
	}, nil
}
