package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var tier, role string
	var studio sql.NullTime
	err := scanner.Scan(&a.ID, &a.Email, &tier, &role, &a.Status, &studio, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Tier = model.Tier(tier)
	a.Role = model.Role(role)
	if studio.Valid {
		t := studio.Time.UTC()
		a.StudioCreatedAt = &t
	}
	return &a, nil
}

const accountCols = `id, email, tier, role, status, studio_created_at, created_at, updated_at`

func getAccount(ctx context.Context, q querier, id int64) (*model.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func listAccounts(ctx context.Context, q querier, query string, args ...any) ([]*model.Account, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func updateTier(ctx context.Context, q querier, id int64, tier model.Tier) error {
	result, err := q.ExecContext(ctx,
		`UPDATE accounts SET tier = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(tier), id,
	)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update tier: account %d not found", id)
	}
	return nil
}

// NewAccount holds the fields accepted when creating an account.
type NewAccount struct {
	Email           string
	Tier            model.Tier
	Role            model.Role
	Status          string
	StudioCreatedAt *time.Time
}

// CreateAccount inserts an account. The signup flow owns account creation
// in production; this is used for seeding and tests.
func (s *Store) CreateAccount(ctx context.Context, na NewAccount) (*model.Account, error) {
	if na.Tier == "" {
		na.Tier = model.TierBasic
	}
	if na.Role == "" {
		na.Role = model.RoleUser
	}
	if na.Status == "" {
		na.Status = model.AccountStatusActive
	}
	var studio any
	if na.StudioCreatedAt != nil {
		studio = na.StudioCreatedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, tier, role, status, studio_created_at) VALUES (?, ?, ?, ?, ?)`,
		na.Email, string(na.Tier), string(na.Role), na.Status, studio,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return getAccount(ctx, s.db, id)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return getAccount(ctx, s.db, id)
}
