package store

import (
	"context"
	"fmt"
)

func countPayments(ctx context.Context, q querier, accountID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

// RecordPayment inserts a payment row for the account. Used for seeding
// and tests; the payment webhook owns these rows in production.
func (s *Store) RecordPayment(ctx context.Context, accountID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO payments (account_id) VALUES (?)`, accountID)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}
