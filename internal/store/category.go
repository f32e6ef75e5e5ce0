package store

import (
	"context"
	"fmt"

	"github.com/dukerupert/legacygrant/internal/model"
)

func listCategories(ctx context.Context, q querier, accountID int64) ([]model.Category, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT category FROM account_categories WHERE account_id = ? ORDER BY sort_order, category`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, model.Category(c))
	}
	return cats, rows.Err()
}

// setCategories replaces the account's categories. Callers must run it
// inside a transaction.
func setCategories(ctx context.Context, q querier, accountID int64, cats []model.Category) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM account_categories WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for i, c := range cats {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO account_categories (account_id, category, sort_order) VALUES (?, ?, ?)`,
			accountID, string(c), i,
		); err != nil {
			return fmt.Errorf("insert category %q: %w", c, err)
		}
	}
	return nil
}
