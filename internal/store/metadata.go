package store

import (
	"context"
	"fmt"
)

func upsertMetadata(ctx context.Context, q querier, accountID int64, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO account_metadata (account_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(account_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		accountID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert metadata %q: %w", key, err)
	}
	return nil
}

func listMetadata(ctx context.Context, q querier, accountID int64) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM account_metadata WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
