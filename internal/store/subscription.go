package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var stripeSubID, stripeCustomerID sql.NullString
	var periodStart, periodEnd sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &stripeSubID, &stripeCustomerID, &sub.Status,
		&periodStart, &periodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeSubID.Valid {
		sub.StripeSubscriptionID = &stripeSubID.String
	}
	if stripeCustomerID.Valid {
		sub.StripeCustomerID = &stripeCustomerID.String
	}
	if periodStart.Valid {
		t := periodStart.Time.UTC()
		sub.PeriodStart = &t
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		sub.PeriodEnd = &t
	}
	return &sub, nil
}

const subscriptionCols = `id, account_id, stripe_subscription_id, stripe_customer_id, status, period_start, period_end, created_at, updated_at`

// listSubscriptions returns the account's subscriptions, newest first.
func listSubscriptions(ctx context.Context, q querier, accountID int64) ([]model.Subscription, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func createSubscription(ctx context.Context, q querier, sub model.Subscription) (int64, error) {
	if sub.Status == "" {
		sub.Status = model.SubscriptionStatusActive
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO subscriptions (account_id, stripe_subscription_id, stripe_customer_id, status, period_start, period_end)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.AccountID, nullString(sub.StripeSubscriptionID), nullString(sub.StripeCustomerID),
		sub.Status, nullTime(sub.PeriodStart), nullTime(sub.PeriodEnd),
	)
	if err != nil {
		return 0, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func extendSubscription(ctx context.Context, q querier, accountID, id int64, status string, periodEnd time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, period_end = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND account_id = ?`,
		status, periodEnd.UTC(), id, accountID,
	)
	if err != nil {
		return fmt.Errorf("extend subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("extend subscription: subscription %d not found for account %d", id, accountID)
	}
	return nil
}

// CreateSubscription records a subscription. Paid rows are written by the
// payment webhook in production; this is used for seeding and tests.
func (s *Store) CreateSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	id, err := createSubscription(ctx, s.db, sub)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	created, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return created, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, accountID int64) ([]model.Subscription, error) {
	return listSubscriptions(ctx, s.db, accountID)
}
