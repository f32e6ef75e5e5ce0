package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

// accountTx scopes every write to the account the transaction was opened for.
type accountTx struct {
	tx        *sql.Tx
	accountID int64
}

func (t *accountTx) Record(ctx context.Context) (*model.AccountRecord, error) {
	a, err := getAccount(ctx, t.tx, t.accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	return loadRecord(ctx, t.tx, a)
}

func (t *accountTx) UpdateTier(ctx context.Context, tier model.Tier) error {
	return updateTier(ctx, t.tx, t.accountID, tier)
}

func (t *accountTx) CreateSubscription(ctx context.Context, sub model.Subscription) (int64, error) {
	sub.AccountID = t.accountID
	return createSubscription(ctx, t.tx, sub)
}

func (t *accountTx) ExtendSubscription(ctx context.Context, subscriptionID int64, status string, periodEnd time.Time) error {
	return extendSubscription(ctx, t.tx, t.accountID, subscriptionID, status, periodEnd)
}

func (t *accountTx) UpsertMetadataFlag(ctx context.Context, key, value string) error {
	return upsertMetadata(ctx, t.tx, t.accountID, key, value)
}

func (t *accountTx) SetCategories(ctx context.Context, categories []model.Category) error {
	return setCategories(ctx, t.tx, t.accountID, categories)
}
