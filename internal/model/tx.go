package model

import (
	"context"
	"time"
)

// CandidateFilter selects accounts for a batch run. A nil Tier matches
// every tier; an empty Status matches every status.
type CandidateFilter struct {
	Tier                *Tier
	Status              string
	StudioCreatedBefore time.Time
}

// AccountTx is the set of operations allowed inside one account's
// transaction. Either every write commits or none does.
type AccountTx interface {
	// Record returns nil when the account does not exist.
	Record(ctx context.Context) (*AccountRecord, error)
	UpdateTier(ctx context.Context, tier Tier) error
	CreateSubscription(ctx context.Context, sub Subscription) (int64, error)
	ExtendSubscription(ctx context.Context, subscriptionID int64, status string, periodEnd time.Time) error
	UpsertMetadataFlag(ctx context.Context, key, value string) error
	SetCategories(ctx context.Context, categories []Category) error
}
