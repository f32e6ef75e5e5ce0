package migration

import (
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

// Bucket classifies a candidate by its most recent subscription.
type Bucket string

const (
	BucketNeedsNewGrant  Bucket = "needs_new_grant"
	BucketHasActiveGrant Bucket = "has_active_grant"
	BucketNeedsRenewal   Bucket = "needs_renewal"
)

// Classify places rec in exactly one bucket: no subscription or no period
// end needs a new grant, a period end in the future is an active grant,
// anything else needs renewal.
func Classify(rec *model.AccountRecord, now time.Time) Bucket {
	latest := rec.LatestSubscription()
	if latest == nil || latest.PeriodEnd == nil {
		return BucketNeedsNewGrant
	}
	if latest.PeriodEnd.After(now) {
		return BucketHasActiveGrant
	}
	return BucketNeedsRenewal
}

// BucketCounts is the per-bucket breakdown of a candidate set.
type BucketCounts struct {
	NeedsNewGrant  int `json:"needs_new_grant"`
	HasActiveGrant int `json:"has_active_grant"`
	NeedsRenewal   int `json:"needs_renewal"`
}

func (c *BucketCounts) add(b Bucket) {
	switch b {
	case BucketNeedsNewGrant:
		c.NeedsNewGrant++
	case BucketHasActiveGrant:
		c.HasActiveGrant++
	case BucketNeedsRenewal:
		c.NeedsRenewal++
	}
}
