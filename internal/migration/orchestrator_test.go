package migration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/model"
)

var testNow = time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func strPtr(s string) *string { return &s }

func newTestOrchestrator(s Store) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, entitlement.NewEvaluator(entitlement.DefaultRules()), Options{
		SampleSize: 2,
		Now:        func() time.Time { return testNow },
	}, logger)
}

func legacyBasic() model.AccountRecord {
	return model.AccountRecord{
		Account: model.Account{Tier: model.TierBasic, StudioCreatedAt: day(2025, time.June, 1)},
	}
}

func syntheticSub(start, end *time.Time) model.Subscription {
	return model.Subscription{Status: model.SubscriptionStatusActive, PeriodStart: start, PeriodEnd: end, CreatedAt: *start}
}

func paidSub(start, end *time.Time) model.Subscription {
	s := syntheticSub(start, end)
	s.StripeSubscriptionID = strPtr("sub_x")
	s.StripeCustomerID = strPtr("cus_x")
	return s
}

func TestClassify(t *testing.T) {
	start := day(2025, time.September, 1)
	tests := []struct {
		name string
		subs []model.Subscription
		want Bucket
	}{
		{"no subscription", nil, BucketNeedsNewGrant},
		{"no period end", []model.Subscription{{PeriodStart: start, CreatedAt: *start}}, BucketNeedsNewGrant},
		{"period end in future", []model.Subscription{syntheticSub(start, day(2026, time.April, 1))}, BucketHasActiveGrant},
		{"period end passed", []model.Subscription{syntheticSub(start, day(2026, time.March, 1))}, BucketNeedsRenewal},
		{"period end now", []model.Subscription{syntheticSub(start, &testNow)}, BucketNeedsRenewal},
		{"only latest counts", []model.Subscription{
			syntheticSub(start, day(2026, time.March, 1)),
			syntheticSub(day(2025, time.January, 1), day(2027, time.January, 1)),
		}, BucketNeedsRenewal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := legacyBasic()
			rec.Subscriptions = tt.subs
			assert.Equal(t, tt.want, Classify(&rec, testNow))
		})
	}
}

func TestPreviewIsReadOnly(t *testing.T) {
	s := newMemStore()
	s.add(legacyBasic())
	active := legacyBasic()
	active.Subscriptions = []model.Subscription{syntheticSub(day(2026, time.January, 1), day(2026, time.July, 1))}
	s.add(active)
	expired := legacyBasic()
	expired.Subscriptions = []model.Subscription{syntheticSub(day(2025, time.July, 1), day(2026, time.January, 1))}
	s.add(expired)
	notLegacy := legacyBasic()
	notLegacy.Account.StudioCreatedAt = day(2026, time.February, 1)
	s.add(notLegacy)
	premium := legacyBasic()
	premium.Account.Tier = model.TierPremium
	s.add(premium)
	suspended := legacyBasic()
	suspended.Account.Status = model.AccountStatusSuspended
	s.add(suspended)

	before := s.snapshot()
	report, err := newTestOrchestrator(s).Preview(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, BucketCounts{NeedsNewGrant: 1, HasActiveGrant: 1, NeedsRenewal: 1}, report.Buckets)
	assert.Len(t, report.Sample, 2)
	assert.Equal(t, BucketNeedsNewGrant, report.Sample[0].Bucket)
	assert.Equal(t, 0, s.txCount)
	assert.Equal(t, before, s.snapshot())
	assert.Nil(t, report.Remaining)
}

func TestExecuteScenarioNewGrant(t *testing.T) {
	s := newMemStore()
	id := s.add(legacyBasic())

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Extended)
	assert.Empty(t, report.Errors)
	require.NotNil(t, report.Remaining)
	assert.Equal(t, 0, *report.Remaining)

	rec := s.get(id)
	assert.Equal(t, model.TierPremium, rec.Account.Tier)
	require.Len(t, rec.Subscriptions, 1)
	sub := rec.Subscriptions[0]
	assert.True(t, sub.IsSynthetic())
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testNow, *sub.PeriodStart)
	assert.Equal(t, time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC), *sub.PeriodEnd)
}

func TestExecuteRenewsExpiredGrant(t *testing.T) {
	s := newMemStore()
	rec := legacyBasic()
	start := day(2025, time.July, 1)
	rec.Subscriptions = []model.Subscription{syntheticSub(start, day(2026, time.January, 1))}
	rec.Subscriptions[0].Status = model.SubscriptionStatusCanceled
	id := s.add(rec)

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Extended)
	assert.Equal(t, 0, report.Created)

	got := s.get(id)
	require.Len(t, got.Subscriptions, 1)
	assert.Equal(t, model.SubscriptionStatusActive, got.Subscriptions[0].Status)
	assert.Equal(t, *start, *got.Subscriptions[0].PeriodStart)
	assert.Equal(t, testNow.AddDate(0, 6, 0), *got.Subscriptions[0].PeriodEnd)
}

func TestExecuteNeverExtendsPaidSubscription(t *testing.T) {
	s := newMemStore()
	rec := legacyBasic()
	paidEnd := day(2025, time.August, 1)
	rec.Subscriptions = []model.Subscription{paidSub(day(2025, time.July, 1), paidEnd)}
	rec.Subscriptions[0].Status = model.SubscriptionStatusCanceled
	rec.PaymentCount = 1
	id := s.add(rec)

	o := newTestOrchestrator(s)
	before, err := o.eval.Evaluate(s.get(id), testNow)
	require.NoError(t, err)
	require.False(t, before.HasUnlock)

	report, err := o.Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Buckets.NeedsRenewal)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Extended)

	got := s.get(id)
	require.Len(t, got.Subscriptions, 2)
	grant, paid := got.Subscriptions[0], got.Subscriptions[1]
	assert.True(t, grant.IsSynthetic())
	assert.Equal(t, testNow, *grant.PeriodStart)
	assert.Equal(t, testNow.AddDate(0, 6, 0), *grant.PeriodEnd)
	assert.True(t, paid.IsPaid())
	assert.Equal(t, model.SubscriptionStatusCanceled, paid.Status)
	assert.Equal(t, *paidEnd, *paid.PeriodEnd)

	after, err := o.eval.Evaluate(got, testNow)
	require.NoError(t, err)
	assert.False(t, after.HasUnlock)
	assert.True(t, after.ShouldBlockRestrictedCapability)
	assert.Equal(t, "restricted", after.Reason)

	again, err := o.Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Candidates)
	assert.Len(t, s.get(id).Subscriptions, 2)
}

func TestExecuteLeavesActiveGrant(t *testing.T) {
	s := newMemStore()
	rec := legacyBasic()
	end := day(2026, time.July, 1)
	rec.Subscriptions = []model.Subscription{syntheticSub(day(2026, time.January, 1), end)}
	id := s.add(rec)

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Extended)

	got := s.get(id)
	assert.Equal(t, model.TierPremium, got.Account.Tier)
	require.Len(t, got.Subscriptions, 1)
	assert.Equal(t, *end, *got.Subscriptions[0].PeriodEnd)
}

func TestExecuteTwiceIsIdempotent(t *testing.T) {
	s := newMemStore()
	s.add(legacyBasic())
	expired := legacyBasic()
	expired.Subscriptions = []model.Subscription{syntheticSub(day(2025, time.July, 1), day(2026, time.January, 1))}
	s.add(expired)
	active := legacyBasic()
	active.Subscriptions = []model.Subscription{syntheticSub(day(2026, time.January, 1), day(2026, time.July, 1))}
	s.add(active)

	o := newTestOrchestrator(s)
	first, err := o.Execute(context.Background(), Filter{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 1, first.Extended)
	afterFirst := s.snapshot()

	second, err := o.Execute(context.Background(), Filter{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Candidates)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Extended)
	assert.Equal(t, afterFirst, s.snapshot())
}

func TestExecutePartialFailureIsolation(t *testing.T) {
	s := newMemStore()
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, s.add(legacyBasic()))
	}
	failing := ids[2]
	s.failOn[failing] = errors.New("constraint violation")

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Candidates)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 4, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, failing, report.Errors[0].AccountID)
	assert.Contains(t, report.Errors[0].Message, "constraint violation")
	require.NotNil(t, report.Remaining)
	assert.Equal(t, 1, *report.Remaining)

	got := s.get(failing)
	assert.Equal(t, model.TierBasic, got.Account.Tier)
	assert.Empty(t, got.Subscriptions)
}

func TestExecuteOpensGraceWindow(t *testing.T) {
	s := newMemStore()
	listed := legacyBasic()
	listed.Categories = []model.Category{model.CategoryVoiceover}
	listedID := s.add(listed)

	alreadyGraced := legacyBasic()
	alreadyGraced.Categories = []model.Category{model.CategoryVoiceover}
	alreadyGraced.Metadata = map[string]string{model.MetaVoiceoverGraceEndsAt: "2026-03-01T00:00:00Z"}
	gracedID := s.add(alreadyGraced)

	unlisted := legacyBasic()
	unlisted.Categories = []model.Category{model.CategoryMusic}
	unlistedID := s.add(unlisted)

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GraceGranted)

	assert.Equal(t, "2026-04-14T00:00:00Z", s.get(listedID).Metadata[model.MetaVoiceoverGraceEndsAt])
	assert.Equal(t, "2026-03-01T00:00:00Z", s.get(gracedID).Metadata[model.MetaVoiceoverGraceEndsAt])
	assert.NotContains(t, s.get(unlistedID).Metadata, model.MetaVoiceoverGraceEndsAt)
}

func TestExecuteInvalidMetadataIsPerAccount(t *testing.T) {
	s := newMemStore()
	bad := legacyBasic()
	bad.Metadata = map[string]string{model.MetaVoiceoverGraceEndsAt: "soon"}
	badID := s.add(bad)
	goodID := s.add(legacyBasic())

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, badID, report.Errors[0].AccountID)
	assert.ErrorAs(t, report.Errors[0].Err, new(*entitlement.InvalidInputError))
	assert.Equal(t, model.TierPremium, s.get(goodID).Account.Tier)
}

func TestExecuteFilter(t *testing.T) {
	s := newMemStore()
	a := s.add(legacyBasic())
	b := s.add(legacyBasic())
	c := s.add(legacyBasic())

	o := newTestOrchestrator(s)
	report, err := o.Execute(context.Background(), Filter{AccountIDs: []int64{b, c}, Limit: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, model.TierBasic, s.get(a).Account.Tier)
	assert.Equal(t, model.TierPremium, s.get(b).Account.Tier)
	assert.Equal(t, model.TierBasic, s.get(c).Account.Tier)
	require.NotNil(t, report.Remaining)
	assert.Equal(t, 1, *report.Remaining)
}

func TestRemainingIgnoresLimit(t *testing.T) {
	s := newMemStore()
	for i := 0; i < 3; i++ {
		s.add(legacyBasic())
	}
	o := newTestOrchestrator(s)

	report, err := o.Execute(context.Background(), Filter{Limit: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Empty(t, report.Errors)
	require.NotNil(t, report.Remaining)
	assert.Equal(t, 2, *report.Remaining)

	_, err = o.Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	rollback, err := o.Rollback(context.Background(), Filter{Limit: 2}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, rollback.Updated)
	require.NotNil(t, rollback.Remaining)
	assert.Equal(t, 1, *rollback.Remaining)
}

func TestExecuteCancelled(t *testing.T) {
	s := newMemStore()
	s.add(legacyBasic())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := newTestOrchestrator(s).Execute(ctx, Filter{}, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 0, s.txCount)
}

func TestRollbackSkipsPaidCustomers(t *testing.T) {
	s := newMemStore()

	synthetic := legacyBasic()
	synthetic.Account.Tier = model.TierPremium
	synthetic.Subscriptions = []model.Subscription{syntheticSub(&testNow, day(2026, time.September, 15))}
	syntheticID := s.add(synthetic)

	paid := legacyBasic()
	paid.Account.Tier = model.TierPremium
	paid.Subscriptions = []model.Subscription{paidSub(day(2026, time.January, 1), day(2027, time.January, 1))}
	paidID := s.add(paid)

	olderPaid := legacyBasic()
	olderPaid.Account.Tier = model.TierPremium
	olderPaid.Subscriptions = []model.Subscription{
		syntheticSub(&testNow, day(2026, time.September, 15)),
		paidSub(day(2025, time.January, 1), day(2026, time.January, 1)),
	}
	olderPaidID := s.add(olderPaid)

	noSub := legacyBasic()
	noSub.Account.Tier = model.TierPremium
	noSubID := s.add(noSub)

	report, err := newTestOrchestrator(s).Rollback(context.Background(), Filter{}, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 3, report.Skipped)
	require.NotNil(t, report.Remaining)
	assert.Equal(t, 0, *report.Remaining)

	assert.Equal(t, model.TierBasic, s.get(syntheticID).Account.Tier)
	assert.Len(t, s.get(syntheticID).Subscriptions, 1)
	assert.Equal(t, model.TierPremium, s.get(paidID).Account.Tier)
	assert.Equal(t, model.TierPremium, s.get(olderPaidID).Account.Tier)
	assert.Equal(t, model.TierPremium, s.get(noSubID).Account.Tier)
}

func TestExecuteThenRollback(t *testing.T) {
	s := newMemStore()
	id := s.add(legacyBasic())
	o := newTestOrchestrator(s)

	_, err := o.Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	_, err = o.Rollback(context.Background(), Filter{}, 10)
	require.NoError(t, err)

	got := s.get(id)
	assert.Equal(t, model.TierBasic, got.Account.Tier)
	require.Len(t, got.Subscriptions, 1, "synthetic grant is kept as history")

	preview, err := o.Preview(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Buckets.HasActiveGrant)
}

func TestSweep(t *testing.T) {
	s := newMemStore()

	earned := legacyBasic()
	earned.Account.Tier = model.TierPremium
	earned.Subscriptions = []model.Subscription{paidSub(day(2026, time.January, 1), day(2027, time.January, 1))}
	earned.PaymentCount = 1
	earnedID := s.add(earned)

	expired := legacyBasic()
	expired.Account.Tier = model.TierPremium
	expired.Categories = []model.Category{model.CategoryVoiceover}
	expired.Metadata = map[string]string{model.MetaVoiceoverGraceEndsAt: "2026-03-01T00:00:00Z"}
	expiredID := s.add(expired)

	inGrace := legacyBasic()
	inGrace.Account.Tier = model.TierPremium
	inGrace.Categories = []model.Category{model.CategoryVoiceover}
	inGrace.Metadata = map[string]string{model.MetaVoiceoverGraceEndsAt: "2026-04-01T00:00:00Z"}
	inGraceID := s.add(inGrace)

	o := newTestOrchestrator(s)
	report, err := o.Sweep(context.Background(), Filter{}, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 1, report.UnlocksPersisted)
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, "2026-03-15T00:00:00Z", s.get(earnedID).Metadata[model.MetaVoiceoverUnlockedAt])
	assert.Empty(t, s.get(expiredID).Categories)
	assert.Equal(t, []model.Category{model.CategoryVoiceover}, s.get(inGraceID).Categories)

	again, err := o.Sweep(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again.UnlocksPersisted)
	assert.Equal(t, 0, again.Revoked)
	assert.Equal(t, 3, again.Skipped)
}

func TestReportWriteText(t *testing.T) {
	s := newMemStore()
	s.add(legacyBasic())
	s.failOn[1] = errors.New("disk full")

	report, err := newTestOrchestrator(s).Execute(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	report.Environment = "development"

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Mode")
	assert.Contains(t, out, "execute")
	assert.Contains(t, out, "development")
	assert.Contains(t, out, "needs new grant")
	assert.Contains(t, out, "Remaining candidates")
	assert.Contains(t, out, "1: disk full")

	data, err := report.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mode": "execute"`)
	assert.Contains(t, string(data), `"remaining": 1`)
}
