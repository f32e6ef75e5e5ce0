// Package migration moves legacy accounts between membership tiers in
// batches. Every account is changed in its own transaction, failures are
// counted rather than fatal, and every mode is safe to re-run.
//
// At most one run may target a population at a time; nothing here locks
// across processes.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/model"
	"github.com/dukerupert/legacygrant/internal/policy"
)

const (
	DefaultBatchSize   = 100
	DefaultSampleSize  = 10
	DefaultGrantMonths = 6
)

type Mode string

const (
	ModePreview  Mode = "preview"
	ModeExecute  Mode = "execute"
	ModeRollback Mode = "rollback"
	ModeSweep    Mode = "sweep"
)

// Store is the storage collaborator the orchestrator drives.
type Store interface {
	FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.AccountRecord, error)
	RunInTransaction(ctx context.Context, accountID int64, fn func(model.AccountTx) error) error
}

type Options struct {
	FromTier    model.Tier
	ToTier      model.Tier
	GrantMonths int
	SampleSize  int
	Now         func() time.Time
}

func (o *Options) setDefaults() {
	if o.FromTier == "" {
		o.FromTier = model.TierBasic
	}
	if o.ToTier == "" {
		o.ToTier = model.TierPremium
	}
	if o.GrantMonths <= 0 {
		o.GrantMonths = DefaultGrantMonths
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Filter narrows a run to part of the population. The zero value selects
// every candidate.
type Filter struct {
	AccountIDs []int64
	Limit      int
}

func (f Filter) apply(recs []model.AccountRecord) []model.AccountRecord {
	if len(f.AccountIDs) > 0 {
		want := make(map[int64]bool, len(f.AccountIDs))
		for _, id := range f.AccountIDs {
			want[id] = true
		}
		kept := recs[:0]
		for _, r := range recs {
			if want[r.Account.ID] {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	return recs
}

// recount drops Limit so that the post-run count covers the whole
// selected population, not just the slice that was processed.
func (f Filter) recount() Filter {
	return Filter{AccountIDs: f.AccountIDs}
}

type Orchestrator struct {
	store  Store
	eval   *entitlement.Evaluator
	opts   Options
	logger *slog.Logger
}

func New(store Store, eval *entitlement.Evaluator, opts Options, logger *slog.Logger) *Orchestrator {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, eval: eval, opts: opts, logger: logger}
}

func (o *Orchestrator) newReport(mode Mode) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: o.opts.Now(),
		FromTier:  o.opts.FromTier,
		ToTier:    o.opts.ToTier,
		Cutoff:    o.eval.Rules().Cutoff,
	}
}

// upgradeFilter selects active legacy accounts still on the downgraded tier.
func (o *Orchestrator) upgradeFilter() model.CandidateFilter {
	tier := o.opts.FromTier
	return model.CandidateFilter{
		Tier:                &tier,
		Status:              model.AccountStatusActive,
		StudioCreatedBefore: o.eval.Rules().Cutoff,
	}
}

// rollbackFilter selects legacy accounts on the upgraded tier.
func (o *Orchestrator) rollbackFilter() model.CandidateFilter {
	tier := o.opts.ToTier
	return model.CandidateFilter{
		Tier:                &tier,
		StudioCreatedBefore: o.eval.Rules().Cutoff,
	}
}

func (o *Orchestrator) sweepFilter() model.CandidateFilter {
	return model.CandidateFilter{
		Status:              model.AccountStatusActive,
		StudioCreatedBefore: o.eval.Rules().Cutoff,
	}
}

func (o *Orchestrator) candidates(ctx context.Context, cf model.CandidateFilter, f Filter) ([]model.AccountRecord, error) {
	recs, err := o.store.FindCandidates(ctx, cf)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	return f.apply(recs), nil
}

// Preview classifies the upgrade candidates without writing anything.
func (o *Orchestrator) Preview(ctx context.Context, f Filter) (*Report, error) {
	report := o.newReport(ModePreview)
	now := report.StartedAt

	recs, err := o.candidates(ctx, o.upgradeFilter(), f)
	if err != nil {
		return nil, err
	}

	report.Candidates = len(recs)
	for i := range recs {
		b := Classify(&recs[i], now)
		report.Buckets.add(b)
		if len(report.Sample) < o.opts.SampleSize {
			report.Sample = append(report.Sample, newSampleEntry(&recs[i], b))
		}
	}
	report.FinishedAt = o.opts.Now()
	return report, nil
}

// Execute moves every candidate to the upgraded tier and grants or renews
// its free period. Accounts whose grant is still running keep it as is, so
// a second run changes nothing.
func (o *Orchestrator) Execute(ctx context.Context, f Filter, batchSize int) (*Report, error) {
	report := o.newReport(ModeExecute)
	now := report.StartedAt
	grantEnd := now.AddDate(0, o.opts.GrantMonths, 0)

	recs, err := o.candidates(ctx, o.upgradeFilter(), f)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(recs)
	for i := range recs {
		report.Buckets.add(Classify(&recs[i], now))
	}

	o.logger.Info("execute starting", "run_id", report.RunID, "candidates", len(recs), "batch_size", batchSize)

	outcome, runErr := runBatches(ctx, o.logger, ModeExecute, recs, batchSize, func(ctx context.Context, rec *model.AccountRecord) (effect, error) {
		return o.upgrade(ctx, rec, now, grantEnd)
	})
	report.applyOutcome(outcome)
	if runErr != nil {
		report.Interrupted = true
		report.FinishedAt = o.opts.Now()
		return report, runErr
	}

	remaining, err := o.candidates(ctx, o.upgradeFilter(), f.recount())
	if err != nil {
		return report, fmt.Errorf("recount candidates: %w", err)
	}
	n := len(remaining)
	report.Remaining = &n
	report.FinishedAt = o.opts.Now()

	o.logger.Info("execute finished", "run_id", report.RunID, "updated", report.Updated,
		"created", report.Created, "extended", report.Extended, "errors", len(report.Errors), "remaining", n)
	return report, nil
}

func (o *Orchestrator) upgrade(ctx context.Context, rec *model.AccountRecord, now, grantEnd time.Time) (effect, error) {
	var x effect
	bucket := Classify(rec, now)

	status, err := o.eval.Evaluate(rec, now)
	if err != nil {
		return x, err
	}

	err = o.store.RunInTransaction(ctx, rec.Account.ID, func(tx model.AccountTx) error {
		if err := tx.UpdateTier(ctx, o.opts.ToTier); err != nil {
			return err
		}
		x.tierChanged = true

		switch bucket {
		case BucketNeedsNewGrant:
			if err := createGrant(ctx, tx, now, grantEnd); err != nil {
				return err
			}
			x.created = true
		case BucketNeedsRenewal:
			// Only synthetic grants are renewed in place. A lapsed
			// processor-backed row is left as the processor wrote it.
			latest := rec.LatestSubscription()
			if !latest.IsSynthetic() {
				if err := createGrant(ctx, tx, now, grantEnd); err != nil {
					return err
				}
				x.created = true
				break
			}
			if err := tx.ExtendSubscription(ctx, latest.ID, model.SubscriptionStatusActive, grantEnd); err != nil {
				return err
			}
			x.extended = true
		}

		if status.IsRestricted && status.GraceEndsAt == nil && rec.HasCategory(policy.Restricted) {
			key, value := entitlement.Flag(entitlement.GraceMarker{EndsAt: now.Add(o.eval.Rules().GraceWindow)})
			if err := tx.UpsertMetadataFlag(ctx, key, value); err != nil {
				return err
			}
			x.graceGranted = true
		}
		return nil
	})
	if err != nil {
		return effect{}, err
	}
	return x, nil
}

// createGrant adds a synthetic subscription running from now to end.
func createGrant(ctx context.Context, tx model.AccountTx, now, end time.Time) error {
	start := now
	_, err := tx.CreateSubscription(ctx, model.Subscription{
		Status:      model.SubscriptionStatusActive,
		PeriodStart: &start,
		PeriodEnd:   &end,
	})
	return err
}

// Rollback returns accounts upgraded by Execute to the downgraded tier.
// Only accounts whose subscriptions are all synthetic grants qualify; any
// external subscription id means a paying customer and the account is
// skipped. Subscription rows are kept as history.
func (o *Orchestrator) Rollback(ctx context.Context, f Filter, batchSize int) (*Report, error) {
	report := o.newReport(ModeRollback)

	recs, err := o.candidates(ctx, o.rollbackFilter(), f)
	if err != nil {
		return nil, err
	}

	eligible := make([]model.AccountRecord, 0, len(recs))
	for _, rec := range recs {
		if reason := rollbackSkipReason(&rec); reason != "" {
			o.logger.Info("rollback skipped", "account_id", rec.Account.ID, "reason", reason)
			report.Skipped++
			continue
		}
		eligible = append(eligible, rec)
	}
	report.Candidates = len(eligible)

	o.logger.Info("rollback starting", "run_id", report.RunID, "candidates", len(eligible), "skipped", report.Skipped)

	outcome, runErr := runBatches(ctx, o.logger, ModeRollback, eligible, batchSize, func(ctx context.Context, rec *model.AccountRecord) (effect, error) {
		err := o.store.RunInTransaction(ctx, rec.Account.ID, func(tx model.AccountTx) error {
			return tx.UpdateTier(ctx, o.opts.FromTier)
		})
		if err != nil {
			return effect{}, err
		}
		return effect{tierChanged: true}, nil
	})
	report.applyOutcome(outcome)
	if runErr != nil {
		report.Interrupted = true
		report.FinishedAt = o.opts.Now()
		return report, runErr
	}

	after, err := o.candidates(ctx, o.rollbackFilter(), f.recount())
	if err != nil {
		return report, fmt.Errorf("recount candidates: %w", err)
	}
	n := 0
	for i := range after {
		if rollbackSkipReason(&after[i]) == "" {
			n++
		}
	}
	report.Remaining = &n
	report.FinishedAt = o.opts.Now()

	o.logger.Info("rollback finished", "run_id", report.RunID, "updated", report.Updated,
		"skipped", report.Skipped, "errors", len(report.Errors), "remaining", n)
	return report, nil
}

func rollbackSkipReason(rec *model.AccountRecord) string {
	if rec.HasExternalSubscription() {
		return "paid subscription"
	}
	if rec.LatestSubscription() == nil {
		return "no subscription"
	}
	return ""
}

// Sweep walks every active legacy account. It persists earned unlocks as
// markers and removes the restricted category from accounts whose grace
// window has closed.
func (o *Orchestrator) Sweep(ctx context.Context, f Filter, batchSize int) (*Report, error) {
	report := o.newReport(ModeSweep)
	now := report.StartedAt

	recs, err := o.candidates(ctx, o.sweepFilter(), f)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(recs)

	outcome, runErr := runBatches(ctx, o.logger, ModeSweep, recs, batchSize, func(ctx context.Context, rec *model.AccountRecord) (effect, error) {
		return o.sweep(ctx, rec, now)
	})
	report.applyOutcome(outcome)
	report.FinishedAt = o.opts.Now()
	if runErr != nil {
		report.Interrupted = true
		return report, runErr
	}

	o.logger.Info("sweep finished", "run_id", report.RunID, "unlocks_persisted", report.UnlocksPersisted,
		"revoked", report.Revoked, "errors", len(report.Errors))
	return report, nil
}

func (o *Orchestrator) sweep(ctx context.Context, rec *model.AccountRecord, now time.Time) (effect, error) {
	status, err := o.eval.Evaluate(rec, now)
	if err != nil {
		return effect{}, err
	}
	markers, err := entitlement.ParseMarkers(rec.Metadata)
	if err != nil {
		return effect{}, err
	}

	persistUnlock := status.HasUnlock && markers.Unlock == nil
	revoke := status.ShouldRevokeExistingGrant && rec.HasCategory(policy.Restricted)
	if !persistUnlock && !revoke {
		return effect{skipped: true}, nil
	}

	var x effect
	err = o.store.RunInTransaction(ctx, rec.Account.ID, func(tx model.AccountTx) error {
		if persistUnlock {
			key, value := entitlement.Flag(entitlement.UnlockMarker{UnlockedAt: now})
			if err := tx.UpsertMetadataFlag(ctx, key, value); err != nil {
				return err
			}
			x.unlockPersisted = true
		}
		if revoke {
			allowed := policy.Enforce(rec.Categories, rec.Account.Tier, status)
			if err := tx.SetCategories(ctx, allowed); err != nil {
				return err
			}
			x.revoked = true
		}
		return nil
	})
	if err != nil {
		return effect{}, err
	}
	return x, nil
}
