// Package entitlement classifies legacy accounts' access to the restricted
// VOICEOVER listing category from their billing history.
package entitlement

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

// Rules holds the fixed constants of the legacy programme.
type Rules struct {
	// Cutoff is exclusive: studios created strictly before it are legacy.
	Cutoff time.Time
	// MinQualifyingDays is the shortest paid period that unlocks the
	// restricted category. 335 days covers an annual renewal paid early.
	MinQualifyingDays int
	GraceWindow       time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Cutoff:            time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		MinQualifyingDays: 335,
		GraceWindow:       30 * 24 * time.Hour,
	}
}

// Status is the immutable result of evaluating one account.
type Status struct {
	IsLegacy                        bool       `json:"is_legacy"`
	IsRestricted                    bool       `json:"is_restricted"`
	HasUnlock                       bool       `json:"has_unlock"`
	GraceActive                     bool       `json:"grace_active"`
	GraceEndsAt                     *time.Time `json:"grace_ends_at,omitempty"`
	ShouldBlockRestrictedCapability bool       `json:"should_block_restricted_capability"`
	ShouldRevokeExistingGrant       bool       `json:"should_revoke_existing_grant"`
	// Reason names the decision that produced the status.
	Reason string `json:"reason"`
}

type Evaluator struct {
	rules Rules
}

func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

func (e *Evaluator) Rules() Rules {
	return e.rules
}

// IsLegacy reports whether the account's studio predates the cutoff.
func (e *Evaluator) IsLegacy(a *model.Account) bool {
	return a != nil && a.StudioCreatedAt != nil && a.StudioCreatedAt.Before(e.rules.Cutoff)
}

// Qualifies reports whether sub is a paid subscription whose period is at
// least MinQualifyingDays long.
func (e *Evaluator) Qualifies(sub *model.Subscription) (bool, error) {
	if !sub.IsPaid() || sub.PeriodEnd == nil {
		return false, nil
	}
	start := sub.Start()
	if start.IsZero() {
		return false, &InvalidInputError{Field: "subscription " + strconv.FormatInt(sub.ID, 10) + " period_start", Err: errNoPeriodStart}
	}
	threshold := time.Duration(e.rules.MinQualifyingDays) * 24 * time.Hour
	return sub.PeriodEnd.Sub(start) >= threshold, nil
}

// EarnedUnlock reports whether the account has both a payment and a
// qualifying subscription. Nothing is persisted.
func (e *Evaluator) EarnedUnlock(rec *model.AccountRecord) (bool, error) {
	if rec.PaymentCount == 0 {
		return false, nil
	}
	for i := range rec.Subscriptions {
		ok, err := e.Qualifies(&rec.Subscriptions[i])
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Evaluate maps an account's records and the current time to its
// entitlement status. It performs no I/O and keeps no state.
func (e *Evaluator) Evaluate(rec *model.AccountRecord, now time.Time) (Status, error) {
	if rec == nil {
		return Status{Reason: "no account"}, nil
	}

	f := facts{
		admin:  rec.Account.Role == model.RoleAdmin,
		legacy: e.IsLegacy(&rec.Account),
		now:    now,
	}
	// Markers and payment history are only read for accounts that reach
	// the legacy rows of the table.
	if !f.admin && f.legacy {
		markers, err := ParseMarkers(rec.Metadata)
		if err != nil {
			return Status{}, fmt.Errorf("account %d: %w", rec.Account.ID, err)
		}
		earned, err := e.EarnedUnlock(rec)
		if err != nil {
			return Status{}, fmt.Errorf("account %d: %w", rec.Account.ID, err)
		}
		f.unlockMarker = markers.Unlock != nil
		f.earned = earned
		if markers.Grace != nil {
			ends := markers.Grace.EndsAt
			f.graceEndsAt = &ends
		}
	}

	for _, d := range decisionTable {
		if d.applies(f) {
			s := d.decide(f)
			s.Reason = d.name
			return s, nil
		}
	}
	// The last row always applies.
	panic("entitlement: decision table fell through")
}
