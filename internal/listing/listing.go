// Package listing is the write path for an account's listing categories.
// Every change goes through the tier policy, so a stale client list cannot
// reintroduce a category the account is not entitled to.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/model"
	"github.com/dukerupert/legacygrant/internal/policy"
)

var ErrAccountNotFound = errors.New("account not found")

// Store is the storage the listing service writes through.
type Store interface {
	RunInTransaction(ctx context.Context, accountID int64, fn func(model.AccountTx) error) error
}

type Service struct {
	store  Store
	eval   *entitlement.Evaluator
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, eval *entitlement.Evaluator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		eval:   eval,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Result is what SetCategories stored and why.
type Result struct {
	Categories []model.Category
	Status     entitlement.Status
	// Dropped lists requested categories that were not stored.
	Dropped []model.Category
}

// SetCategories replaces the account's listing categories with the subset
// of requested its tier and entitlement allow. An earned unlock seen here
// for the first time is persisted as a marker in the same transaction.
func (s *Service) SetCategories(ctx context.Context, accountID int64, requested []model.Category) (*Result, error) {
	var res Result
	err := s.store.RunInTransaction(ctx, accountID, func(tx model.AccountTx) error {
		rec, err := tx.Record(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrAccountNotFound
		}

		now := s.now()
		status, err := s.eval.Evaluate(rec, now)
		if err != nil {
			return err
		}

		if status.HasUnlock {
			markers, err := entitlement.ParseMarkers(rec.Metadata)
			if err != nil {
				return err
			}
			if markers.Unlock == nil {
				key, value := entitlement.Flag(entitlement.UnlockMarker{UnlockedAt: now})
				if err := tx.UpsertMetadataFlag(ctx, key, value); err != nil {
					return err
				}
				s.logger.Info("persisted earned unlock", "account_id", accountID)
			}
		}

		allowed := policy.Enforce(requested, rec.Account.Tier, status)
		if err := tx.SetCategories(ctx, allowed); err != nil {
			return err
		}

		res = Result{Categories: allowed, Status: status, Dropped: dropped(requested, allowed)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set categories for account %d: %w", accountID, err)
	}
	if len(res.Dropped) > 0 {
		s.logger.Info("categories dropped by policy", "account_id", accountID, "dropped", res.Dropped, "reason", res.Status.Reason)
	}
	return &res, nil
}

func dropped(requested, allowed []model.Category) []model.Category {
	kept := make(map[model.Category]bool, len(allowed))
	for _, c := range allowed {
		kept[c] = true
	}
	var out []model.Category
	for _, c := range requested {
		if !kept[c] {
			out = append(out, c)
			kept[c] = true
		}
	}
	return out
}
