package migration

import (
	"context"
	"log/slog"

	"github.com/dukerupert/legacygrant/internal/model"
)

// AccountError is one account that could not be processed.
type AccountError struct {
	AccountID int64  `json:"account_id"`
	Message   string `json:"error"`
	Err       error  `json:"-"`
}

// BatchOutcome accumulates per-account results across a run. A failure is
// recorded here and never aborts the run.
type BatchOutcome struct {
	Succeeded []int64
	Failed    []AccountError
	effects   effects
}

// effects counts what the committed transactions actually changed.
type effects struct {
	tierChanged      int
	created          int
	extended         int
	graceGranted     int
	unlocksPersisted int
	revoked          int
	skipped          int
}

type effect struct {
	tierChanged     bool
	created         bool
	extended        bool
	graceGranted    bool
	unlockPersisted bool
	revoked         bool
	skipped         bool
}

func (e *effects) add(x effect) {
	if x.tierChanged {
		e.tierChanged++
	}
	if x.created {
		e.created++
	}
	if x.extended {
		e.extended++
	}
	if x.graceGranted {
		e.graceGranted++
	}
	if x.unlockPersisted {
		e.unlocksPersisted++
	}
	if x.revoked {
		e.revoked++
	}
	if x.skipped {
		e.skipped++
	}
}

type applyFunc func(ctx context.Context, rec *model.AccountRecord) (effect, error)

// runBatches applies fn to every record in fixed-size batches. It stops
// early only when ctx is cancelled, returning the context error with the
// outcome so far.
func runBatches(ctx context.Context, logger *slog.Logger, mode Mode, recs []model.AccountRecord, batchSize int, fn applyFunc) (BatchOutcome, error) {
	var out BatchOutcome
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for start, batch := 0, 1; start < len(recs); start, batch = start+batchSize, batch+1 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+batchSize, len(recs))
		for i := start; i < end; i++ {
			rec := &recs[i]
			x, err := fn(ctx, rec)
			if err != nil {
				logger.Error("account failed", "mode", mode, "account_id", rec.Account.ID, "error", err)
				out.Failed = append(out.Failed, AccountError{AccountID: rec.Account.ID, Message: err.Error(), Err: err})
				continue
			}
			if !x.skipped {
				out.Succeeded = append(out.Succeeded, rec.Account.ID)
			}
			out.effects.add(x)
		}
		logger.Info("batch complete", "mode", mode, "batch", batch, "processed", end, "total", len(recs), "errors", len(out.Failed))
	}
	return out, nil
}
