package migration

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

// Report summarises one run. The same struct is printed for the operator
// and archived as JSON.
type Report struct {
	RunID       string     `json:"run_id"`
	Mode        Mode       `json:"mode"`
	Environment string     `json:"environment,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	FromTier    model.Tier `json:"from_tier"`
	ToTier      model.Tier `json:"to_tier"`
	Cutoff      time.Time  `json:"cutoff"`

	Candidates int           `json:"candidates"`
	Buckets    BucketCounts  `json:"buckets"`
	Sample     []SampleEntry `json:"sample,omitempty"`

	Succeeded        int            `json:"succeeded"`
	Updated          int            `json:"updated"`
	Created          int            `json:"created"`
	Extended         int            `json:"extended"`
	GraceGranted     int            `json:"grace_granted"`
	UnlocksPersisted int            `json:"unlocks_persisted"`
	Revoked          int            `json:"revoked"`
	Skipped          int            `json:"skipped"`
	Errors           []AccountError `json:"errors,omitempty"`

	// Remaining is the candidate count after the run; nil when not measured.
	Remaining   *int `json:"remaining,omitempty"`
	Interrupted bool `json:"interrupted,omitempty"`
}

type SampleEntry struct {
	AccountID       int64      `json:"account_id"`
	Email           string     `json:"email"`
	StudioCreatedAt *time.Time `json:"studio_created_at"`
	Bucket          Bucket     `json:"bucket"`
	PeriodEnd       *time.Time `json:"period_end,omitempty"`
}

func newSampleEntry(rec *model.AccountRecord, b Bucket) SampleEntry {
	e := SampleEntry{
		AccountID:       rec.Account.ID,
		Email:           rec.Account.Email,
		StudioCreatedAt: rec.Account.StudioCreatedAt,
		Bucket:          b,
	}
	if latest := rec.LatestSubscription(); latest != nil {
		e.PeriodEnd = latest.PeriodEnd
	}
	return e
}

func (r *Report) applyOutcome(out BatchOutcome) {
	r.Succeeded += len(out.Succeeded)
	r.Errors = append(r.Errors, out.Failed...)
	r.Updated += out.effects.tierChanged
	r.Created += out.effects.created
	r.Extended += out.effects.extended
	r.GraceGranted += out.effects.graceGranted
	r.UnlocksPersisted += out.effects.unlocksPersisted
	r.Revoked += out.effects.revoked
	r.Skipped += out.effects.skipped
}

// JSON returns the indented JSON form of the report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

const dateLayout = "2006-01-02"

// WriteText renders the human-readable summary.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Mode\t%s\n", r.Mode)
	if r.Environment != "" {
		fmt.Fprintf(tw, "Environment\t%s\n", r.Environment)
	}
	fmt.Fprintf(tw, "Tiers\t%s -> %s\n", r.FromTier, r.ToTier)
	fmt.Fprintf(tw, "Studio cutoff\t%s\n", r.Cutoff.Format(time.RFC3339))
	fmt.Fprintf(tw, "Candidates\t%d\n", r.Candidates)

	switch r.Mode {
	case ModePreview, ModeExecute:
		fmt.Fprintf(tw, "  needs new grant\t%d\n", r.Buckets.NeedsNewGrant)
		fmt.Fprintf(tw, "  has active grant\t%d\n", r.Buckets.HasActiveGrant)
		fmt.Fprintf(tw, "  needs renewal\t%d\n", r.Buckets.NeedsRenewal)
	}

	switch r.Mode {
	case ModeExecute:
		fmt.Fprintf(tw, "Tier updated\t%d\n", r.Updated)
		fmt.Fprintf(tw, "Grants created\t%d\n", r.Created)
		fmt.Fprintf(tw, "Grants extended\t%d\n", r.Extended)
		fmt.Fprintf(tw, "Grace windows opened\t%d\n", r.GraceGranted)
	case ModeRollback:
		fmt.Fprintf(tw, "Tier reverted\t%d\n", r.Updated)
		fmt.Fprintf(tw, "Skipped\t%d\n", r.Skipped)
	case ModeSweep:
		fmt.Fprintf(tw, "Unlocks persisted\t%d\n", r.UnlocksPersisted)
		fmt.Fprintf(tw, "Restricted category revoked\t%d\n", r.Revoked)
		fmt.Fprintf(tw, "Unchanged\t%d\n", r.Skipped)
	}
	if r.Mode != ModePreview {
		fmt.Fprintf(tw, "Errors\t%d\n", len(r.Errors))
	}
	if r.Remaining != nil {
		fmt.Fprintf(tw, "Remaining candidates\t%d\n", *r.Remaining)
	}
	if r.Interrupted {
		fmt.Fprintf(tw, "Interrupted\tyes\n")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Sample) > 0 {
		fmt.Fprintf(w, "\nSample (first %d):\n", len(r.Sample))
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tEMAIL\tSTUDIO CREATED\tBUCKET\tPERIOD END")
		for _, s := range r.Sample {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", s.AccountID, s.Email, formatDate(s.StudioCreatedAt), s.Bucket, formatDate(s.PeriodEnd))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nFailed accounts:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %d: %s\n", e.AccountID, e.Message)
		}
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}
