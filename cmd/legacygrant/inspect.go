package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/model"
)

func parseAccountID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &configError{fmt.Errorf("invalid account id %q", s)}
	}
	return id, nil
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <account-id>",
		Short: "Show the entitlement status of one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := a.loadConfig()
			if err != nil {
				return err
			}
			st, closeDB, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			rec, err := st.GetRecord(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load account %d: %w", id, err)
			}
			if rec == nil {
				return fmt.Errorf("account %d not found", id)
			}

			now := a.now()
			status, err := entitlement.NewEvaluator(entitlement.DefaultRules()).Evaluate(rec, now)
			if err != nil {
				return err
			}
			return a.writeStatus(rec, status, now)
		},
	}
}

func (a *app) writeStatus(rec *model.AccountRecord, st entitlement.Status, now time.Time) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Account\t%d\n", rec.Account.ID)
	fmt.Fprintf(tw, "Email\t%s\n", rec.Account.Email)
	fmt.Fprintf(tw, "Tier\t%s\n", rec.Account.Tier)
	fmt.Fprintf(tw, "Evaluated at\t%s\n", now.Format(time.RFC3339))
	fmt.Fprintf(tw, "Decision\t%s\n", st.Reason)
	fmt.Fprintf(tw, "Legacy\t%t\n", st.IsLegacy)
	fmt.Fprintf(tw, "Restricted\t%t\n", st.IsRestricted)
	fmt.Fprintf(tw, "Unlocked\t%t\n", st.HasUnlock)
	fmt.Fprintf(tw, "Grace active\t%t\n", st.GraceActive)
	if st.GraceEndsAt != nil {
		fmt.Fprintf(tw, "Grace ends\t%s\n", st.GraceEndsAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Block %s\t%t\n", model.CategoryVoiceover, st.ShouldBlockRestrictedCapability)
	fmt.Fprintf(tw, "Revoke existing grant\t%t\n", st.ShouldRevokeExistingGrant)
	fmt.Fprintf(tw, "Categories\t%s\n", joinCategories(rec.Categories))
	return tw.Flush()
}

func joinCategories(cats []model.Category) string {
	if len(cats) == 0 {
		return "-"
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
