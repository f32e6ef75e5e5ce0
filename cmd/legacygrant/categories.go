package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/listing"
	"github.com/dukerupert/legacygrant/internal/model"
)

// setCategoriesCmd lets support staff correct an account's listing. It goes
// through the same enforcement as the signup and profile flows.
func (a *app) setCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-categories <account-id> [category...]",
		Short: "Replace an account's listing categories, subject to its tier and entitlement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			requested := make([]model.Category, 0, len(args)-1)
			for _, arg := range args[1:] {
				requested = append(requested, model.Category(strings.ToUpper(strings.TrimSpace(arg))))
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

			svc := listing.NewService(st, entitlement.NewEvaluator(entitlement.DefaultRules()), logger)
			res, err := svc.SetCategories(cmd.Context(), id, requested)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Stored: %s\n", joinCategories(res.Categories))
			if len(res.Dropped) > 0 {
				fmt.Fprintf(a.stdout, "Dropped: %s (%s)\n", joinCategories(res.Dropped), res.Status.Reason)
			}
			return nil
		},
	}
}
