package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/legacygrant/internal/archive"
	"github.com/dukerupert/legacygrant/internal/config"
	"github.com/dukerupert/legacygrant/internal/confirm"
	"github.com/dukerupert/legacygrant/internal/database"
	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/logging"
	"github.com/dukerupert/legacygrant/internal/migration"
	"github.com/dukerupert/legacygrant/internal/store"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitFailure = 2
)

var osExit = os.Exit

// reportArchiver is satisfied by *archive.Archiver.
type reportArchiver interface {
	Store(ctx context.Context, mode, runID string, report []byte) (string, error)
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	newGate     func(in io.Reader, out io.Writer) confirm.Gate
	newArchiver func(cfg *config.Config, logger *slog.Logger) reportArchiver

	envDir     string
	production bool
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    func() time.Time { return time.Now().UTC() },
		newGate: func(in io.Reader, out io.Writer) confirm.Gate {
			return confirm.NewPrompt(in, out)
		},
		newArchiver: func(cfg *config.Config, logger *slog.Logger) reportArchiver {
			if arch := archive.New(cfg, logger); arch != nil {
				return arch
			}
			return nil
		},
	}
}

// configError marks failures that happen before any account is touched.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *configError
	if errors.As(err, &ce) {
		return exitConfig
	}
	return exitFailure
}

type runFlags struct {
	dryRun      bool
	execute     bool
	rollback    bool
	sweep       bool
	batchSize   int
	sample      int
	grantMonths int
	accounts    []int64
	limit       int
}

func (f *runFlags) mode() migration.Mode {
	switch {
	case f.execute:
		return migration.ModeExecute
	case f.rollback:
		return migration.ModeRollback
	case f.sweep:
		return migration.ModeSweep
	default:
		return migration.ModePreview
	}
}

// confirmationPhrase returns the phrase the operator must type, or "" when
// the mode runs without asking.
func confirmationPhrase(mode migration.Mode, production bool) string {
	switch mode {
	case migration.ModeExecute:
		if production {
			return "CONFIRM"
		}
	case migration.ModeRollback:
		return "ROLLBACK"
	case migration.ModeSweep:
		if production {
			return "REVOKE"
		}
	}
	return ""
}

func (a *app) rootCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "legacygrant",
		Short: "Migrate legacy accounts to the premium tier",
		Long: `Migrate legacy accounts (studio created before the cutover) from the basic
tier to a time-boxed premium grant, roll that migration back, or sweep
restricted-category grants that are no longer allowed.

Without a mode flag the tool previews the migration and changes nothing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMigration(cmd.Context(), &flags)
		},
	}

	cmd.PersistentFlags().StringVar(&a.envDir, "env-dir", ".", "directory holding .env.development and .env.production")
	cmd.PersistentFlags().BoolVar(&a.production, "production", false, "target the production environment")

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "preview the migration without writing (default)")
	cmd.Flags().BoolVar(&flags.execute, "execute", false, "upgrade legacy accounts")
	cmd.Flags().BoolVar(&flags.rollback, "rollback", false, "revert migrated accounts to the basic tier")
	cmd.Flags().BoolVar(&flags.sweep, "sweep", false, "persist earned unlocks and revoke expired restricted grants")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "execute", "rollback", "sweep")

	cmd.Flags().IntVar(&flags.batchSize, "batch-size", migration.DefaultBatchSize, "accounts per batch")
	cmd.Flags().IntVar(&flags.sample, "sample", migration.DefaultSampleSize, "accounts listed in the preview sample")
	cmd.Flags().IntVar(&flags.grantMonths, "grant-months", migration.DefaultGrantMonths, "length of a synthetic premium grant")
	cmd.Flags().Int64SliceVar(&flags.accounts, "account", nil, "restrict the run to these account ids (repeatable)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "process at most this many candidates")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &configError{err}
	})
	cmd.AddCommand(a.inspectCmd(), a.setCategoriesCmd())
	return cmd
}

func (a *app) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.envDir, a.production)
	if err != nil {
		return nil, nil, &configError{err}
	}
	logger := logging.Setup(a.stderr, os.Getenv(logging.LevelEnv)).With("environment", cfg.Environment)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, func(), error) {
	db, err := database.OpenContext(ctx, cfg.DatabasePath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store.New(db), func() { db.Close() }, nil
}

func (a *app) runMigration(ctx context.Context, flags *runFlags) error {
	if flags.batchSize <= 0 {
		return &configError{fmt.Errorf("--batch-size must be positive, got %d", flags.batchSize)}
	}
	mode := flags.mode()

	cfg, logger, err := a.loadConfig()
	if err != nil {
		return err
	}

	if phrase := confirmationPhrase(mode, a.production); phrase != "" {
		gate := a.newGate(a.stdin, a.stderr)
		if err := gate.Confirm(phrase, string(mode)); err != nil {
			if errors.Is(err, confirm.ErrAborted) {
				fmt.Fprintln(a.stdout, "Aborted. No changes were made.")
				return nil
			}
			return fmt.Errorf("confirm %s: %w", mode, err)
		}
	}

	st, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	orch := migration.New(st, entitlement.NewEvaluator(entitlement.DefaultRules()), migration.Options{
		GrantMonths: flags.grantMonths,
		SampleSize:  flags.sample,
		Now:         a.now,
	}, logger)
	filter := migration.Filter{AccountIDs: flags.accounts, Limit: flags.limit}

	logger.Info("run starting", "mode", mode, "batch_size", flags.batchSize)
	var report *migration.Report
	switch mode {
	case migration.ModeExecute:
		report, err = orch.Execute(ctx, filter, flags.batchSize)
	case migration.ModeRollback:
		report, err = orch.Rollback(ctx, filter, flags.batchSize)
	case migration.ModeSweep:
		report, err = orch.Sweep(ctx, filter, flags.batchSize)
	default:
		report, err = orch.Preview(ctx, filter)
	}
	if report == nil {
		return wrapRunErr(mode, err)
	}
	runErr := err
	report.Environment = cfg.Environment

	// An interrupted or partly failed run still prints and archives what
	// it did before the error is returned.
	if err := report.WriteText(a.stdout); err != nil {
		return errors.Join(wrapRunErr(mode, runErr), fmt.Errorf("write report: %w", err))
	}
	if mode != migration.ModePreview {
		a.archiveReport(ctx, cfg, logger, report)
	}
	if runErr != nil {
		logger.Warn("run stopped", "mode", mode, "run_id", report.RunID, "interrupted", report.Interrupted, "error", runErr)
		return wrapRunErr(mode, runErr)
	}
	logger.Info("run finished", "mode", mode, "run_id", report.RunID, "succeeded", report.Succeeded, "errors", len(report.Errors))
	return nil
}

func wrapRunErr(mode migration.Mode, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", mode, err)
}

// archiveReport uploads the JSON report. Failures are logged only.
func (a *app) archiveReport(ctx context.Context, cfg *config.Config, logger *slog.Logger, report *migration.Report) {
	arch := a.newArchiver(cfg, logger)
	if arch == nil {
		return
	}
	body, err := report.JSON()
	if err != nil {
		logger.Error("encode report", "run_id", report.RunID, "error", err)
		return
	}
	// An interrupted run still gets its report uploaded.
	ctx = context.WithoutCancel(ctx)
	if _, err := arch.Store(ctx, string(report.Mode), report.RunID, body); err != nil {
		logger.Error("archive report", "run_id", report.RunID, "error", err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newApp(stdin, stdout, stderr).rootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	osExit(code)
}
