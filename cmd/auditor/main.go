/*
main.go - Reconciliation auditor CLI

PURPOSE:
  Command-line entry point for the reconciliation auditor. Runs the
  Scan -> Diff -> (report|fix) sweep against the budget database, either
  interactively or from a nightly cron job.

COMMANDS:
  auditor            Run the root-aggregate reconciliation (dry-run default)
  auditor --execute  Apply fixes, with a JSON backup written first
  auditor usage      Cross-check service hoursUsed against time entries

EXIT CODES:
  0  All fixes applied (or nothing to fix / dry-run)
  1  At least one fix failed, or the run itself errored

EXAMPLES:
  # Nightly dry-run report
  ./auditor --db=./data/budget.db

  # Repair after reviewing the report
  ./auditor --db=./data/budget.db --execute --backup-dir=./backups

  # Usage cross-check
  ./auditor --db=./data/budget.db usage

SEE ALSO:
  - reconcile/auditor.go: The Scan/Diff/Fix state machine
  - reconcile/usage.go: The usage cross-check
*/
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v7"
	"github.com/spf13/cobra"

	"github.com/lawtime/budget-engine/reconcile"
	"github.com/lawtime/budget-engine/store/sqlite"
)

type config struct {
	DBPath    string `env:"DB_PATH" envDefault:"budget.db"`
	BackupDir string `env:"BACKUP_DIR" envDefault:"."`
}

var (
	dbPath    string
	backupDir string
	execute   bool
)

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	root := &cobra.Command{
		Use:   "auditor",
		Short: "Reconcile stored client aggregates against their package trees",
		Long: "Recomputes every client's root budget fields (hoursRemaining, minutesRemaining,\n" +
			"isBlocked, isCritical) bottom-up from its package tree and reports drift.\n" +
			"Dry-run by default; --execute backs up the mismatches and repairs them.",
		RunE: runAudit,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "SQLite database path")
	root.Flags().StringVar(&backupDir, "backup-dir", cfg.BackupDir, "directory for pre-fix JSON backups")
	root.Flags().BoolVar(&execute, "execute", false, "apply fixes instead of reporting")

	root.AddCommand(&cobra.Command{
		Use:   "usage",
		Short: "Cross-check service hoursUsed against recorded time entries",
		RunE:  runUsage,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openAuditor() (*reconcile.Auditor, *sqlite.Store, error) {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	auditor := &reconcile.Auditor{
		Clients:   store,
		Entries:   store,
		Runs:      store,
		Log:       log.New(os.Stdout, "", log.LstdFlags),
		BackupDir: backupDir,
	}
	return auditor, store, nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	auditor, store, err := openAuditor()
	if err != nil {
		return err
	}
	defer store.Close()

	mode := reconcile.ModeDryRun
	if execute {
		mode = reconcile.ModeExecute
	}

	summary, err := auditor.Audit(cmd.Context(), mode)
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		// Partial repair: report via exit code so cron alerts fire.
		cmd.SilenceUsage = true
		return fmt.Errorf("%d of %d fixes failed", summary.Failed, summary.Mismatched)
	}
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	auditor, store, err := openAuditor()
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = auditor.VerifyUsage(cmd.Context())
	return err
}
