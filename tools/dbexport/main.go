// Package main provides a CLI tool that copies SpineScan data from a SQLite
// database into the MySQL or PostgreSQL database configured in config.yaml.
// It is used when a deployment outgrows the embedded database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbexport",
	Short: "Copy SpineScan data from SQLite to MySQL or PostgreSQL",
	Long: `Copies scans and detections from a SQLite database into the database
configured in config.yaml (database.driver must be mysql or postgres).

IDs are preserved and rows that already exist in the target are skipped, so
the export can be re-run. Scans that were RUNNING in the source are written
as FAILED so they can be retried on the new database.`,
	SilenceUsage: true,
	RunE:         runExport,
}

var cfg Config

func init() {
	rootCmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")
	rootCmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml describing the target database")
	rootCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of records per batch")
	rootCmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Delete existing target rows before copying")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-export verification")
	rootCmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

func runExport(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("dbexport version %s\n", version)
		return nil
	}

	target, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	out := cmd.OutOrStdout()
	if cfg.Verbose {
		fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
		fmt.Fprintf(out, "Target: %s\n", target.Driver)
		fmt.Fprintf(out, "Batch size: %d\n", cfg.BatchSize)
		fmt.Fprintf(out, "Clean mode: %v\n", cfg.Clean)
	}

	migrator, err := OpenMigrator(cmd.Context(), &cfg, target)
	if err != nil {
		return fmt.Errorf("failed to initialize export: %w", err)
	}
	defer migrator.Close()

	stats, err := migrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stats.Print(out)

	if !cfg.SkipVerify {
		fmt.Fprintln(out, "\n--- Verification ---")
		if err := NewVerifier(migrator.source.DB(), migrator.target.DB(), out).Verify(cmd.Context()); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintln(out, "Verification passed!")
	}
	return nil
}
