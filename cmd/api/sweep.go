package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kiritara/api/internal/blob"
	"kiritara/api/internal/store"
	"kiritara/api/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove gallery blobs no image row references",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().Bool("dry-run", false, "report orphans without removing them")
	sweepCmd.Flags().Duration("grace", 0, "skip blobs younger than this (defaults to SWEEP_GRACE)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	grace, _ := cmd.Flags().GetDuration("grace")
	if grace <= 0 {
		grace = cfg.Sweep.Grace
	}

	ctx := cmd.Context()
	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	blobs, err := blob.New(blobConfig(cfg))
	if err != nil {
		return err
	}

	report, runErr := sweep.New(blobs, store.NewPostgresStore(conn)).Run(ctx, sweep.Options{
		Grace:  grace,
		DryRun: dryRun,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		sweep.Report
		DryRun bool   `json:"dry_run"`
		Grace  string `json:"grace"`
	}{report, dryRun, grace.Round(time.Second).String()}); err != nil {
		return err
	}
	return runErr
}
