package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the tables and record the schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		_, _, database, err := openBase(ctx, configPath)
		if err != nil {
			return err
		}
		defer database.Close()

		defer logger.LogDuration(ctx, "migration finished", "schema_version", schemaVersion)()
		return database.Migrate(ctx, schemaVersion, models()...)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release held distributions whose hold window has elapsed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.Release.ReleaseEligible(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"released": n})
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run one settlement batch and print its summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Batch.RunBatch(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute balances from distributions and report drift",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.Reconciler.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if len(report.Drifts) > 0 {
			return fmt.Errorf("%d balances drifted", len(report.Drifts))
		}
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
