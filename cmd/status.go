package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show a batch's progress, or one run with --run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if statusRunID != "" {
			run, err := env.Store.GetRun(ctx, statusRunID)
			if err != nil {
				return eris.Wrapf(err, "get run %s", statusRunID)
			}
			return enc.Encode(run)
		}

		if len(args) == 0 {
			return eris.New("a batch id or --run is required")
		}
		state, err := env.Batches.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if state == nil {
			return eris.Errorf("batch not found: %s", args[0])
		}
		return enc.Encode(state)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "show a single run instead of a batch")
	rootCmd.AddCommand(statusCmd)
}
