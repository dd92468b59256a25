package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cacheSpecialty string
	cacheLocation  string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the competitor cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop the cached competitor list for one market",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		existed, err := env.Cache.Invalidate(ctx, cacheSpecialty, cacheLocation)
		if err != nil {
			return eris.Wrap(err, "invalidate cache entry")
		}
		if !existed {
			zap.L().Info("no cache entry for market",
				zap.String("specialty", cacheSpecialty),
				zap.String("location", cacheLocation),
			)
			return nil
		}
		zap.L().Info("cache entry invalidated",
			zap.String("specialty", cacheSpecialty),
			zap.String("location", cacheLocation),
		)
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every expired competitor cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.CleanupExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "cleanup expired cache entries")
		}
		zap.L().Info("expired cache entries deleted", zap.Int("count", n))
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&cacheSpecialty, "specialty", "", "practice specialty (required)")
	cacheInvalidateCmd.Flags().StringVar(&cacheLocation, "market", "", "market location (required)")
	_ = cacheInvalidateCmd.MarkFlagRequired("specialty")
	_ = cacheInvalidateCmd.MarkFlagRequired("market")

	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)
}
