package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/orchestrator"
	"github.com/practicepulse/ranking-cli/pkg/gbp"
)

var (
	analyzeAccountID string
	analyzeDomain    string
	analyzeToken     string
	analyzeLocations []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a ranking batch for one account's locations",
	Long: `Runs the full ranking pipeline for the given locations sequentially.
Each --location takes the form "specialty|market[|providerAccount|providerLocation|name|siteRef]",
e.g. --location "orthodontics|Austin, TX|accounts/1|locations/42|Smile Ortho|sc-domain:smileortho.com"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		locations, err := parseLocations(analyzeLocations)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := orchestrator.BatchRequest{
			BatchID:   uuid.New().String(),
			AccountID: analyzeAccountID,
			Domain:    analyzeDomain,
			Auth: gbp.AuthContext{
				AccountID:   analyzeAccountID,
				AccessToken: analyzeToken,
			},
			Locations: locations,
		}

		zap.L().Info("triggering batch",
			zap.String("batch_id", req.BatchID),
			zap.Int("locations", len(locations)),
		)

		if err := env.Orchestrator.Run(ctx, req); err != nil {
			return err
		}

		state, err := env.Batches.Status(ctx, req.BatchID)
		if err == nil && state != nil {
			zap.L().Info("batch finished",
				zap.String("batch_id", state.BatchID),
				zap.String("status", string(state.Status)),
				zap.Int("completed", state.Completed),
			)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeAccountID, "account", "", "tenant account id (required)")
	analyzeCmd.Flags().StringVar(&analyzeDomain, "domain", "", "client website domain")
	analyzeCmd.Flags().StringVar(&analyzeToken, "token", "", "provider access token")
	analyzeCmd.Flags().StringArrayVar(&analyzeLocations, "location", nil, "location spec, repeatable (required)")
	_ = analyzeCmd.MarkFlagRequired("account")
	_ = analyzeCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(analyzeCmd)
}

// parseLocations decodes the pipe-delimited location flags.
func parseLocations(raw []string) ([]model.LocationSpec, error) {
	locations := make([]model.LocationSpec, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, "|")
		if len(parts) < 2 {
			return nil, eris.Errorf("invalid location %q: expected at least specialty|market", r)
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		loc := model.LocationSpec{
			Specialty: parts[0],
			Location:  parts[1],
		}
		if loc.Specialty == "" || loc.Location == "" {
			return nil, eris.Errorf("invalid location %q: specialty and market are required", r)
		}
		if len(parts) > 2 {
			loc.ProviderAccountID = parts[2]
		}
		if len(parts) > 3 {
			loc.ProviderLocationID = parts[3]
		}
		if len(parts) > 4 {
			loc.Name = parts[4]
		}
		if len(parts) > 5 {
			loc.SiteRef = parts[5]
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
