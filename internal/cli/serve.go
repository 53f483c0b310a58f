package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kidandcat/bankcheck/internal/logging"
	"github.com/kidandcat/bankcheck/internal/visualgrid"
)

func newServeVisualCmd(g *globalFlags) *cobra.Command {
	var (
		addr      string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "serve-visual",
		Short: "Serve the visual comparison API locally",
		Long: `Serves the session API the visual suite uploads checkpoints to. The first
checkpoint of each name, target and test becomes its baseline; later ones are
compared against it. Baselines live in memory until the server stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, s)
			ctx := logging.WithContext(cmd.Context(), logger)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := visualgrid.New(
				visualgrid.WithAPIKey(s.Visual.APIKey),
				visualgrid.WithThreshold(threshold),
				visualgrid.WithLogger(logger.With().Str("component", "visualgrid").Logger()),
			)
			return server.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8089", "Listen address")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Fraction of differing pixels tolerated by strict image checks")
	return cmd
}
