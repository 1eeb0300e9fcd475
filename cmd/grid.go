package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridprofiler/internal/geo"
)

var gridForce bool

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Generate and store the profiling grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		existing, err := st.GridPoints(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 && !gridForce {
			zap.L().Info("grid already exists, use --force to regenerate",
				zap.Int("count", len(existing)))
			return nil
		}

		points, err := geo.GenerateGrid(configBBox(cfg), cfg.Grid.SpacingM)
		if err != nil {
			return eris.Wrap(err, "generate grid")
		}
		if len(existing) > 0 {
			// Forced regeneration: a changed bbox or spacing must not leave
			// stale points or profiles behind.
			if err := st.ClearGrid(ctx); err != nil {
				return err
			}
		}
		if err := st.PutGridPoints(ctx, points); err != nil {
			return err
		}

		zap.L().Info("grid generated",
			zap.Int("count", len(points)),
			zap.Float64("spacing_m", cfg.Grid.SpacingM),
		)
		return nil
	},
}

func init() {
	gridCmd.Flags().BoolVar(&gridForce, "force", false, "regenerate even if a grid exists")
	rootCmd.AddCommand(gridCmd)
}
