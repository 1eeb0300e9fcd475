package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridprofiler/internal/profiler"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Compute audience profiles for all grid points",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		agg := profiler.New(st, cfg.Profiler, profiler.DefaultTaxonomy())
		n, err := agg.ComputeAll(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("profiles computed", zap.Int("count", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
}
