package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridprofiler/internal/collector"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/profiler"
	"github.com/sells-group/gridprofiler/pkg/places"
)

var (
	collectForce   bool
	collectMock    bool
	collectFixture string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect POIs for the grid's coverage tiles",
	Long:  "Covers the bounding box with circular query tiles and collects POIs from the places API under bounded concurrency. With --mock, loads the built-in demo POI set (or a JSON fixture via --mock-file) instead of calling the API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if collectMock || collectFixture != "" {
			var (
				n   int
				err error
			)
			if collectFixture != "" {
				n, err = collector.LoadFixtures(ctx, st, collectFixture)
			} else {
				n, err = collector.LoadMockPOIs(ctx, st, configBBox(cfg))
			}
			if err != nil {
				return err
			}
			zap.L().Info("mock POIs loaded", zap.Int("count", n))
			return nil
		}

		points, err := st.GridPoints(ctx)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			return eris.New("no grid points, run `gridprofiler grid` first")
		}

		existing, err := st.POIs(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 && !collectForce {
			zap.L().Info("POIs already collected, use --force to re-collect",
				zap.Int("count", len(existing)))
			return nil
		}

		if cfg.Places.Key == "" {
			return eris.New("places API key not configured")
		}

		tileRadius := cfg.Profiler.MaxInfluenceM
		centers, err := geo.TileCenters(configBBox(cfg), tileRadius)
		if err != nil {
			return eris.Wrap(err, "compute tile centers")
		}

		var clientOpts []places.Option
		if cfg.Places.BaseURL != "" {
			clientOpts = append(clientOpts, places.WithBaseURL(cfg.Places.BaseURL))
		}
		client := places.NewClient(cfg.Places.Key, clientOpts...)
		c := collector.New(client, st, cfg.Collector, tileRadius,
			collector.WithKeywordTypes(profiler.DefaultTaxonomy().KeywordTypes))

		run, err := c.Run(ctx, centers)
		if err != nil {
			return err
		}
		zap.L().Info("collection complete",
			zap.String("run_id", run.ID),
			zap.Int("calls", run.CallsDone),
			zap.Int("pois", run.POIsFound),
		)
		return nil
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectForce, "force", false, "re-collect even if POIs exist")
	collectCmd.Flags().BoolVar(&collectMock, "mock", false, "load the built-in demo POI set instead of calling the API")
	collectCmd.Flags().StringVar(&collectFixture, "mock-file", "", "load POIs from a JSON fixture file (implies --mock)")
	rootCmd.AddCommand(collectCmd)
}
