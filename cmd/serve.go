package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridprofiler/internal/collector"
	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/profiler"
	"github.com/sells-group/gridprofiler/internal/store"
	"github.com/sells-group/gridprofiler/pkg/places"
)

var (
	servePort    int
	serveFixture string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the profiling HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var client places.Client
		if cfg.Places.Key != "" {
			var opts []places.Option
			if cfg.Places.BaseURL != "" {
				opts = append(opts, places.WithBaseURL(cfg.Places.BaseURL))
			}
			client = places.NewClient(cfg.Places.Key, opts...)
		}

		s := &server{cfg: cfg, store: st, client: client, fixture: serveFixture}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: s.router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveFixture, "mock-fixture", "", "POI fixture file for POST /collect/mock (default: built-in demo set)")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	cfg     *config.Config
	store   store.Store
	client  places.Client
	fixture string
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/grid", s.handleGetGrid)
	r.Post("/grid/generate", s.handleGenerateGrid)
	r.Get("/pois", s.handleGetPOIs)
	r.Post("/collect", s.handleCollect)
	r.Post("/collect/mock", s.handleCollectMock)
	r.Get("/profiles", s.handleGetProfiles)
	r.Get("/profile", s.handleGetProfile)
	r.Post("/compute-profiles", s.handleComputeProfiles)
	r.Get("/config", s.handleGetConfig)

	return r
}

func (s *server) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.GridPoints(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(points), "grid_points": points})
}

func (s *server) handleGenerateGrid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	existing, err := s.store.GridPoints(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if len(existing) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("Grid already exists with %d points.", len(existing)),
			"count":   len(existing),
			"cached":  true,
		})
		return
	}

	points, err := geo.GenerateGrid(configBBox(s.cfg), s.cfg.Grid.SpacingM)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.PutGridPoints(ctx, points); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Generated %d grid points", len(points)),
		"count":   len(points),
		"cached":  false,
	})
}

func (s *server) handleGetPOIs(w http.ResponseWriter, r *http.Request) {
	pois, err := s.store.POIs(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(pois), "pois": pois})
}

func (s *server) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	points, err := s.store.GridPoints(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if len(points) == 0 {
		writeErrMsg(w, http.StatusBadRequest, "No grid points. Generate grid first via POST /grid/generate")
		return
	}

	existing, err := s.store.POIs(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if len(existing) > 0 && !force {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("Already have %d POIs stored. Use ?force=true to re-collect.", len(existing)),
			"count":   len(existing),
			"cached":  true,
		})
		return
	}

	if s.client == nil {
		writeErrMsg(w, http.StatusBadRequest, "places API key not configured")
		return
	}

	tileRadius := s.cfg.Profiler.MaxInfluenceM
	centers, err := geo.TileCenters(configBBox(s.cfg), tileRadius)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	c := collector.New(s.client, s.store, s.cfg.Collector, tileRadius,
		collector.WithKeywordTypes(profiler.DefaultTaxonomy().KeywordTypes))
	run, err := c.Run(ctx, centers)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Collected %d unique POIs", run.POIsFound),
		"count":   run.POIsFound,
		"run_id":  run.ID,
		"cached":  false,
	})
}

func (s *server) handleCollectMock(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)
	if s.fixture != "" {
		n, err = collector.LoadFixtures(r.Context(), s.store, s.fixture)
	} else {
		n, err = collector.LoadMockPOIs(r.Context(), s.store, configBBox(s.cfg))
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Loaded %d mock POIs", n),
		"count":   n,
	})
}

func (s *server) handleGetProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.Profiles(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(profiles), "profiles": profiles})
}

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeErrMsg(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}

	points, err := s.store.GridPoints(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	nearest, ok := geo.NearestGridPoint(points, lat, lon)
	if !ok {
		writeErrMsg(w, http.StatusBadRequest, "No grid points.")
		return
	}

	p, err := s.store.Profile(ctx, nearest.ID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeErrMsg(w, http.StatusNotFound,
				fmt.Sprintf("No profile computed for grid point %s. Run POST /compute-profiles first.", nearest.ID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"grid_point_id":         nearest.ID,
		"lat":                   nearest.Lat,
		"lon":                   nearest.Lon,
		"poi_summary":           p.POISummary,
		"geographic_attributes": p.GeoAttrs,
		"audience":              p.Audience,
		"model_metadata": map[string]float64{
			"sigma_m":         s.cfg.Profiler.SigmaM,
			"max_influence_m": s.cfg.Profiler.MaxInfluenceM,
		},
	})
}

func (s *server) handleComputeProfiles(w http.ResponseWriter, r *http.Request) {
	agg := profiler.New(s.store, s.cfg.Profiler, profiler.DefaultTaxonomy())
	n, err := agg.ComputeAll(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Computed %d profiles", n),
		"count":   n,
	})
}

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bbox": map[string]float64{
			"south": s.cfg.Grid.South, "north": s.cfg.Grid.North,
			"west": s.cfg.Grid.West, "east": s.cfg.Grid.East,
		},
		"grid_spacing_m":  s.cfg.Grid.SpacingM,
		"sigma_m":         s.cfg.Profiler.SigmaM,
		"max_influence_m": s.cfg.Profiler.MaxInfluenceM,
		"poi_types":       s.cfg.Collector.Types,
		"poi_keywords":    s.cfg.Collector.Keywords,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeErrMsg(w, status, "internal error")
}

func writeErrMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
