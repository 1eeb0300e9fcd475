package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/store"
)

// openStore opens the configured store backend and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func configBBox(c *config.Config) geo.BBox {
	return geo.BBox{
		South: c.Grid.South,
		North: c.Grid.North,
		West:  c.Grid.West,
		East:  c.Grid.East,
	}
}
