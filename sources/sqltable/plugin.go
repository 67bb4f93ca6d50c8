package sqltable

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
)

var pluginID = uuid.MustParse("6f8f0a1e-9b0c-4f8e-8f7e-6e7c8e2d1a06")

// Plugin wires the row-as-file SQL adapter into the plugin.Plugin ABI.
// Options select the driver ("sqlite" or "postgres"), the DSN, the
// projecting query, and the key column.
type Plugin struct{}

func (Plugin) GetInfo() plugin.Info {
	return plugin.Info{ID: pluginID, Name: "sqltable", Version: "1.0.0", Description: "read-only view of a SQL query's rows as JSON files"}
}

func (Plugin) Initialize(ctx context.Context) error { return nil }

func (Plugin) IsSupported(init plugin.MountInitInfo) bool {
	_, hasQuery := init.Options["query"]
	_, hasDriver := init.Options["driver"]
	return hasQuery && hasDriver
}

func driverName(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return "sqlite", nil
	case "postgres":
		return "pgx", nil
	default:
		return "", fmt.Errorf("sqltable: unknown driver %q", driver)
	}
}

func (Plugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	driver, err := driverName(init.Options["driver"])
	if err != nil {
		return nil, err
	}

	dsn := init.Options["dsn"]
	if dsn == "" {
		dsn = init.Path
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	cfg := Config{Query: init.Options["query"], KeyColumn: init.Options["keyColumn"]}
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = "id"
	}
	if raw := init.Options["refreshInterval"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.RefreshInterval = d
		}
	}

	return New(ctx, db, cfg)
}
