package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schema is the routes table. Strategies:
//   - "local": the handler registered with RegisterLocal.
//   - "http":  the HTTP transport factory (or any registered protocol).
//   - "noop":  succeed without doing anything.
//
// Writes bump PRAGMA data_version, which Watch polls.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Init creates the routes table if needed.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Upsert writes a route, replacing any existing row for the service.
func Upsert(ctx context.Context, db *sql.DB, rt Route) error {
	cfg := string(rt.Config)
	if cfg == "" {
		cfg = "{}"
	}
	if !json.Valid([]byte(cfg)) {
		return fmt.Errorf("connectivity: route %s: config is not valid JSON", rt.Service)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO routes (service_name, strategy, endpoint, config, updated_at)
		VALUES (?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(service_name) DO UPDATE SET
			strategy = excluded.strategy,
			endpoint = excluded.endpoint,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		rt.Service, rt.Strategy, rt.Endpoint, cfg)
	if err != nil {
		return fmt.Errorf("connectivity: upsert route %s: %w", rt.Service, err)
	}
	return nil
}

// Watch reloads the router whenever PRAGMA data_version changes. It performs
// an initial load and blocks until ctx is cancelled.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}
	var last int64
	db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&last)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var v int64
			if err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
				r.logger.Warn("connectivity: data_version poll failed", "error", err)
				continue
			}
			if v == last {
				continue
			}
			last = v
			if err := r.Reload(ctx, db); err != nil {
				r.logger.Error("connectivity: reload failed", "error", err)
			}
		}
	}
}
