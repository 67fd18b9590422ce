package sync

import (
	"context"
	"database/sql"
	"encoding/json"

	"go-insights/internal/config"
	"go-insights/internal/features/datasource"

	_ "github.com/lib/pq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Warehouse mirrors synced rows into Postgres so analysts can query them with
// plain SQL. Disabled (all methods no-op) when WAREHOUSE_DSN is unset.
type Warehouse struct {
	db     *sql.DB
	logger *zap.Logger
}

const warehouseSchema = `
CREATE TABLE IF NOT EXISTS warehouse_rows (
	data_source_id TEXT NOT NULL,
	provider       TEXT NOT NULL,
	row_num        INT  NOT NULL,
	row_data       JSONB NOT NULL,
	synced_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (data_source_id, row_num)
)`

func NewWarehouse(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*Warehouse, error) {
	if cfg.WarehouseDSN == "" {
		logger.Info("warehouse mirror disabled, WAREHOUSE_DSN not set")
		return &Warehouse{logger: logger}, nil
	}

	db, err := sql.Open("postgres", cfg.WarehouseDSN)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx, warehouseSchema)
			return err
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})

	return &Warehouse{db: db, logger: logger}, nil
}

// Mirror replaces the source's rows in the warehouse inside one transaction
func (w *Warehouse) Mirror(ctx context.Context, ds *datasource.DataSource, rows []map[string]interface{}) error {
	if w.db == nil {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sourceID := ds.ID.Hex()
	if _, err := tx.ExecContext(ctx, `DELETE FROM warehouse_rows WHERE data_source_id = $1`, sourceID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO warehouse_rows (data_source_id, provider, row_num, row_data) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, sourceID, ds.Provider, i, raw); err != nil {
			return err
		}
	}

	return tx.Commit()
}
