package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const createScanDataTable = `
CREATE TABLE IF NOT EXISTS scan_data (
	id         UUID PRIMARY KEY,
	label      TEXT NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresClient, error) {
	return NewPostgresClientFromDSN(ctx, cfg.DSN(), cfg.MaxConnections, logger)
}

func NewPostgresClientFromDSN(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createScanDataTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create scan_data table: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database))

	return &PostgresClient{pool: pool, logger: logger}, nil
}

func (p *PostgresClient) List(ctx context.Context) ([]ScanRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, label, result, created_at
		FROM scan_data
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan data: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScanRecord, error) {
		var rec ScanRecord
		err := row.Scan(&rec.ID, &rec.Label, &rec.Result, &rec.Timestamp)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan scan data: %w", err)
	}
	return records, nil
}

func (p *PostgresClient) Append(ctx context.Context, rec ScanRecord) (ScanRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return rec, err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO scan_data (id, label, result, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.Label, []byte(rec.Result), rec.Timestamp)
	if err != nil {
		return rec, fmt.Errorf("failed to insert scan record: %w", err)
	}
	return rec, nil
}

func (p *PostgresClient) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM scan_data`); err != nil {
		return fmt.Errorf("failed to clear scan data: %w", err)
	}
	return nil
}

// Delete removes the record at index in newest-first order.
func (p *PostgresClient) Delete(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}

	tag, err := p.pool.Exec(ctx, `
		DELETE FROM scan_data
		WHERE id = (
			SELECT id FROM scan_data
			ORDER BY created_at DESC, id DESC
			OFFSET $1 LIMIT 1
		)
	`, index)
	if err != nil {
		return fmt.Errorf("failed to delete scan record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return nil
}

func (p *PostgresClient) Close() error {
	p.pool.Close()
	return nil
}
