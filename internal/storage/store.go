package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Delete for an index outside the stored records.
var ErrNotFound = errors.New("scan record not found")

// Store keeps scan records newest first. Index 0 is the most recent record.
type Store interface {
	List(ctx context.Context) ([]ScanRecord, error)
	// Append stores rec at index 0, filling in ID and Timestamp when unset.
	Append(ctx context.Context, rec ScanRecord) (ScanRecord, error)
	Clear(ctx context.Context) error
	Delete(ctx context.Context, index int) error
	Close() error
}

// Open returns the store selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageJSON:
		return NewJSONStore(cfg.Storage.Path, logger)
	case config.StoragePostgres:
		return NewPostgresClient(ctx, cfg.Database, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// ResultSink adapts a Store to the acquisition result hook. The record label
// is the result label.
func ResultSink(store Store) acquisition.ResultSink {
	return func(ctx context.Context, res *acquisition.Result) error {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		label := res.Label
		if label == "" {
			label = string(res.Trigger)
		}

		_, err = store.Append(ctx, ScanRecord{
			ID:        res.ID,
			Label:     label,
			Result:    data,
			Timestamp: res.FinishedAt,
		})
		return err
	}
}

func prepare(rec ScanRecord) (ScanRecord, error) {
	if rec.Label == "" {
		return rec, errors.New("label is required")
	}
	if len(rec.Result) == 0 || string(rec.Result) == "null" {
		return rec, errors.New("result is required")
	}
	if !json.Valid(rec.Result) {
		return rec, errors.New("result is not valid JSON")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return rec, nil
}
