package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// JSONStore keeps all records in one indented JSON array on disk. Every
// mutation rewrites the file through a temporary file and a rename, which
// also converts records left by the original dashboard server.
type JSONStore struct {
	path      string
	validator *Validator
	logger    *zap.Logger

	mu sync.Mutex
}

func NewJSONStore(path string, logger *zap.Logger) (*JSONStore, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	logger.Info("Using JSON scan data file", zap.String("path", path))

	return &JSONStore{
		path:      path,
		validator: validator,
		logger:    logger,
	}, nil
}

func (s *JSONStore) List(ctx context.Context) ([]ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONStore) Append(ctx context.Context, rec ScanRecord) (ScanRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return rec, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return rec, err
	}

	records = append([]ScanRecord{rec}, records...)
	if err := s.save(records); err != nil {
		return rec, err
	}

	s.logger.Debug("Scan record stored",
		zap.String("id", rec.ID.String()),
		zap.String("label", rec.Label),
		zap.Int("total", len(records)))

	return rec, nil
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save([]ScanRecord{})
}

func (s *JSONStore) Delete(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	if index < 0 || index >= len(records) {
		return fmt.Errorf("%w: index %d (have %d)", ErrNotFound, index, len(records))
	}

	records = append(records[:index], records[index+1:]...)
	return s.save(records)
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) load() ([]ScanRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []ScanRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	if err := s.validator.ValidateFile(data); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	records, migrated, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if migrated > 0 {
		s.logger.Debug("Read dashboard scan records",
			zap.String("path", s.path),
			zap.Int("count", migrated))
	}
	return records, nil
}

func (s *JSONStore) save(records []ScanRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scan data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
