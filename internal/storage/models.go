package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanRecord is one stored scan. Result is kept as raw JSON so records
// posted by clients and records produced by the acquisition share a file.
type ScanRecord struct {
	ID        uuid.UUID       `json:"id"`
	Label     string          `json:"label"`
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// dashboardNamespace seeds the IDs of records that were stored without one.
var dashboardNamespace = uuid.MustParse("0d7c4f5e-3b1a-4e8f-9c2d-6a5b4e3f2d1c")

// fileRecord accepts both the current record shape and the
// {button, scanResult, timestamp} shape of the original dashboard server.
type fileRecord struct {
	ScanRecord
	Button     string          `json:"button"`
	ScanResult json.RawMessage `json:"scanResult"`
}

// decodeRecords reads a scan data file. Dashboard records get Label from
// button, Result from scanResult and an ID derived from their content, so
// the ID stays the same across reads until the file is rewritten.
func decodeRecords(data []byte) ([]ScanRecord, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, err
	}

	records := make([]ScanRecord, 0, len(raw))
	migrated := 0
	for i, item := range raw {
		var fr fileRecord
		if err := json.Unmarshal(item, &fr); err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", i, err)
		}

		rec := fr.ScanRecord
		if rec.ID == uuid.Nil && fr.Button != "" {
			rec.ID = uuid.NewSHA1(dashboardNamespace, item)
			rec.Label = fr.Button
			rec.Result = fr.ScanResult
			migrated++
		}
		records = append(records, rec)
	}
	return records, migrated, nil
}
