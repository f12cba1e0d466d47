package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string             `json:"state"`
	Acquisition      acquisition.Status `json:"acquisition"`
	TriggerEnabled   bool               `json:"trigger_enabled"`
	StorageBackend   string             `json:"storage_backend"`
	ConnectedClients int                `json:"connected_clients"`
	StartedAt        int64              `json:"started_at"`
}

// Acquirer is the acquisition surface exposed over HTTP.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
	GetStatus() acquisition.Status
}

type LifecycleManager interface {
	Config() *config.Config
	Store() storage.Store
	Acquirer() Acquirer
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
