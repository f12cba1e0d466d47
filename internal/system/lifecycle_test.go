package system

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/register"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBus struct {
	mu      sync.Mutex
	levels  []float32
	n       int
	dropped chan struct{}
}

func (b *stubBus) ReadRegisters(ctx context.Context, start uint16) (register.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level := b.levels[b.n%len(b.levels)]
	b.n++
	return register.NewBlock(level, 1), nil
}

func (b *stubBus) Dropped() <-chan struct{} { return b.dropped }

func (b *stubBus) Close() error { return nil }

func testSystemConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPPort = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Device.TriggerEnabled = false
	cfg.Device.PollInterval = 0
	cfg.Device.SampleCount = 3
	cfg.Storage.Path = filepath.Join(t.TempDir(), "scan_data.json")
	return cfg
}

func TestLifecycle_StartAcquireShutdown(t *testing.T) {
	cfg := testSystemConfig(t)

	store, err := storage.NewJSONStore(cfg.Storage.Path, zap.NewNop())
	require.NoError(t, err)

	opener := func(ctx context.Context) (acquisition.Bus, error) {
		return &stubBus{levels: []float32{10, 20, 30}, dropped: make(chan struct{})}, nil
	}

	lm := NewLifecycleManager(store, cfg, opener, zap.NewNop())
	require.NoError(t, lm.Start())

	st := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", st.State)
	assert.False(t, st.TriggerEnabled)
	assert.Equal(t, config.StorageJSON, st.StorageBackend)
	assert.NotZero(t, st.StartedAt)

	res, err := lm.Acquirer().Acquire(context.Background(), acquisition.Request{Label: "left"})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
	assert.InDelta(t, 8.16496580927726, res.Stats.StdDev, 1e-9)

	// the result reached the store through the sink
	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.ID, records[0].ID)
	assert.Equal(t, "left", records[0].Label)

	assert.Equal(t, 1, lm.GetCurrentStatus().Acquisition.Completed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lm.Shutdown(ctx))

	select {
	case <-lm.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Shutdown")
	}
	assert.Equal(t, "STOPPED", lm.GetCurrentStatus().State)

	// second call is a no-op
	assert.NoError(t, lm.Shutdown(ctx))
}

func TestLifecycle_ShutdownWithoutStart(t *testing.T) {
	cfg := testSystemConfig(t)

	store, err := storage.NewJSONStore(cfg.Storage.Path, zap.NewNop())
	require.NoError(t, err)

	lm := NewLifecycleManager(store, cfg, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, "STOPPED", lm.GetCurrentStatus().State)
}
