package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/api/rest"
	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/gpio"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config     *config.Config
	store      storage.Store
	wsHub      *websocket.Hub
	monitor    *gpio.Monitor
	controller *acquisition.Controller
	logger     *zap.Logger

	restServer *rest.Server

	// background loops: hub and edge dispatcher
	cancel context.CancelFunc
	loops  sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the acquisition pipeline. opener connects to the
// field device once per session.
func NewLifecycleManager(
	store storage.Store,
	cfg *config.Config,
	opener acquisition.Opener,
	logger *zap.Logger,
) *LifecycleManager {
	wsHub := websocket.NewHub(logger.Named("websocket"))
	controller := acquisition.NewController(logger.Named("acquisition"), opener, cfg.Device, wsHub)
	controller.SetResultSink(storage.ResultSink(store))

	lm := &LifecycleManager{
		config:       cfg,
		store:        store,
		wsHub:        wsHub,
		monitor:      gpio.NewMonitor(logger.Named("gpio"), cfg.Device.Debounce),
		controller:   controller,
		logger:       logger,
		currentState: StateStopped,
		shutdownChan: make(chan struct{}),
	}

	wsHub.SetStatusProvider(websocket.StatusFunc(func() any {
		return lm.GetCurrentStatus()
	}))

	return lm
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenSensorCore")

	if err := lm.setState(StateInitializing); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.loops.Add(1)
	go func() {
		defer lm.loops.Done()
		lm.wsHub.Run(ctx)
	}()

	if lm.config.Device.TriggerEnabled {
		// failure leaves the monitor disabled; direct acquisitions still work
		lm.monitor.Start(gpio.LineConfig{
			Chip: lm.config.Device.GPIOChip,
			Line: lm.config.Device.GPIOLine,
			Edge: gpio.Edge(lm.config.Device.TriggerEdge),
		})
	}

	lm.loops.Add(1)
	go func() {
		defer lm.loops.Done()
		lm.controller.Run(ctx, lm.monitor.Events())
	}()

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("serial_port", lm.config.Device.Port),
		zap.Bool("trigger_enabled", lm.monitor.Enabled()),
		zap.String("storage_backend", lm.config.Storage.Backend),
		zap.Duration("worst_case_session", lm.config.Device.WorstCaseSession(lm.config.Device.SampleCount)))

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("http"), lm.wsHub)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state during shutdown", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.forceState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. Stop accepting HTTP requests. In-flight acquisitions finish.
	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	// 2. Release the input line so no new edges arrive
	if err := lm.monitor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gpio close failed: %w", err))
	}

	// 3. Cancel the dispatcher and the hub, wait for a running session
	if lm.cancel != nil {
		lm.cancel()
	}

	done := make(chan struct{})
	go func() {
		lm.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, errors.New("shutdown timeout exceeded"))
	}

	// 4. Storage last, a finishing session may still write its result
	if err := lm.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close failed: %w", err))
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		return err
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) forceState(state SystemState) {
	lm.stateMu.Lock()
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		Acquisition:      lm.controller.GetStatus(),
		TriggerEnabled:   lm.monitor.Enabled(),
		StorageBackend:   lm.config.Storage.Backend,
		ConnectedClients: lm.wsHub.GetClientCount(),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.Unix()
	}
	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Store returns the result store
func (lm *LifecycleManager) Store() storage.Store {
	return lm.store
}

// Acquirer returns the acquisition controller
func (lm *LifecycleManager) Acquirer() interfaces.Acquirer {
	return lm.controller
}
