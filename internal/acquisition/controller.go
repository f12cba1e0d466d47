package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/gpio"
	"github.com/KevinKickass/OpenSensorCore/internal/modbus"
	"github.com/KevinKickass/OpenSensorCore/internal/register"
	"github.com/KevinKickass/OpenSensorCore/internal/stats"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned when a trigger arrives while a session is running.
	ErrBusy = errors.New("acquisition in progress")

	// ErrInvalidRequest is returned for a sample count outside
	// 1..MaxSampleCount.
	ErrInvalidRequest = errors.New("invalid acquisition request")
)

// Bus is the field-bus connection a session reads from. *modbus.Client
// satisfies it.
type Bus interface {
	ReadRegisters(ctx context.Context, start uint16) (register.Block, error)
	Dropped() <-chan struct{}
	Close() error
}

// Opener connects to the field device. It is called once per session.
type Opener func(ctx context.Context) (Bus, error)

// ResultSink receives every successful result.
type ResultSink func(ctx context.Context, res *Result) error

// ModbusOpener opens an RTU connection with cfg for every session.
func ModbusOpener(cfg config.DeviceConfig, logger *zap.Logger) Opener {
	return func(ctx context.Context) (Bus, error) {
		client, err := modbus.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Controller owns the acquisition state. At most one session runs at a
// time; every session ends back in StateIdle.
type Controller struct {
	logger *zap.Logger
	open   Opener
	cfg    config.DeviceConfig
	wsHub  *websocket.Hub

	mu              sync.RWMutex
	currentState    State
	sessionID       uuid.UUID
	lastResultID    uuid.UUID
	lastError       string
	completed       int
	failed          int
	rejected        int
	lastStateChange time.Time
	sink            ResultSink

	// edge-triggered sessions in flight
	wg sync.WaitGroup
}

type session struct {
	id      uuid.UUID
	trigger Trigger
	label   string
	count   int
	edge    *gpio.EdgeEvent
}

// NewController creates an idle controller. wsHub may be nil.
func NewController(
	logger *zap.Logger,
	open Opener,
	cfg config.DeviceConfig,
	wsHub *websocket.Hub,
) *Controller {
	return &Controller{
		logger:          logger,
		open:            open,
		cfg:             cfg,
		wsHub:           wsHub,
		currentState:    StateIdle,
		lastStateChange: time.Now(),
	}
}

// SetResultSink installs the collaborator that persists results.
func (c *Controller) SetResultSink(sink ResultSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Acquire runs one session to completion and returns its result. It fails
// with ErrBusy if another session is running.
func (c *Controller) Acquire(ctx context.Context, req Request) (*Result, error) {
	count, err := c.sampleCount(req.SampleCount)
	if err != nil {
		return nil, err
	}

	id, err := c.begin(TriggerRequest)
	if err != nil {
		return nil, err
	}

	return c.run(ctx, session{id: id, trigger: TriggerRequest, label: req.Label, count: count})
}

// HandleEdge claims the controller for an edge-triggered session and runs it
// in the background. ctx bounds the session.
func (c *Controller) HandleEdge(ctx context.Context, ev gpio.EdgeEvent) error {
	id, err := c.begin(TriggerEdge)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, session{
			id:      id,
			trigger: TriggerEdge,
			label:   string(TriggerEdge),
			count:   c.cfg.SampleCount,
			edge:    &ev,
		})
	}()
	return nil
}

// Run dispatches edge events until ctx is cancelled or events is closed,
// then waits for the session in flight.
func (c *Controller) Run(ctx context.Context, events <-chan gpio.EdgeEvent) {
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.logger.Info("Edge accepted",
				zap.Bool("level", ev.Level),
				zap.Int64("timestamp_us", ev.Timestamp))

			// shutdown stops dispatching; a started session runs to the end
			if err := c.HandleEdge(context.WithoutCancel(ctx), ev); err != nil {
				c.logger.Warn("Edge ignored", zap.Error(err))
			}
		}
	}
}

// Wait blocks until edge-triggered sessions have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) sampleCount(n int) (int, error) {
	switch {
	case n == 0:
		return c.cfg.SampleCount, nil
	case n < 0 || n > MaxSampleCount:
		return 0, fmt.Errorf("%w: sample_count must be between 1 and %d (got %d)",
			ErrInvalidRequest, MaxSampleCount, n)
	default:
		return n, nil
	}
}

func (c *Controller) begin(trigger Trigger) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentState != StateIdle {
		c.rejected++
		c.logger.Warn("Trigger rejected",
			zap.String("trigger", string(trigger)),
			zap.String("current_state", string(c.currentState)),
			zap.String("session_id", c.sessionID.String()))
		return uuid.Nil, fmt.Errorf("%w: cannot start %s session (current: %s)",
			ErrBusy, trigger, c.currentState)
	}

	c.sessionID = uuid.New()
	c.setStateLocked(StateAcquiring)
	return c.sessionID, nil
}

func (c *Controller) run(ctx context.Context, s session) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("acquisition aborted: %v", r)
		}
		c.release(s, res, err)
	}()

	logger := c.logger.With(zap.String("session_id", s.id.String()))
	logger.Info("Acquisition started",
		zap.String("trigger", string(s.trigger)),
		zap.String("label", s.label),
		zap.Int("sample_count", s.count))

	bus, err := c.open(ctx)
	if err != nil {
		if !errors.Is(err, modbus.ErrTransport) {
			err = fmt.Errorf("%w: %w", modbus.ErrTransport, err)
		}
		return nil, fmt.Errorf("open field bus: %w", err)
	}
	var closeOnce sync.Once
	closeBus := func() {
		closeOnce.Do(func() {
			if err := bus.Close(); err != nil {
				logger.Warn("Failed to close field bus", zap.Error(err))
			}
		})
	}
	defer closeBus()

	res = &Result{
		ID:        s.id,
		Label:     s.label,
		Trigger:   s.trigger,
		Edge:      s.edge,
		StartedAt: time.Now(),
		Requested: s.count,
		Samples:   make([]Sample, 0, s.count),
	}

	for i := 0; i < s.count; i++ {
		var reading register.Reading
		block, err := bus.ReadRegisters(ctx, c.cfg.StartAddress)
		if err == nil {
			reading = register.Decode(block)
			err = reading.Validate()
		}

		switch {
		case err == nil:
			res.Samples = append(res.Samples, Sample{
				Index:  i,
				Level:  float64(reading.Level),
				Signal: reading.Signal,
				At:     time.Now(),
			})
			logger.Info("Sample read",
				zap.Int("index", i),
				zap.Float32("level", reading.Level),
				zap.Uint16("signal", reading.Signal))
			c.broadcast(websocket.NewSampleMessage(s.id.String(), i, float64(reading.Level), reading.Signal))

		case errors.Is(err, modbus.ErrTransport), ctx.Err() != nil:
			return nil, fmt.Errorf("read %d of %d: %w", i+1, s.count, err)

		default:
			res.Failures++
			logger.Warn("Sample read failed",
				zap.Int("index", i),
				zap.Error(err))
		}

		// no pause after the last read
		if i < s.count-1 {
			if err := c.pause(ctx, bus); err != nil {
				return nil, err
			}
		}
	}

	c.setState(StateFinalizing)
	closeBus()

	record, err := computeStats(res)
	if err != nil {
		return nil, err
	}
	res.Stats = record
	res.FinishedAt = time.Now()

	logger.Info("Acquisition completed",
		zap.Int("samples", len(res.Samples)),
		zap.Int("failures", res.Failures),
		zap.Float64("mean", record.Mean),
		zap.Float64("std_dev", record.StdDev),
		zap.Float64("range", record.Range),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))

	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		if err := sink(ctx, res); err != nil {
			logger.Error("Failed to store result", zap.Error(err))
		}
	}

	return res, nil
}

func computeStats(res *Result) (stats.Record, error) {
	record, err := stats.Compute(res.Levels())
	if err != nil {
		return stats.Record{}, fmt.Errorf("%w: %d of %d reads failed", err, res.Failures, res.Requested)
	}
	return record, nil
}

// pause waits out the poll interval. A dropped connection or a cancelled
// context ends the wait early with an error.
func (c *Controller) pause(ctx context.Context, bus Bus) error {
	if c.cfg.PollInterval <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-bus.Dropped():
		return fmt.Errorf("%w: connection dropped between reads", modbus.ErrTransport)
	}
}

func (c *Controller) release(s session, res *Result, err error) {
	c.mu.Lock()
	if err != nil {
		c.failed++
		c.lastError = err.Error()
	} else {
		c.completed++
		c.lastResultID = res.ID
		c.lastError = ""
	}
	c.sessionID = uuid.Nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	data := websocket.AcquisitionResultData{
		SessionID: s.id.String(),
		Label:     s.label,
		Requested: s.count,
	}

	if err != nil {
		c.logger.Error("Acquisition failed",
			zap.String("session_id", s.id.String()),
			zap.String("trigger", string(s.trigger)),
			zap.Error(err))
		data.Error = err.Error()
		c.broadcast(websocket.NewFailedMessage(data))
		return
	}

	data.Samples = len(res.Samples)
	data.Failures = res.Failures
	data.Stats = &res.Stats
	c.broadcast(websocket.NewCompletedMessage(data))
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(state)
}

func (c *Controller) setStateLocked(state State) {
	previous := c.currentState
	c.currentState = state
	c.lastStateChange = time.Now()

	c.logger.Debug("Acquisition state changed",
		zap.String("state", string(state)),
		zap.String("previous_state", string(previous)))

	c.broadcast(websocket.NewAcquisitionStateMessage(
		string(state),
		string(previous),
		c.sessionID.String(),
	))
}

func (c *Controller) broadcast(msg websocket.Message) {
	if c.wsHub != nil {
		c.wsHub.Broadcast(msg)
	}
}

// GetStatus returns a snapshot of the controller state and counters.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:           c.currentState,
		LastError:       c.lastError,
		Completed:       c.completed,
		Failed:          c.failed,
		Rejected:        c.rejected,
		LastStateChange: c.lastStateChange,
	}
	if c.sessionID != uuid.Nil {
		st.SessionID = c.sessionID.String()
	}
	if c.lastResultID != uuid.Nil {
		st.LastResultID = c.lastResultID.String()
	}
	return st
}
