package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/gpio"
	"github.com/KevinKickass/OpenSensorCore/internal/modbus"
	"github.com/KevinKickass/OpenSensorCore/internal/register"
	"github.com/KevinKickass/OpenSensorCore/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// step is one scripted response of fakeBus.
type step struct {
	level  float32
	signal uint16
	err    error
}

type fakeBus struct {
	mu        sync.Mutex
	steps     []step
	reads     int
	addresses []uint16
	closes    int
	dropped   chan struct{}

	// optional hooks
	gate        chan struct{}
	afterRead   func(n int)
	panicOnRead bool
}

func newFakeBus(steps ...step) *fakeBus {
	return &fakeBus{steps: steps, dropped: make(chan struct{})}
}

func (b *fakeBus) ReadRegisters(ctx context.Context, start uint16) (register.Block, error) {
	if b.gate != nil {
		<-b.gate
	}
	if b.panicOnRead {
		panic("serial driver exploded")
	}

	b.mu.Lock()
	n := b.reads
	b.reads++
	b.addresses = append(b.addresses, start)
	b.mu.Unlock()

	defer func() {
		if b.afterRead != nil {
			b.afterRead(n)
		}
	}()

	if n >= len(b.steps) {
		return register.Block{}, modbus.ErrReadTimeout
	}
	st := b.steps[n]
	if st.err != nil {
		return register.Block{}, st.err
	}
	return register.NewBlock(st.level, st.signal), nil
}

func (b *fakeBus) Dropped() <-chan struct{} { return b.dropped }

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBus) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *fakeBus) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

func testConfig() config.DeviceConfig {
	cfg := config.Default().Device
	cfg.PollInterval = 0
	cfg.SampleCount = 3
	return cfg
}

func newTestController(t *testing.T, cfg config.DeviceConfig, bus *fakeBus) *Controller {
	t.Helper()
	opener := func(ctx context.Context) (Bus, error) { return bus, nil }
	return NewController(zaptest.NewLogger(t), opener, cfg, nil)
}

func TestAcquire_ComputesStatistics(t *testing.T) {
	bus := newFakeBus(step{level: 10, signal: 1}, step{level: 20, signal: 2}, step{level: 30, signal: 3})
	c := newTestController(t, testConfig(), bus)

	res, err := c.Acquire(context.Background(), Request{SampleCount: 3, Label: "left"})
	require.NoError(t, err)

	assert.Equal(t, []float64{10, 20, 30}, res.Levels())
	assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
	assert.InDelta(t, 8.16496580927726, res.Stats.StdDev, 1e-9)
	assert.InDelta(t, 20.0, res.Stats.Range, 1e-9)
	assert.Equal(t, 10.0, res.Stats.Min)
	assert.Equal(t, 30.0, res.Stats.Max)
	assert.Equal(t, uint16(3), res.Samples[2].Signal)
	assert.Equal(t, "left", res.Label)
	assert.Equal(t, TriggerRequest, res.Trigger)
	assert.Zero(t, res.Failures)
	assert.Equal(t, 3, res.Requested)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	assert.Equal(t, []uint16{0, 0, 0}, bus.addresses)
	assert.Equal(t, 1, bus.closeCount())

	st := c.GetStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, res.ID.String(), st.LastResultID)
	assert.Empty(t, st.SessionID)
}

func TestAcquire_SkipsFailedReads(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"Timeout", fmt.Errorf("%w: no answer", modbus.ErrReadTimeout)},
		{"Protocol", fmt.Errorf("%w: crc mismatch", modbus.ErrProtocol)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus(step{level: 10}, step{err: tt.err}, step{level: 30})
			c := newTestController(t, testConfig(), bus)

			res, err := c.Acquire(context.Background(), Request{SampleCount: 3})
			require.NoError(t, err)

			assert.Equal(t, []float64{10, 30}, res.Levels())
			assert.Equal(t, 1, res.Failures)
			assert.Equal(t, 3, bus.readCount())
			assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
			assert.InDelta(t, 10.0, res.Stats.StdDev, 1e-9)
			assert.InDelta(t, 20.0, res.Stats.Range, 1e-9)
		})
	}
}

func TestAcquire_DiscardsNonFiniteLevels(t *testing.T) {
	tests := []struct {
		name  string
		level float32
	}{
		{"NaN", float32(math.NaN())},
		{"PosInf", float32(math.Inf(1))},
		{"NegInf", float32(math.Inf(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus(step{level: 10}, step{level: tt.level}, step{level: 30})
			c := newTestController(t, testConfig(), bus)

			res, err := c.Acquire(context.Background(), Request{})
			require.NoError(t, err)

			assert.Equal(t, []float64{10, 30}, res.Levels())
			assert.Equal(t, 1, res.Failures)
			assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
			assert.InDelta(t, 10.0, res.Stats.StdDev, 1e-9)

			_, err = json.Marshal(res)
			assert.NoError(t, err)
		})
	}
}

func TestAcquire_AllReadsFail(t *testing.T) {
	bus := newFakeBus(step{err: modbus.ErrReadTimeout}, step{err: modbus.ErrReadTimeout}, step{err: modbus.ErrReadTimeout})
	c := newTestController(t, testConfig(), bus)

	res, err := c.Acquire(context.Background(), Request{})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, stats.ErrInsufficientSamples)

	st := c.GetStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Failed)
	assert.Contains(t, st.LastError, "3 of 3 reads failed")
	assert.Equal(t, 1, bus.closeCount())
}

func TestAcquire_TransportErrorAborts(t *testing.T) {
	bus := newFakeBus(step{level: 10}, step{err: fmt.Errorf("%w: unplugged", modbus.ErrTransport)}, step{level: 30})
	c := newTestController(t, testConfig(), bus)

	_, err := c.Acquire(context.Background(), Request{SampleCount: 3})
	assert.ErrorIs(t, err, modbus.ErrTransport)
	assert.Equal(t, 2, bus.readCount())
	assert.Equal(t, 1, bus.closeCount())
	assert.Equal(t, StateIdle, c.GetStatus().State)
}

func TestAcquire_OpenFailure(t *testing.T) {
	opener := func(ctx context.Context) (Bus, error) {
		return nil, errors.New("permission denied")
	}
	c := NewController(zaptest.NewLogger(t), opener, testConfig(), nil)

	_, err := c.Acquire(context.Background(), Request{})
	assert.ErrorIs(t, err, modbus.ErrTransport)
	assert.Equal(t, StateIdle, c.GetStatus().State)

	// the flag is released, a retry is accepted
	_, err = c.Acquire(context.Background(), Request{})
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestAcquire_DropDuringPause(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour

	bus := newFakeBus(step{level: 10}, step{level: 20})
	bus.afterRead = func(n int) {
		if n == 0 {
			close(bus.dropped)
		}
	}
	c := newTestController(t, cfg, bus)

	_, err := c.Acquire(context.Background(), Request{SampleCount: 2})
	assert.ErrorIs(t, err, modbus.ErrTransport)
	assert.Equal(t, 1, bus.readCount())
}

func TestAcquire_CancelDuringPause(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	bus := newFakeBus(step{level: 10}, step{level: 20})
	bus.afterRead = func(int) { cancel() }
	c := newTestController(t, cfg, bus)

	_, err := c.Acquire(ctx, Request{SampleCount: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, c.GetStatus().State)
	assert.Equal(t, 1, bus.closeCount())
}

func TestAcquire_PollIntervalBetweenReadsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 200 * time.Millisecond

	bus := newFakeBus(step{level: 1}, step{level: 2}, step{level: 3})
	var lastRead time.Time
	bus.afterRead = func(n int) {
		if n == 2 {
			lastRead = time.Now()
		}
	}
	c := newTestController(t, cfg, bus)

	start := time.Now()
	_, err := c.Acquire(context.Background(), Request{SampleCount: 3})
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	// the session ends without waiting after the last read
	assert.Less(t, time.Since(lastRead), cfg.PollInterval)
}

func TestAcquire_PanicReleasesFlag(t *testing.T) {
	bus := newFakeBus()
	bus.panicOnRead = true
	c := newTestController(t, testConfig(), bus)

	_, err := c.Acquire(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial driver exploded")

	st := c.GetStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, bus.closeCount())
}

func TestAcquire_SampleCount(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		wantReads int
		wantErr   error
	}{
		{"Default", 0, 3, nil},
		{"Explicit", 2, 2, nil},
		{"Negative", -1, 0, ErrInvalidRequest},
		{"TooMany", MaxSampleCount + 1, 0, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus(step{level: 1}, step{level: 2}, step{level: 3})
			c := newTestController(t, testConfig(), bus)

			res, err := c.Acquire(context.Background(), Request{SampleCount: tt.requested})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, bus.readCount())
				assert.Equal(t, StateIdle, c.GetStatus().State)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReads, bus.readCount())
			assert.Len(t, res.Samples, tt.wantReads)
		})
	}
}

func TestAcquire_RejectsWhileBusy(t *testing.T) {
	bus := newFakeBus(step{level: 5})
	bus.gate = make(chan struct{})
	c := newTestController(t, testConfig(), bus)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Acquire(context.Background(), Request{SampleCount: 1})
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		return c.GetStatus().State == StateAcquiring
	}, time.Second, time.Millisecond)

	_, err := c.Acquire(context.Background(), Request{SampleCount: 1})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.HandleEdge(context.Background(), gpio.EdgeEvent{Level: true, Timestamp: 1}), ErrBusy)

	close(bus.gate)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, []float64{5}, first.res.Levels())

	st := c.GetStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 2, st.Rejected)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, bus.readCount())
}

func TestAcquire_SinkReceivesResult(t *testing.T) {
	bus := newFakeBus(step{level: 10}, step{level: 20}, step{level: 30})
	c := newTestController(t, testConfig(), bus)

	var got *Result
	c.SetResultSink(func(ctx context.Context, res *Result) error {
		got = res
		return errors.New("disk full")
	})

	res, err := c.Acquire(context.Background(), Request{Label: "right"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, 1, c.GetStatus().Completed)
}

func TestHandleEdge_RunsInBackground(t *testing.T) {
	bus := newFakeBus(step{level: 10}, step{level: 20}, step{level: 30})
	c := newTestController(t, testConfig(), bus)

	results := make(chan *Result, 1)
	c.SetResultSink(func(ctx context.Context, res *Result) error {
		results <- res
		return nil
	})

	ev := gpio.EdgeEvent{Level: false, Timestamp: 42}
	require.NoError(t, c.HandleEdge(context.Background(), ev))
	c.Wait()

	res := <-results
	assert.Equal(t, TriggerEdge, res.Trigger)
	assert.Equal(t, "edge", res.Label)
	require.NotNil(t, res.Edge)
	assert.Equal(t, ev, *res.Edge)
	assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
	assert.Equal(t, StateIdle, c.GetStatus().State)
}

func TestRun_DispatchesEdges(t *testing.T) {
	bus := newFakeBus(step{level: 1}, step{level: 2}, step{level: 3})
	c := newTestController(t, testConfig(), bus)

	events := make(chan gpio.EdgeEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		c.Run(ctx, events)
		close(stopped)
	}()

	events <- gpio.EdgeEvent{Level: true, Timestamp: 100}

	require.Eventually(t, func() bool {
		return c.GetStatus().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	assert.Equal(t, 3, bus.readCount())
}

func TestRun_CancelLetsSessionFinish(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 50 * time.Millisecond
	bus := newFakeBus(step{level: 10}, step{level: 20}, step{level: 30})
	c := newTestController(t, cfg, bus)

	stored := make(chan *Result, 1)
	c.SetResultSink(func(ctx context.Context, res *Result) error {
		stored <- res
		return nil
	})

	events := make(chan gpio.EdgeEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		c.Run(ctx, events)
		close(stopped)
	}()

	events <- gpio.EdgeEvent{Level: true, Timestamp: 7}
	require.Eventually(t, func() bool {
		return bus.readCount() >= 1
	}, 2*time.Second, time.Millisecond)

	// Run returns only after the session in flight
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 3, bus.readCount())
	st := c.GetStatus()
	assert.Equal(t, 1, st.Completed)
	assert.Zero(t, st.Failed)
	assert.Empty(t, st.LastError)

	select {
	case res := <-stored:
		assert.InDelta(t, 20.0, res.Stats.Mean, 1e-9)
	default:
		t.Fatal("result was not stored")
	}
}
