package gpio

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Edge selects which transitions the line reports.
type Edge string

const (
	EdgeBoth    Edge = "both"
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
)

// LineConfig identifies the trigger input.
type LineConfig struct {
	Chip string
	Line int
	Edge Edge
}

// Monitor owns the trigger line and forwards debounced edges through a
// single-slot channel. An edge that finds the slot occupied is dropped.
type Monitor struct {
	logger    *zap.Logger
	debouncer *Debouncer
	events    chan EdgeEvent

	mu      sync.Mutex
	line    io.Closer
	enabled bool
}

func NewMonitor(logger *zap.Logger, debounce time.Duration) *Monitor {
	return &Monitor{
		logger:    logger,
		debouncer: NewDebouncer(debounce),
		events:    make(chan EdgeEvent, 1),
	}
}

// Start requests the line with pull-up and edge detection. On failure the
// monitor logs once and stays disabled; Events then never delivers.
func (m *Monitor) Start(cfg LineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled {
		return nil
	}

	line, err := requestLine(cfg, m.Handle)
	if err != nil {
		m.logger.Warn("Edge monitor disabled, hardware trigger unavailable",
			zap.String("chip", cfg.Chip),
			zap.Int("line", cfg.Line),
			zap.Error(err))
		return err
	}

	m.line = line
	m.enabled = true

	m.logger.Info("Edge monitor started",
		zap.String("chip", cfg.Chip),
		zap.Int("line", cfg.Line),
		zap.String("edge", string(cfg.Edge)))

	return nil
}

// Handle is the interrupt path. It is called from the line's event
// goroutine and never blocks.
func (m *Monitor) Handle(level bool, timestampUs int64) {
	ev := EdgeEvent{Level: level, Timestamp: timestampUs}

	if !m.debouncer.Accept(ev) {
		return
	}

	select {
	case m.events <- ev:
	default:
		m.logger.Debug("Edge dropped, previous edge still pending",
			zap.Int64("timestamp_us", timestampUs))
	}
}

// Events delivers accepted edges.
func (m *Monitor) Events() <-chan EdgeEvent {
	return m.events
}

func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Close releases the line. Safe to call more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}
	m.enabled = false

	err := m.line.Close()
	m.line = nil
	m.logger.Info("Edge monitor stopped")
	return err
}
