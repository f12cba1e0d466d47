package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/register"
	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// registerReader is the slice of modbus.Client the acquisition needs.
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Client is one RTU connection to one slave. Transactions are serialized;
// there is never more than one request outstanding.
type Client struct {
	port    string
	slaveID uint8
	logger  *zap.Logger

	mu     sync.Mutex
	conn   io.Closer
	reader registerReader
	closed bool

	dropOnce sync.Once
	dropped  chan struct{}
	dropErr  error
}

// Open configures the serial line and connects to the slave.
func Open(cfg config.DeviceConfig, logger *zap.Logger) (*Client, error) {
	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.BaudRate
	h.DataBits = cfg.DataBits
	h.Parity = strings.ToUpper(cfg.Parity)
	h.StopBits = cfg.StopBits
	h.SlaveId = cfg.SlaveID
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTransport, cfg.Port, err)
	}

	c := newClient(h, modbus.NewClient(h), cfg, logger)

	logger.Info("Serial connection opened",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
		zap.String("parity", h.Parity),
		zap.Int("stop_bits", cfg.StopBits),
		zap.Int("data_bits", cfg.DataBits),
		zap.Uint8("slave_id", cfg.SlaveID))

	return c, nil
}

func newClient(conn io.Closer, reader registerReader, cfg config.DeviceConfig, logger *zap.Logger) *Client {
	return &Client{
		port:    cfg.Port,
		slaveID: cfg.SlaveID,
		logger:  logger,
		conn:    conn,
		reader:  reader,
		dropped: make(chan struct{}),
	}
}

// ReadRegisters issues one read-holding-registers transaction for a
// register.Block starting at start. It blocks until the response arrives or
// the transport timeout elapses.
func (c *Client) ReadRegisters(ctx context.Context, start uint16) (register.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return register.Block{}, err
	}
	if c.closed {
		return register.Block{}, fmt.Errorf("%w: connection closed", ErrTransport)
	}
	if err := c.Err(); err != nil {
		return register.Block{}, err
	}

	raw, err := c.reader.ReadHoldingRegisters(start, register.Words)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrTransport) {
			c.markDropped(err)
		}
		return register.Block{}, err
	}

	block, err := register.FromBytes(raw)
	if err != nil {
		return register.Block{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return block, nil
}

// Dropped is closed once the connection has failed at the transport level.
func (c *Client) Dropped() <-chan struct{} {
	return c.dropped
}

// Err returns the transport error that dropped the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.dropped:
		return c.dropErr
	default:
		return nil
	}
}

func (c *Client) markDropped(err error) {
	c.dropOnce.Do(func() {
		c.dropErr = err
		close(c.dropped)
		c.logger.Error("Serial connection dropped",
			zap.String("port", c.port),
			zap.Error(err))
	})
}

// Close releases the serial port. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.conn.Close()
	c.logger.Info("Serial connection closed",
		zap.String("port", c.port),
		zap.Uint8("slave_id", c.slaveID))
	return err
}
