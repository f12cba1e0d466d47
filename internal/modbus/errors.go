package modbus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

var (
	// ErrTransport means the serial connection could not be opened or has
	// gone away. It ends the acquisition session.
	ErrTransport = errors.New("modbus transport error")

	// ErrReadTimeout means the slave did not answer within the timeout.
	ErrReadTimeout = errors.New("modbus read timeout")

	// ErrProtocol means the slave answered with an exception or a
	// malformed frame.
	ErrProtocol = errors.New("modbus protocol error")
)

// classify maps an error returned by the RTU transport onto the taxonomy
// above. The original error stays in the chain.
func classify(err error) error {
	var exc *modbus.ModbusError

	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	case errors.As(err, &exc):
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	case strings.HasPrefix(err.Error(), "modbus:"):
		// crc, length, slave id and byte count mismatches
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
