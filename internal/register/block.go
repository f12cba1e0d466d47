// Package register decodes the sensor's holding-register block.
//
// The device answers a 4-word read starting at the configured address:
//
//	w0  low 16 bits of the float32 level
//	w1  high 16 bits of the float32 level
//	w2  unused
//	w3  signal quality
//
// The level word order is high word in the second register, low word in
// the first. Swapping it yields plausible-looking garbage, so Decode and
// EncodeLevel are the only places that know it.
package register

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite is returned by Reading.Validate for a NaN or infinite level.
var ErrNonFinite = errors.New("non-finite level")

// Words is the number of registers in one Block.
const Words = 4

// Block is one read-holding-registers response, [w0, w1, w2, w3].
type Block [Words]uint16

// Reading is a decoded Block.
type Reading struct {
	Level  float32
	Signal uint16
}

// Decode reinterprets [w1_hi, w1_lo, w0_hi, w0_lo] as a big-endian float32
// and reports w3 as the signal. Every Block is valid input.
func Decode(b Block) Reading {
	bits := uint32(b[1])<<16 | uint32(b[0])
	return Reading{
		Level:  math.Float32frombits(bits),
		Signal: b[3],
	}
}

// Validate reports whether the level is a usable measurement.
func (r Reading) Validate() error {
	v := float64(r.Level)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrNonFinite, r.Level)
	}
	return nil
}

// EncodeLevel is the inverse of the level part of Decode.
func EncodeLevel(v float32) (w0, w1 uint16) {
	bits := math.Float32bits(v)
	return uint16(bits), uint16(bits >> 16)
}

// NewBlock builds the Block a device would return for level and signal.
func NewBlock(level float32, signal uint16) Block {
	w0, w1 := EncodeLevel(level)
	return Block{w0, w1, 0, signal}
}

// FromBytes unpacks a big-endian register payload. The payload must hold
// exactly Words registers.
func FromBytes(data []byte) (Block, error) {
	var b Block
	if len(data) != Words*2 {
		return b, fmt.Errorf("register payload is %d bytes, want %d", len(data), Words*2)
	}
	for i := range b {
		b[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return b, nil
}
