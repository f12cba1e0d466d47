//go:build linux

package gpio

import (
	"fmt"
	"io"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "opensensorcore"

func requestLine(cfg LineConfig, handle func(level bool, timestampUs int64)) (io.Closer, error) {
	var edge gpiocdev.LineReqOption
	switch cfg.Edge {
	case EdgeRising:
		edge = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edge = gpiocdev.WithFallingEdge
	case EdgeBoth, "":
		edge = gpiocdev.WithBothEdges
	default:
		return nil, fmt.Errorf("gpio: unknown edge %q", cfg.Edge)
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		edge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handle(evt.Type == gpiocdev.LineEventRisingEdge, evt.Timestamp.Microseconds())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("gpio: request %s:%d: %w", cfg.Chip, cfg.Line, err)
	}
	return line, nil
}
