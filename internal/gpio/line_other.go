//go:build !linux

package gpio

import (
	"errors"
	"io"
)

func requestLine(cfg LineConfig, handle func(level bool, timestampUs int64)) (io.Closer, error) {
	return nil, errors.New("gpio: character device lines are only available on linux")
}
