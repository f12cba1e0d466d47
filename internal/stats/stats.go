package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientSamples is returned for an empty sample set.
var ErrInsufficientSamples = errors.New("insufficient samples")

// ErrNonFinite is returned when the sample set holds a NaN or an infinity.
var ErrNonFinite = errors.New("non-finite sample")

// Record summarises one sample set.
type Record struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Range  float64 `json:"range"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Compute reduces xs to population statistics (variance divisor n).
func Compute(xs []float64) (Record, error) {
	if len(xs) == 0 {
		return Record{}, ErrInsufficientSamples
	}
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Record{}, fmt.Errorf("%w: index %d is %v", ErrNonFinite, i, x)
		}
	}

	mean, std := stat.PopMeanStdDev(xs, nil)
	lo, hi := floats.Min(xs), floats.Max(xs)

	return Record{
		Mean:   mean,
		StdDev: std,
		Range:  hi - lo,
		Min:    lo,
		Max:    hi,
	}, nil
}
