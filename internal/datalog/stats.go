package datalog

import (
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AxisNames lists the sample axes in order.
var AxisNames = [6]string{"fx", "fy", "fz", "tx", "ty", "tz"}

// AxisStats summarises one channel, each value rounded to 3 decimals.
type AxisStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Stats summarises the buffered readings.
type Stats struct {
	Axes        map[string]AxisStats `json:"axes"`
	Frequency   AxisStats            `json:"frequency"`
	SampleCount int                  `json:"sample_count"`
}

// Stats computes per-axis statistics over the buffered readings. It returns
// a zero Stats when nothing has been recorded.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	points := l.recent()
	l.mu.Unlock()
	return computeStats(points)
}

func computeStats(points []Point) Stats {
	if len(points) == 0 {
		return Stats{}
	}
	cols := make([][]float64, len(AxisNames))
	freq := make([]float64, len(points))
	for i, p := range points {
		for axis, v := range p.ForceTorque {
			cols[axis] = append(cols[axis], v)
		}
		freq[i] = float64(p.Frequency)
	}

	st := Stats{
		Axes:        make(map[string]AxisStats, len(AxisNames)),
		Frequency:   axisStats(freq),
		SampleCount: len(points),
	}
	for axis, name := range AxisNames {
		st.Axes[name] = axisStats(cols[axis])
	}
	return st
}

// axisStats uses the sample standard deviation, which is 0 for one value.
func axisStats(x []float64) AxisStats {
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	return AxisStats{
		Mean: round3(mean),
		Std:  round3(std),
		Min:  round3(floats.Min(x)),
		Max:  round3(floats.Max(x)),
	}
}

// round3 rounds half-to-even on the exact binary value.
func round3(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return r
}
