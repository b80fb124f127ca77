package ft300

import (
	"math"
	"time"
)

// RateEstimator reports the average sample rate since Start.
type RateEstimator struct {
	now   func() time.Time
	start time.Time
	count int
	freq  int
}

// NewRateEstimator creates an estimator using now as its clock, or
// time.Now when now is nil.
func NewRateEstimator(now func() time.Time) *RateEstimator {
	if now == nil {
		now = time.Now
	}
	return &RateEstimator{now: now}
}

// Start resets the count and the reference time.
func (r *RateEstimator) Start() {
	r.start = r.now()
	r.count = 0
	r.freq = 0
}

// Record counts one sample and returns the updated frequency in Hz. With no
// elapsed time the previous estimate is kept.
func (r *RateEstimator) Record() int {
	r.count++
	elapsed := r.now().Sub(r.start).Seconds()
	if elapsed > 0 {
		r.freq = int(math.RoundToEven(float64(r.count) / elapsed))
	}
	return r.freq
}

// Frequency returns the last estimate in Hz.
func (r *RateEstimator) Frequency() int { return r.freq }

// Count returns the number of samples recorded since Start.
func (r *RateEstimator) Count() int { return r.count }
