package ft300

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateEstimator_SteadyRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRateEstimator(clock.Now)
	r.Start()

	var freq int
	for i := 0; i < 100; i++ {
		clock.Advance(10 * time.Millisecond)
		freq = r.Record()
	}
	assert.Equal(t, 100, r.Count())
	assert.Equal(t, 100, freq)
	assert.Equal(t, freq, r.Frequency())
}

func TestRateEstimator_RoundsCountOverElapsed(t *testing.T) {
	tests := []struct {
		n       int
		elapsed time.Duration
		want    int
	}{
		{7, 2 * time.Second, 4},  // 3.5 rounds to even
		{5, 2 * time.Second, 2},  // 2.5 rounds to even
		{10, 3 * time.Second, 3}, // 3.33
		{62, 500 * time.Millisecond, 124},
	}
	for _, tt := range tests {
		clock := &fakeClock{t: time.Unix(0, 0)}
		r := NewRateEstimator(clock.Now)
		r.Start()
		for i := 0; i < tt.n-1; i++ {
			r.Record()
		}
		clock.Advance(tt.elapsed)
		assert.Equal(t, tt.want, r.Record(), "n=%d elapsed=%v", tt.n, tt.elapsed)
	}
}

func TestRateEstimator_ZeroElapsed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRateEstimator(clock.Now)
	r.Start()

	assert.Equal(t, 0, r.Record())
	assert.Equal(t, 0, r.Record())
	assert.Equal(t, 2, r.Count())

	clock.Advance(time.Second)
	assert.Equal(t, 3, r.Record())
}

func TestRateEstimator_StartResets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRateEstimator(clock.Now)
	r.Start()
	clock.Advance(time.Second)
	r.Record()
	r.Record()

	r.Start()
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.Frequency())
}
