package drc

import (
	"math"
	"testing"
	"time"
)

func TestFrequencyWindowRate(t *testing.T) {
	base := time.Now()

	tests := []struct {
		name    string
		offsets []time.Duration
		want    float64
	}{
		{"no samples", nil, 0},
		{"single sample", []time.Duration{0}, 0},
		{"two samples one second apart", []time.Duration{0, time.Second}, 1},
		{"ten hertz", []time.Duration{
			0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond,
			400 * time.Millisecond, 500 * time.Millisecond,
		}, 10},
		{"identical timestamps", []time.Duration{time.Second, time.Second, time.Second}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewFrequencyWindow(2 * time.Second)
			var last time.Time
			for _, off := range tt.offsets {
				last = base.Add(off)
				w.Record(last)
			}
			if last.IsZero() {
				last = base
			}

			got := w.Rate(last)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Rate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrequencyWindowHighRate(t *testing.T) {
	base := time.Now()
	w := NewFrequencyWindow(2 * time.Second)

	// 200 samples spread evenly over 2 seconds, the telemetry burst rate.
	for i := 0; i < 200; i++ {
		w.Record(base.Add(time.Duration(i) * 10 * time.Millisecond))
	}

	got := w.Rate(base.Add(1990 * time.Millisecond))
	if math.Abs(got-100) > 1 {
		t.Errorf("Rate() = %v, want 100 within 1", got)
	}
}

func TestFrequencyWindowEvictsOldSamples(t *testing.T) {
	base := time.Now()
	w := NewFrequencyWindow(2 * time.Second)

	// Burst of samples, then a long quiet period.
	for i := 0; i < 20; i++ {
		w.Record(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	if got := w.Rate(base.Add(1900 * time.Millisecond)); got == 0 {
		t.Fatal("rate should be non-zero right after the burst")
	}

	// All burst samples are now older than the window.
	if got := w.Rate(base.Add(10 * time.Second)); got != 0 {
		t.Errorf("Rate() after quiet period = %v, want 0", got)
	}
}

func TestFrequencyWindowSlides(t *testing.T) {
	base := time.Now()
	w := NewFrequencyWindow(2 * time.Second)

	// 5 Hz sustained for 4 seconds; the window must only see the last 2.
	for i := 0; i < 20; i++ {
		w.Record(base.Add(time.Duration(i) * 200 * time.Millisecond))
	}

	got := w.Rate(base.Add(3800 * time.Millisecond))
	if math.Abs(got-5) > 0.6 {
		t.Errorf("Rate() = %v, want about 5", got)
	}
}
