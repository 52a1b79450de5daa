package utils

import (
	"runtime"
	"testing"
	"time"
)

// LeakDetector flags tests that leave goroutines behind. Connection and
// turn teardown must not strand reader loops or handler goroutines.
type LeakDetector struct {
	t             *testing.T
	initialCount  int
	allowedGrowth int
	settle        time.Duration
}

// NewLeakDetector snapshots the current goroutine count after a short
// settle delay.
func NewLeakDetector(t *testing.T) *LeakDetector {
	d := &LeakDetector{t: t, settle: 200 * time.Millisecond}
	time.Sleep(d.settle)
	d.initialCount = runtime.NumGoroutine()
	return d
}

// AllowGrowth permits n extra goroutines at check time.
func (d *LeakDetector) AllowGrowth(n int) *LeakDetector {
	d.allowedGrowth = n
	return d
}

// Check fails the test when the goroutine count has grown beyond the
// allowance. Counts are sampled several times and the minimum used, since
// teardown goroutines may still be unwinding.
func (d *LeakDetector) Check() {
	d.t.Helper()
	time.Sleep(d.settle)

	final := runtime.NumGoroutine()
	for i := 0; i < 2; i++ {
		time.Sleep(100 * time.Millisecond)
		if n := runtime.NumGoroutine(); n < final {
			final = n
		}
	}

	leaked := final - d.initialCount
	if leaked > d.allowedGrowth {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		d.t.Errorf("goroutine leak: %d before, %d after (allowed growth %d)\n%s",
			d.initialCount, final, d.allowedGrowth, buf[:n])
	}
}
