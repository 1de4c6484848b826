package throttle

import (
	"runtime"
	"testing"
	"time"
)

func TestDelay_IsBounded(t *testing.T) {
	e := NewEstimator()

	d := e.Delay()
	if d < 0 {
		t.Fatalf("Delay=%v, want non-negative", d)
	}
	// Even a badly overloaded host must not stall a poll loop for ages.
	if d > 10*time.Minute {
		t.Fatalf("Delay=%v, implausibly large", d)
	}
}

func TestSleep_WaitsAtLeastBase(t *testing.T) {
	e := NewEstimator()

	base := 20 * time.Millisecond
	start := time.Now()
	e.Sleep(base)
	if took := time.Since(start); took < base {
		t.Fatalf("Sleep took %v, want at least %v", took, base)
	}
}

// fakeHost drives the estimator's priority walk without touching the
// real scheduler.
type fakeHost struct {
	nice int
	load float64
}

func (f *fakeHost) wire(e *Estimator) {
	e.load = func() float64 { return f.load }
	e.getNice = func() (int, error) { return f.nice, nil }
	e.setNice = func(n int) error {
		f.nice = n
		return nil
	}
}

func TestSleep_RenicesDownUnderOverload(t *testing.T) {
	cpus := float64(runtime.NumCPU())
	host := &fakeHost{nice: 0, load: cpus * cpus}
	e := &Estimator{baseNice: 0}
	host.wire(e)
	// The renice decision sees the overload; the delay that follows
	// must not, or the test would sleep for the overload duration.
	e.load = func() float64 {
		load := host.load
		host.load = 0
		return load
	}

	e.Sleep(0)
	if host.nice != 1 {
		t.Fatalf("nice=%d after overloaded Sleep, want 1", host.nice)
	}
}

func TestSleep_RenicesBackTowardBaseline(t *testing.T) {
	host := &fakeHost{nice: 5, load: 0}
	e := &Estimator{baseNice: 0}
	host.wire(e)

	for want := 4; want >= 0; want-- {
		e.Sleep(0)
		if host.nice != want {
			t.Fatalf("nice=%d after calm Sleep, want %d", host.nice, want)
		}
	}

	// At the baseline the walk stops; calm load never raises above it.
	e.Sleep(0)
	if host.nice != 0 {
		t.Fatalf("nice=%d, want to stay at baseline 0", host.nice)
	}
}

func TestNewEstimator_BaselineMatchesCurrentNice(t *testing.T) {
	e := NewEstimator()

	nice, err := e.getNice()
	if err != nil {
		t.Skipf("getNice: %v", err)
	}
	if e.baseNice != nice {
		t.Fatalf("baseNice=%d, want current nice %d", e.baseNice, nice)
	}
	// Nice values live in [-20, 19]; the raw Getpriority encoding does
	// not.
	if e.baseNice < -20 || e.baseNice > 19 {
		t.Fatalf("baseNice=%d, outside the nice range", e.baseNice)
	}
}

func TestLoadAvg_ParsesProc(t *testing.T) {
	one, five, fifteen := loadAvg()
	if one < 0 || five < 0 || fifteen < 0 {
		t.Fatalf("loadAvg=(%v,%v,%v), want non-negative", one, five, fifteen)
	}
}
