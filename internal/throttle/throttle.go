// Package throttle paces retry loops against host load. The delay it
// derives from the load average is advisory: it keeps a busy VPS from
// being saturated by polling processes, it is not a correctness
// mechanism.
package throttle

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Estimator converts host load into a pacing delay and walks the
// process's scheduling priority down under sustained overload, back up
// toward the baseline as load subsides.
type Estimator struct {
	baseNice int

	// Injection points for tests; the defaults talk to the host.
	load    func() float64
	getNice func() (int, error)
	setNice func(n int) error
}

// NewEstimator records the current nice value as the baseline the
// process is never raised above.
func NewEstimator() *Estimator {
	e := &Estimator{
		load: maxLoad,
		getNice: func() (int, error) {
			raw, err := syscall.Getpriority(syscall.PRIO_PROCESS, 0)
			if err != nil {
				return 0, err
			}
			// Getpriority returns 20-nice on Linux.
			return 20 - raw, nil
		},
		setNice: func(n int) error {
			return syscall.Setpriority(syscall.PRIO_PROCESS, 0, n)
		},
	}
	if nice, err := e.getNice(); err == nil {
		e.baseNice = nice
	}
	return e
}

// loadAvg returns the 1/5/15 minute load averages.
func loadAvg() (float64, float64, float64) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	parse := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	return parse(fields[0]), parse(fields[1]), parse(fields[2])
}

func maxLoad() float64 {
	a, b, c := loadAvg()
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// Delay returns the current throttling delay. The integer part of the
// worst load average becomes whole seconds, the fraction is scaled to
// hundredths; once load exceeds the CPU count the delay is multiplied
// by the overload.
func (e *Estimator) Delay() time.Duration {
	load := e.load()
	cpus := float64(runtime.NumCPU())

	i := float64(int(load))
	f := load - i
	delay := i + f/100

	if load > cpus {
		delay += (load - cpus) * delay
	}
	return time.Duration(delay * float64(time.Second))
}

// Sleep sleeps for at least base, stretched by the current delay, and
// adjusts the process priority against the observed load: one nice
// step down under overload, one step back toward the baseline when the
// host is calm again.
func (e *Estimator) Sleep(base time.Duration) {
	load := e.load()
	cpus := float64(runtime.NumCPU())

	nice, err := e.getNice()
	if err != nil {
		nice = e.baseNice
	}

	if load/cpus >= cpus {
		e.renice(nice + 1)
	} else if nice > e.baseNice {
		e.renice(nice - 1)
	}

	time.Sleep(base + e.Delay())
}

func (e *Estimator) renice(n int) {
	// Raising priority needs privilege; failing to renice is harmless.
	_ = e.setNice(n)
}
