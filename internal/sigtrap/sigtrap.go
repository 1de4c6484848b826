// Package sigtrap coordinates termination signals for a tree of relay
// processes. A process declares a critical section around every locked
// file write; signals received inside it are recorded and acted on only
// when the section is left, so a shutdown can never tear a shared file.
package sigtrap

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// trapped is the set of signals that initiate shutdown. SIGCHLD is
// handled separately for reaping; stop/continue/resize signals are left
// alone.
var trapped = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// Coordinator intercepts termination signals, propagates shutdown
// through the process tree and defers it while a critical section is
// open.
type Coordinator struct {
	mu        sync.Mutex
	critical  bool
	triggered map[os.Signal]bool
	children  map[int]*os.Process

	sigCh  chan os.Signal
	chldCh chan os.Signal
	logger zerolog.Logger

	// killFn and exitFn exist so tests can observe shutdown without
	// dying.
	killFn func(pid int, sig syscall.Signal) error
	exitFn func(code int)
}

// New installs the signal handlers and starts the reaper.
func New() *Coordinator {
	c := &Coordinator{
		triggered: make(map[os.Signal]bool),
		children:  make(map[int]*os.Process),
		sigCh:     make(chan os.Signal, 8),
		chldCh:    make(chan os.Signal, 8),
		logger:    log.With().Str("component", "sigtrap").Logger(),
		killFn:    syscall.Kill,
		exitFn:    os.Exit,
	}

	signal.Notify(c.sigCh, trapped...)
	signal.Notify(c.chldCh, syscall.SIGCHLD)

	go c.watch()
	go func() {
		for range c.chldCh {
			c.Reap()
		}
	}()

	return c
}

func (c *Coordinator) watch() {
	for sig := range c.sigCh {
		c.mu.Lock()
		c.triggered[sig] = true
		crit := c.critical
		c.mu.Unlock()

		c.logger.Info().Str("signal", sig.String()).Bool("critical", crit).Msg("signal intercepted")
		if !crit {
			c.shutdown()
		}
	}
}

// Critical opens or closes a critical section. Entering with a signal
// already pending shuts down before the caller can start the guarded
// work; leaving with a signal that arrived while critical performs the
// deferred shutdown immediately.
func (c *Coordinator) Critical(enter bool) {
	c.mu.Lock()
	pending := c.anyTriggeredLocked()
	entering := enter && !c.critical
	c.critical = enter
	c.mu.Unlock()

	if pending && (entering || !enter) {
		c.shutdown()
	}
}

// Triggered reports whether the given signal has been intercepted.
func (c *Coordinator) Triggered(sig os.Signal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered[sig]
}

// AnyTriggered reports whether any trapped signal has been intercepted.
func (c *Coordinator) AnyTriggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anyTriggeredLocked()
}

func (c *Coordinator) anyTriggeredLocked() bool {
	for _, hit := range c.triggered {
		if hit {
			return true
		}
	}
	return false
}

// Reset clears all recorded signals.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggered = make(map[os.Signal]bool)
}

// shutdown signals every live child, then the parent (never init), then
// terminates this process.
func (c *Coordinator) shutdown() {
	c.Reap()

	c.mu.Lock()
	pids := make([]int, 0, len(c.children))
	for pid := range c.children {
		pids = append(pids, pid)
	}
	c.mu.Unlock()

	for _, pid := range pids {
		c.logger.Info().Int("pid", pid).Msg("signaling child")
		if err := c.killFn(pid, syscall.SIGINT); err != nil {
			c.logger.Debug().Err(err).Int("pid", pid).Msg("child signal failed")
		}
	}

	// A child tells its parent there is a problem. Init is never
	// touched; signaling it takes the whole host down with us.
	if ppid := os.Getppid(); ppid > 1 && ppid != os.Getpid() {
		c.logger.Info().Int("ppid", ppid).Msg("signaling parent")
		if err := c.killFn(ppid, syscall.SIGINT); err != nil {
			c.logger.Debug().Err(err).Int("ppid", ppid).Msg("parent signal failed")
		}
	}

	c.logger.Info().Int("pid", os.Getpid()).Msg("exiting")
	c.exitFn(1)
}

// Reap collects exited children non-blockingly so the process table
// does not accumulate zombies.
func (c *Coordinator) Reap() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		c.mu.Lock()
		delete(c.children, pid)
		c.mu.Unlock()
	}
}

// Children returns the number of live spawned processes.
func (c *Coordinator) Children() int {
	c.Reap()
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

// StartTask runs a unit of work on its own goroutine and returns a
// result channel. Panics surface as errors rather than killing the
// process; a nil receive means the work finished cleanly.
func (c *Coordinator) StartTask(work func() error) <-chan error {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		result <- work()
	}()
	return result
}

// Spawn launches a fire-and-forget child process in its own process
// group, tracks it for shutdown propagation and reaps it on exit.
func (c *Coordinator) Spawn(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	c.mu.Lock()
	c.children[pid] = cmd.Process
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		delete(c.children, pid)
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug().Err(err).Int("pid", pid).Msg("child exited with error")
		}
	}()

	return pid, nil
}
