package locker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrServerUnreachable is returned once the connection retry budget
	// is spent without a single reply from the lock server.
	ErrServerUnreachable = errors.New("lock server unreachable")

	// ErrLockTimeout is returned when the wall-clock deadline passes
	// without the server granting the lock. Whether that is fatal is
	// the caller's policy, not this package's.
	ErrLockTimeout = errors.New("lock request timed out")
)

const (
	// DefaultPort is fixed and configuration-independent on the server
	// side; clients may override it for testing.
	DefaultPort = 37373

	DefaultRetry   = 7
	DefaultTimeout = 300 * time.Second

	connectBackoff = time.Second
	pollInterval   = 100 * time.Millisecond
)

// Options configures a lock handle. The zero value selects the deployed
// defaults.
type Options struct {
	Host    string
	Port    int
	Retry   int
	Timeout time.Duration
	ID      string
}

// Locker is a handle on one named advisory lock held by the lock-server
// process. Each request opens a fresh connection, writes one line of
// JSON and reads one reply line; there is no session state beyond the
// client token, which the server uses to recognize the same holder
// context across requests.
type Locker struct {
	id       string
	resource string
	host     string
	port     int
	retry    int
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a lock handle for the named resource.
func New(resource string, opts Options) *Locker {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Retry == 0 {
		opts.Retry = DefaultRetry
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ID == "" {
		opts.ID = GenerateToken()
	}
	return &Locker{
		id:       opts.ID,
		resource: resource,
		host:     opts.Host,
		port:     opts.Port,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		logger:   log.With().Str("component", "locker").Str("resource", resource).Logger(),
	}
}

// ID returns the client token used by this handle.
func (l *Locker) ID() string { return l.id }

// TimeoutSeconds returns the handle's wall-clock budget in whole
// seconds, usable as a lease expiry for full-cycle holds.
func (l *Locker) TimeoutSeconds() int64 { return int64(l.timeout / time.Second) }

// Lock blocks until the server grants the lock, retrying through
// connection failures and indefinite replies, and fails with a typed
// error once the wall-clock timeout passes.
func (l *Locker) Lock(expireSeconds int) error {
	deadline := time.Now().Add(l.timeout)
	for {
		resp, err := l.exchange(ActionLock, expireSeconds, "", true, deadline)
		if err != nil {
			l.logger.Error().Err(err).Msg("lock request failed")
			return err
		}
		if resp == StatusLocked {
			return nil
		}
		if time.Now().After(deadline) {
			l.logger.Error().Str("status", resp).Msg("lock request timed out")
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.resource)
		}
		// Held elsewhere; poll until released or timed out.
		time.Sleep(pollInterval)
	}
}

// Unlock releases the lock. Releasing a lock this handle does not hold
// yields the server's failure status, reported as an error.
func (l *Locker) Unlock() error {
	resp, err := l.exchange(ActionUnlock, 0, "", true, time.Now().Add(l.timeout))
	if err != nil {
		return err
	}
	if resp != StatusUnlocked {
		return fmt.Errorf("unlock %s: server answered %q", l.resource, resp)
	}
	return nil
}

// Get fetches the auxiliary value attached to the resource name. The
// reply is returned verbatim: no case folding, payloads are opaque.
func (l *Locker) Get() (string, error) {
	return l.exchangeData(ActionGet, 0, "")
}

// Put stores an auxiliary value with an expiry.
func (l *Locker) Put(expireSeconds int, data string) (string, error) {
	return l.exchangeData(ActionPut, expireSeconds, data)
}

// Erase removes the auxiliary value.
func (l *Locker) Erase() (string, error) {
	return l.exchangeData(ActionErase, 0, "")
}

// exchange sends a request until a definitive status arrives. Replies
// that are not one of the protocol literals count as "not yet decided"
// and are polled, not failed.
func (l *Locker) exchange(action string, expireSeconds int, data string, casefold bool, deadline time.Time) (string, error) {
	retries := 0
	for {
		line, err := l.talk(l.encode(action, expireSeconds, data))
		if err != nil {
			retries++
			if retries > l.retry {
				return "", fmt.Errorf("%w: %s %s: %v", ErrServerUnreachable, l.resource, action, err)
			}
			time.Sleep(connectBackoff)
			continue
		}
		status := ParseStatus(line, casefold)
		if IsStatus(status) {
			return status, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s %s", ErrLockTimeout, l.resource, action)
		}
		time.Sleep(pollInterval)
	}
}

// exchangeData is the value-channel variant: the first non-empty reply
// is final and returned without case folding.
func (l *Locker) exchangeData(action string, expireSeconds int, data string) (string, error) {
	retries := 0
	for {
		line, err := l.talk(l.encode(action, expireSeconds, data))
		if err != nil {
			retries++
			if retries > l.retry {
				l.logger.Error().Err(err).Str("action", action).Msg("data request failed")
				return "", fmt.Errorf("%w: %s %s: %v", ErrServerUnreachable, l.resource, action, err)
			}
			time.Sleep(connectBackoff)
			continue
		}
		if line != "" {
			return ParseStatus(line, false), nil
		}
		time.Sleep(pollInterval)
	}
}

func (l *Locker) encode(action string, expireSeconds int, data string) []byte {
	req := Request{
		ID:        l.id,
		FileName:  l.resource,
		Action:    action,
		Expire:    strconv.Itoa(expireSeconds),
		DataStore: data,
	}
	buf, _ := json.Marshal(req)
	return append(buf, '\n')
}

// talk performs one request/response round trip on a fresh connection.
func (l *Locker) talk(msg []byte) (string, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(l.host, strconv.Itoa(l.port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return "", err
	}
	if _, err := conn.Write(msg); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}
