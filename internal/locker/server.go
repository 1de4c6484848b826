package locker

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/metrics"
)

// Server answers the lock wire protocol: one request line per
// connection, one reply line, connection closed. All state lives in the
// Store so a restart does not orphan held locks.
type Server struct {
	store  *Store
	ln     net.Listener
	logger zerolog.Logger
}

// NewServer wraps a store in a protocol server.
func NewServer(store *Store) *Server {
	return &Server{
		store:  store,
		logger: log.With().Str("component", "lock_server").Logger(),
	}
}

// Listen binds the server. An empty host binds all interfaces, matching
// the client's empty-host-means-local convention.
func (s *Server) Listen(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("lock server listening")
	return nil
}

// Addr returns the bound address. Listen must have succeeded.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil || req.FileName == "" || req.ID == "" {
		s.reply(conn, StatusBadPayload)
		return
	}

	expire, err := strconv.Atoi(strings.TrimSpace(req.Expire))
	if err != nil || expire < 0 {
		expire = 0
	}
	ttl := time.Duration(expire) * time.Second

	switch {
	case strings.EqualFold(req.Action, ActionLock):
		s.reply(conn, s.lock(req, ttl))
	case strings.EqualFold(req.Action, ActionUnlock):
		s.reply(conn, s.unlock(req))
	case strings.EqualFold(req.Action, ActionGet):
		s.reply(conn, s.get(req))
	case strings.EqualFold(req.Action, ActionPut):
		s.reply(conn, s.put(req, ttl))
	case strings.EqualFold(req.Action, ActionErase):
		s.reply(conn, s.erase(req))
	default:
		s.reply(conn, StatusBadPayload)
	}
}

func (s *Server) lock(req Request, ttl time.Duration) string {
	if ttl == 0 {
		ttl = DefaultTimeout
	}
	granted, err := s.store.Acquire(req.FileName, req.ID, ttl)
	if err != nil {
		s.logger.Error().Err(err).Str("resource", req.FileName).Msg("acquire failed")
		return StatusFailure
	}
	if !granted {
		metrics.LockDenied(req.FileName)
		return StatusFailure
	}
	metrics.LockGranted(req.FileName)
	return StatusLocked
}

func (s *Server) unlock(req Request) string {
	released, err := s.store.Release(req.FileName, req.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("resource", req.FileName).Msg("release failed")
		return StatusFailure
	}
	if !released {
		return StatusFailure
	}
	return StatusUnlocked
}

func (s *Server) get(req Request) string {
	payload, ok, err := s.store.GetValue(req.FileName)
	if err != nil || !ok {
		return StatusFailure
	}
	// Raw payload text, deliberately not a status literal.
	return payload
}

func (s *Server) put(req Request, ttl time.Duration) string {
	if err := s.store.PutValue(req.FileName, req.DataStore, ttl); err != nil {
		s.logger.Error().Err(err).Str("resource", req.FileName).Msg("put failed")
		return StatusFailure
	}
	// Value operations acknowledge with the unlocked literal; clients
	// treat any non-empty reply as completion.
	return StatusUnlocked
}

func (s *Server) erase(req Request) string {
	if err := s.store.EraseValue(req.FileName); err != nil {
		s.logger.Error().Err(err).Str("resource", req.FileName).Msg("erase failed")
		return StatusFailure
	}
	return StatusUnlocked
}

func (s *Server) reply(conn net.Conn, line string) {
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		s.logger.Debug().Err(err).Msg("reply write failed")
	}
}
