// Package binding assigns peers to coordination groups over one-shot TCP
// connections. A connection carries a single JSON bind message and gets no
// reply; the server closes it once the message is processed.
package binding

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/registry"
	"github.com/dreamware/lockstep/internal/transport"
	"github.com/dreamware/lockstep/internal/wire"
)

// ReadLimit is the largest bind message accepted.
const ReadLimit = 1024

// Store is the registry operation the binding service needs.
type Store interface {
	Bind(id, tag string, now int64) (registry.Entry, bool)
}

// Stats counts bind connections by outcome.
type Stats struct {
	Bound     uint64 // Existing entries retagged
	Created   uint64 // Entries created by a bind
	Malformed uint64 // Messages rejected
}

// Service is the group binding service.
type Service struct {
	store       Store
	now         func() time.Time
	log         zerolog.Logger
	readTimeout time.Duration
	stats       Stats // Updated atomically
}

// New creates a binding service. readTimeout bounds the wait for the bind
// message; zero waits indefinitely.
func New(store Store, readTimeout time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:       store,
		now:         time.Now,
		log:         log,
		readTimeout: readTimeout,
	}
}

// SetClock replaces the time source used to stamp entries created by a bind.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Serve accepts bind connections from ln until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("group binding listening")
	return transport.ServeTCP(ctx, ln, s.HandleConn, s.log)
}

// HandleConn reads one bind message from conn and applies it. The caller
// closes conn.
func (s *Service) HandleConn(_ context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	msg, err := transport.ReadMessage(conn, ReadLimit, s.readTimeout)
	if err != nil {
		atomic.AddUint64(&s.stats.Malformed, 1)
		s.log.Warn().Err(err).Str("remote", remote).Msg("bind read failed")
		return
	}

	if _, err := s.Apply(msg); err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("rejected bind")
	}
}

// Apply parses a bind message and tags the peer. The message is rejected,
// with no registry change, unless both ids are non-empty strings.
func (s *Service) Apply(msg []byte) (registry.Entry, error) {
	req, err := wire.ParseBind(msg)
	if err != nil {
		atomic.AddUint64(&s.stats.Malformed, 1)
		return registry.Entry{}, err
	}

	e, created := s.store.Bind(req.PlayerID, req.CombatID, s.now().UnixMilli())
	if created {
		atomic.AddUint64(&s.stats.Created, 1)
	} else {
		atomic.AddUint64(&s.stats.Bound, 1)
	}
	s.log.Info().
		Str("peer", req.PlayerID).
		Str("group", req.CombatID).
		Bool("created", created).
		Msg("peer bound to group")
	return e, nil
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Bound:     atomic.LoadUint64(&s.stats.Bound),
		Created:   atomic.LoadUint64(&s.stats.Created),
		Malformed: atomic.LoadUint64(&s.stats.Malformed),
	}
}
