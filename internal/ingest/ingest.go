// Package ingest receives kinematic update datagrams and writes them into the
// registry. The channel is fire-and-forget: nothing is ever sent back, and a
// datagram that fails to decode is dropped and logged.
package ingest

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/registry"
	"github.com/dreamware/lockstep/internal/transport"
	"github.com/dreamware/lockstep/internal/wire"
)

// Store is the registry operation ingest needs.
type Store interface {
	ApplyKinematics(k registry.Kinematics) (registry.Entry, bool)
}

// Stats counts datagrams by outcome.
type Stats struct {
	Accepted  uint64 // Decoded and applied
	Malformed uint64 // Failed to decode
	Reordered uint64 // Older than the last accepted update for the peer
}

// Service is the position ingest service.
type Service struct {
	store Store
	log   zerolog.Logger
	stats Stats // Updated atomically
}

// New creates an ingest service writing into store.
func New(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Serve receives updates on conn until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.log.Info().Str("addr", conn.LocalAddr().String()).Msg("position ingest listening")
	return transport.ServeUDP(ctx, conn, s.HandlePacket, s.log)
}

// HandlePacket decodes one update datagram and applies it.
func (s *Service) HandlePacket(_ context.Context, pkt []byte, from netip.AddrPort) {
	u, err := wire.DecodeUpdate(pkt)
	if err != nil {
		atomic.AddUint64(&s.stats.Malformed, 1)
		s.log.Warn().
			Err(err).
			Str("remote", from.String()).
			Int("len", len(pkt)).
			Hex("head", pkt[:min(len(pkt), 20)]).
			Msg("dropped malformed update")
		return
	}

	e, accepted := s.store.ApplyKinematics(registry.Kinematics{
		ID:        u.ID,
		Color:     u.Color,
		Addr:      from,
		Timestamp: u.Timestamp,
		X:         u.X,
		Y:         u.Y,
		VX:        u.VX,
		VY:        u.VY,
	})
	if !accepted {
		atomic.AddUint64(&s.stats.Reordered, 1)
		s.log.Debug().
			Str("peer", u.ID).
			Int64("timestamp", u.Timestamp).
			Int64("last_update", e.LastUpdate).
			Msg("dropped reordered update")
		return
	}

	atomic.AddUint64(&s.stats.Accepted, 1)
	s.log.Debug().
		Str("peer", u.ID).
		Int32("x", u.X).
		Int32("y", u.Y).
		Int32("vx", u.VX).
		Int32("vy", u.VY).
		Str("color", u.Color).
		Msg("update applied")
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Accepted:  atomic.LoadUint64(&s.stats.Accepted),
		Malformed: atomic.LoadUint64(&s.stats.Malformed),
		Reordered: atomic.LoadUint64(&s.stats.Reordered),
	}
}
