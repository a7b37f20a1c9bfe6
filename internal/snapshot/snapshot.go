package snapshot

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/registry"
	"github.com/dreamware/lockstep/internal/transport"
	"github.com/dreamware/lockstep/internal/wire"
)

// Store is the registry view the snapshot service needs.
type Store interface {
	Touch(id string, addr netip.AddrPort, now int64) (registry.Entry, bool)
	Scan(tag, excludeID string) []registry.Entry
}

// Stats counts lookups by outcome.
type Stats struct {
	Served    uint64 // Responses sent
	Malformed uint64 // Requests dropped before lookup
	Failed    uint64 // Responses that could not be sent
}

// Service is the snapshot broadcast service.
type Service struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
	stats Stats // Updated atomically
}

// New creates a snapshot service reading from store.
func New(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, now: time.Now, log: log}
}

// SetClock replaces the time source used for liveness refreshes and the
// response timestamp.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Serve answers lookups received on conn until ctx is cancelled. Each response
// goes back to the source address of its request.
func (s *Service) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.log.Info().Str("addr", conn.LocalAddr().String()).Msg("snapshot broadcast listening")
	return transport.ServeUDP(ctx, conn, func(_ context.Context, pkt []byte, from netip.AddrPort) {
		resp, ok := s.Respond(pkt, from)
		if !ok {
			return
		}
		if _, err := conn.WriteToUDPAddrPort(resp, from); err != nil {
			atomic.AddUint64(&s.stats.Failed, 1)
			s.log.Warn().Err(err).Str("remote", from.String()).Msg("snapshot send failed")
			return
		}
		atomic.AddUint64(&s.stats.Served, 1)
	}, s.log)
}

// Respond builds the response for one lookup request. The request body is the
// requester's id; surrounding whitespace is ignored.
//
// As a side effect the requester's return address and LastUpdate are
// refreshed, since a lookup also counts as liveness. A requester unknown to the
// registry is treated as untagged and is not created. The response lists every
// other peer whose group tag equals the requester's; the requester itself is
// never included. ok is false when the request is unusable and must be dropped.
func (s *Service) Respond(req []byte, from netip.AddrPort) (resp []byte, ok bool) {
	id := strings.TrimSpace(string(req))
	if id == "" || !utf8.ValidString(id) {
		atomic.AddUint64(&s.stats.Malformed, 1)
		s.log.Warn().Str("remote", from.String()).Int("len", len(req)).Msg("dropped malformed snapshot request")
		return nil, false
	}

	now := s.now().UnixMilli()
	self, known := s.store.Touch(id, from, now)
	tag := self.GroupTag

	entries := s.store.Scan(tag, id)
	peers := make([]wire.PeerState, 0, len(entries))
	for _, e := range entries {
		peers = append(peers, wire.PeerState{
			ID:         e.ID,
			GroupTag:   e.GroupTag,
			X:          e.X,
			Y:          e.Y,
			VX:         e.VX,
			VY:         e.VY,
			ColorCode:  wire.ColorCode(e.Color),
			LastUpdate: e.LastUpdate,
		})
	}

	resp, n := wire.EncodeSnapshot(now, peers)
	ev := s.log.Debug().
		Str("peer", id).
		Bool("known", known).
		Str("group", tag).
		Int("peers", n)
	if n < len(peers) {
		ev.Int("omitted", len(peers)-n)
	}
	ev.Msg("snapshot built")
	return resp, true
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Served:    atomic.LoadUint64(&s.stats.Served),
		Malformed: atomic.LoadUint64(&s.stats.Malformed),
		Failed:    atomic.LoadUint64(&s.stats.Failed),
	}
}
