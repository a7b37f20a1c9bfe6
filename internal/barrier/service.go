package barrier

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/transport"
	"github.com/dreamware/lockstep/internal/wire"
)

// ReadLimit is the largest completion report accepted.
const ReadLimit = 1024

// Options configures a Service.
type Options struct {
	ReadTimeout  time.Duration // Wait for the report; zero waits indefinitely
	WriteTimeout time.Duration // Per reply; zero means no deadline
	HoldTimeout  time.Duration // Longest a peer may be held; zero holds until resolved
}

// Service serves completion reports over TCP.
type Service struct {
	barrier   *Barrier
	opts      Options
	log       zerolog.Logger
	malformed uint64 // Updated atomically
}

// NewService creates a TCP front end for b.
func NewService(b *Barrier, opts Options, log zerolog.Logger) *Service {
	return &Service{barrier: b, opts: opts, log: log}
}

// Serve accepts completion connections from ln until ctx is cancelled. Held
// connections are sent ErrShutdown and closed on cancellation.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Dur("hold_timeout", s.opts.HoldTimeout).
		Msg("completion barrier listening")
	return transport.ServeTCP(ctx, ln, s.HandleConn, s.log)
}

// HandleConn processes one completion connection, blocking while the peer is
// held.
func (s *Service) HandleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	r := &connReplier{conn: conn, timeout: s.opts.WriteTimeout}

	msg, err := transport.ReadMessage(conn, ReadLimit, s.opts.ReadTimeout)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("completion read failed")
		return
	}

	req, err := wire.ParseCompletion(msg)
	if err != nil {
		atomic.AddUint64(&s.malformed, 1)
		s.log.Warn().Err(err).Str("remote", remote).Msg("rejected completion report")
		if err := r.Reply(wire.ErrorReply(err)); err != nil {
			s.log.Warn().Err(err).Str("remote", remote).Msg("error reply failed")
		}
		return
	}

	h := s.barrier.Report(req, r)
	if h == nil {
		return
	}
	s.wait(ctx, h, conn, req)
}

// wait blocks until h resolves or has to be abandoned.
func (s *Service) wait(ctx context.Context, h *Hold, conn net.Conn, req wire.CompletionRequest) {
	gone := watchHangup(conn)

	var expired <-chan time.Time
	if s.opts.HoldTimeout > 0 {
		t := time.NewTimer(s.opts.HoldTimeout)
		defer t.Stop()
		expired = t.C
	}

	log := s.log.With().Str("peer", req.PlayerID).Str("group", req.CombatID).Logger()
	select {
	case <-h.Done():
		return
	case <-gone:
		if h.Abandon(nil) {
			log.Info().Msg("held peer hung up")
		}
	case <-expired:
		if h.Abandon(ErrHoldTimeout) {
			log.Info().Dur("hold_timeout", s.opts.HoldTimeout).Msg("held peer timed out")
		}
	case <-ctx.Done():
		h.Abandon(ErrShutdown)
	}
	<-h.Done()
}

// watchHangup reads conn until it fails and then closes the returned channel.
// Peers send nothing after their report, so the read only returns when the
// peer hangs up or conn is closed locally.
func watchHangup(conn net.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	return gone
}

// Malformed returns the number of reports rejected before reaching the
// barrier.
func (s *Service) Malformed() uint64 {
	return atomic.LoadUint64(&s.malformed)
}

// connReplier adapts a TCP connection to Replier.
type connReplier struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *connReplier) Reply(reply wire.CompletionReply) error {
	return transport.WriteJSON(c.conn, reply, c.timeout)
}

func (c *connReplier) Close() error {
	return c.conn.Close()
}
