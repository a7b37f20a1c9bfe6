package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxPacket is large enough for any UDP payload.
const maxPacket = 64 * 1024

// PacketHandler processes one datagram. pkt is owned by the handler.
type PacketHandler func(ctx context.Context, pkt []byte, from netip.AddrPort)

// ConnHandler processes one accepted connection. The connection is closed when
// the handler returns.
type ConnHandler func(ctx context.Context, conn net.Conn)

// PacketConn is the part of *net.UDPConn that ServeUDP reads from.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// ServeUDP reads datagrams from conn until ctx is cancelled, dispatching each
// to h on a new goroutine. Cancelling ctx closes conn; ServeUDP then waits for
// in-flight handlers and returns nil. Read errors are retried with backoff.
func ServeUDP(ctx context.Context, conn PacketConn, h PacketHandler, log zerolog.Logger) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxPacket)
	var backoff time.Duration
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("udp read failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}
		backoff = 0

		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recoverHandler(log, "datagram", from.String())
			h(ctx, pkt, from)
		}()
	}
}

// ServeTCP accepts connections from ln until ctx is cancelled, handing each to
// h on a new goroutine. Cancelling ctx closes ln; ServeTCP then waits for
// in-flight handlers, which should watch ctx themselves if they block, and
// returns nil. Any other accept error, such as running out of file
// descriptors, is logged and retried with backoff; ServeTCP never returns an
// error.
func ServeTCP(ctx context.Context, ln net.Listener, h ConnHandler, log zerolog.Logger) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			defer recoverHandler(log, "connection", conn.RemoteAddr().String())
			h(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func recoverHandler(log zerolog.Logger, kind, remote string) {
	if r := recover(); r != nil {
		log.Error().
			Str("remote", remote).
			Interface("panic", r).
			Msgf("%s handler panicked, abandoned", kind)
	}
}

// ReadMessage performs a single read of at most limit bytes from conn. A
// message must arrive in one write from the peer; there is no framing. A zero
// timeout means no read deadline. An empty read is reported as io.EOF.
func ReadMessage(conn net.Conn, limit int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, limit)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// WriteJSON encodes v and writes it to conn in one write. A zero timeout means
// no write deadline.
func WriteJSON(conn net.Conn, v any, timeout time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err = conn.Write(b)
	return err
}
