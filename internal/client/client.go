package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/lockstep/internal/wire"
)

// ErrNoRelease is returned by ReportCompletion when a held connection closes
// without a success reply, which happens when a higher level supersedes the
// one reported.
var ErrNoRelease = errors.New("held connection closed without release")

// NewID returns a fresh peer id. UUID strings fill the snapshot id slot
// exactly.
func NewID() string {
	return uuid.NewString()
}

// Addrs are the server endpoints a Client talks to.
type Addrs struct {
	Ingest   string // UDP
	Snapshot string // UDP
	Bind     string // TCP
	Barrier  string // TCP
}

// Client is one peer's connection to a lockstep server. Only the UDP socket
// is kept open; TCP interactions dial per call.
type Client struct {
	id      string
	addrs   Addrs
	timeout time.Duration
	udp     *net.UDPConn
	ingest  *net.UDPAddr
	lookup  *net.UDPAddr
}

// Dial opens a client for peer id. A single local UDP socket is used for
// both updates and lookups, so the server records one return address.
// timeout bounds each request round trip.
func Dial(id string, addrs Addrs, timeout time.Duration) (*Client, error) {
	ingest, err := net.ResolveUDPAddr("udp", addrs.Ingest)
	if err != nil {
		return nil, fmt.Errorf("resolve ingest address: %w", err)
	}
	lookup, err := net.ResolveUDPAddr("udp", addrs.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot address: %w", err)
	}
	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &Client{
		id:      id,
		addrs:   addrs,
		timeout: timeout,
		udp:     udp,
		ingest:  ingest,
		lookup:  lookup,
	}, nil
}

// ID returns the peer id.
func (c *Client) ID() string {
	return c.id
}

// Close releases the UDP socket.
func (c *Client) Close() error {
	return c.udp.Close()
}

// State is a kinematic sample to publish.
type State struct {
	X, Y   int32
	VX, VY int32
	Color  string
}

// SendUpdate publishes s stamped with at. Delivery is not confirmed.
func (c *Client) SendUpdate(s State, at time.Time) error {
	pkt, err := wire.EncodeUpdate(wire.Update{
		ID:        c.id,
		Timestamp: at.UnixMilli(),
		X:         s.X,
		Y:         s.Y,
		VX:        s.VX,
		VY:        s.VY,
		Color:     s.Color,
	})
	if err != nil {
		return err
	}
	_, err = c.udp.WriteToUDP(pkt, c.ingest)
	return err
}

// Snapshot asks for the peers sharing this peer's group. Datagrams that do not
// decode are skipped until the timeout.
func (c *Client) Snapshot(ctx context.Context) (wire.Snapshot, error) {
	if _, err := c.udp.WriteToUDP([]byte(c.id), c.lookup); err != nil {
		return wire.Snapshot{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.udp.SetReadDeadline(deadline); err != nil {
		return wire.Snapshot{}, err
	}
	defer c.udp.SetReadDeadline(time.Time{})

	buf := make([]byte, wire.MaxDatagram)
	for {
		n, from, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			return wire.Snapshot{}, fmt.Errorf("await snapshot: %w", err)
		}
		if from.Port != c.lookup.Port {
			continue
		}
		snap, err := wire.DecodeSnapshot(buf[:n])
		if err != nil {
			continue
		}
		return snap, nil
	}
}

// Bind joins group tag.
func (c *Client) Bind(ctx context.Context, tag string) error {
	conn, err := c.dialTCP(ctx, c.addrs.Bind)
	if err != nil {
		return err
	}
	defer conn.Close()

	b, err := json.Marshal(wire.BindRequest{PlayerID: c.id, CombatID: tag})
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

// ReportCompletion reports that this peer finished level in group tag and
// blocks until the group lets it through, or ctx ends.
//
// onWait, if not nil, receives the interim reply listing the missing peers
// when the server holds the connection.
func (c *Client) ReportCompletion(ctx context.Context, tag string, level int, onWait func(wire.CompletionReply)) (wire.CompletionReply, error) {
	conn, err := c.dialTCP(ctx, c.addrs.Barrier)
	if err != nil {
		return wire.CompletionReply{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	b, err := json.Marshal(wire.CompletionRequest{PlayerID: c.id, CombatID: tag, LevelNum: level})
	if err != nil {
		return wire.CompletionReply{}, err
	}
	if _, err := conn.Write(b); err != nil {
		return wire.CompletionReply{}, err
	}

	dec := json.NewDecoder(conn)
	for {
		var reply wire.CompletionReply
		if err := dec.Decode(&reply); err != nil {
			if ctx.Err() != nil {
				return wire.CompletionReply{}, ctx.Err()
			}
			return wire.CompletionReply{}, fmt.Errorf("%w: %v", ErrNoRelease, err)
		}
		if reply.Error != "" {
			return reply, fmt.Errorf("server: %s", reply.Error)
		}
		if reply.AllCompleted {
			return reply, nil
		}
		if onWait != nil {
			onWait(reply)
		}
	}
}

func (c *Client) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
