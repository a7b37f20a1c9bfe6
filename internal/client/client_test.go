package client

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lockstep/internal/wire"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, wire.IDWidth)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestSendUpdate(t *testing.T) {
	ingest := listenUDP(t)
	c, err := Dial("A", Addrs{Ingest: ingest.LocalAddr().String(), Snapshot: ingest.LocalAddr().String()}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	at := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, c.SendUpdate(State{X: 1, Y: 2, VX: 3, VY: 4, Color: "red"}, at))

	require.NoError(t, ingest.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := ingest.ReadFromUDP(buf)
	require.NoError(t, err)

	u, err := wire.DecodeUpdate(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, wire.Update{ID: "A", Timestamp: at.UnixMilli(), X: 1, Y: 2, VX: 3, VY: 4, Color: "red"}, u)
}

// TestSnapshot answers the lookup with a garbage datagram first, which the
// client must skip.
func TestSnapshot(t *testing.T) {
	srv := listenUDP(t)
	c, err := Dial("A", Addrs{Ingest: srv.LocalAddr().String(), Snapshot: srv.LocalAddr().String()}, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	go func() {
		buf := make([]byte, 64)
		n, from, err := srv.ReadFromUDP(buf)
		if err != nil || string(buf[:n]) != "A" {
			return
		}
		resp, _ := wire.EncodeSnapshot(42, []wire.PeerState{{ID: "B", GroupTag: "g1", ColorCode: wire.ColorCodeOther}})
		srv.WriteToUDP([]byte{1, 2, 3}, from)
		srv.WriteToUDP(resp, from)
	}()

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.ServerTime)
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, "B", snap.Peers[0].ID)
}

func TestSnapshotTimeout(t *testing.T) {
	srv := listenUDP(t)
	c, err := Dial("A", Addrs{Ingest: srv.LocalAddr().String(), Snapshot: srv.LocalAddr().String()}, 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	ln := listenTCP(t)
	got := make(chan wire.BindRequest, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, _ := conn.Read(buf)
		req, err := wire.ParseBind(buf[:n])
		if err == nil {
			got <- req
		}
	}()

	c, err := Dial("A", Addrs{Ingest: "127.0.0.1:1", Snapshot: "127.0.0.1:1", Bind: ln.Addr().String()}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Bind(context.Background(), "g1"))
	select {
	case req := <-got:
		assert.Equal(t, wire.BindRequest{PlayerID: "A", CombatID: "g1"}, req)
	case <-time.After(2 * time.Second):
		t.Fatal("bind message not received")
	}
}

// serveBarrier accepts one connection and writes replies in order.
func serveBarrier(t *testing.T, replies ...wire.CompletionReply) string {
	t.Helper()
	ln := listenTCP(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		for _, r := range replies {
			b, _ := json.Marshal(r)
			conn.Write(b)
		}
	}()
	return ln.Addr().String()
}

func TestReportCompletion(t *testing.T) {
	tests := []struct {
		name    string
		replies []wire.CompletionReply
		want    wire.CompletionReply
		waits   int
		wantErr bool
	}{
		{
			name:    "immediate",
			replies: []wire.CompletionReply{{AllCompleted: true, CurrentLevel: 3}},
			want:    wire.CompletionReply{AllCompleted: true, CurrentLevel: 3},
		},
		{
			name: "held then released",
			replies: []wire.CompletionReply{
				{CurrentLevel: 2, WaitingForPlayers: []string{"B"}},
				{AllCompleted: true, CurrentLevel: 3},
			},
			want:  wire.CompletionReply{AllCompleted: true, CurrentLevel: 3},
			waits: 1,
		},
		{
			name:    "superseded",
			replies: []wire.CompletionReply{{CurrentLevel: 2, WaitingForPlayers: []string{"B"}}},
			waits:   1,
			wantErr: true,
		},
		{
			name:    "server error",
			replies: []wire.CompletionReply{{Error: "levelNum: missing"}},
			want:    wire.CompletionReply{Error: "levelNum: missing"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := serveBarrier(t, tt.replies...)
			c, err := Dial("A", Addrs{Ingest: "127.0.0.1:1", Snapshot: "127.0.0.1:1", Barrier: addr}, time.Second)
			require.NoError(t, err)
			defer c.Close()

			waits := 0
			got, err := c.ReportCompletion(context.Background(), "g1", 2, func(wire.CompletionReply) { waits++ })
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.waits, waits)
		})
	}
}

func TestReportCompletionSupersededError(t *testing.T) {
	addr := serveBarrier(t, wire.CompletionReply{CurrentLevel: 1, WaitingForPlayers: []string{"B"}})
	c, err := Dial("A", Addrs{Ingest: "127.0.0.1:1", Snapshot: "127.0.0.1:1", Barrier: addr}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReportCompletion(context.Background(), "g1", 1, nil)
	assert.ErrorIs(t, err, ErrNoRelease)
}
