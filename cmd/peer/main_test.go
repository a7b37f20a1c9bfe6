package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lockstep/internal/client"
	"github.com/dreamware/lockstep/internal/config"
	"github.com/dreamware/lockstep/internal/server"
	"github.com/dreamware/lockstep/internal/wire"
)

func TestParseState(t *testing.T) {
	s, err := parseState("update", []string{"-x", "10", "-y", "-20", "-vx", "3", "-color", "blue"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, client.State{X: 10, Y: -20, VX: 3, Color: "blue"}, s)

	s, err = parseState("update", nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, wire.ColorPrimary, s.Color)

	_, err = parseState("update", []string{"-x", "far"}, io.Discard)
	assert.Error(t, err)
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	printSnapshot(&out, wire.Snapshot{
		ServerTime: 2_000,
		Peers: []wire.PeerState{
			{ID: "B", GroupTag: "g1", X: 1, Y: 2, ColorCode: wire.ColorCodePrimary, LastUpdate: 1_500},
		},
	})

	assert.Contains(t, out.String(), "1 peers")
	assert.Contains(t, out.String(), `group="g1" pos=(1,2) vel=(0,0) color=red age=500ms`)
}

func TestRunUsage(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"dance"},
		{"bind"},
		{"complete", "g1"},
	} {
		err := run(context.Background(), args, io.Discard, io.Discard)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

// startServer runs a real server on loopback and returns the peer flags that
// point at it.
func startServer(t *testing.T) (*server.Server, []string) {
	t.Helper()
	cfg := config.Config{
		IngestAddr:   "127.0.0.1:0",
		SnapshotAddr: "127.0.0.1:0",
		BindAddr:     "127.0.0.1:0",
		BarrierAddr:  "127.0.0.1:0",
		ReapInterval: time.Second,
		EntryTimeout: 15 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	srv, err := server.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	port := func(addr string) string {
		_, p, err := net.SplitHostPort(addr)
		require.NoError(t, err)
		return p
	}
	a := srv.Addrs()
	return srv, []string{
		"-host", "127.0.0.1",
		"-ingest-port", port(a.Ingest),
		"-snapshot-port", port(a.Snapshot),
		"-bind-port", port(a.Bind),
		"-barrier-port", port(a.Barrier),
	}
}

func TestRunAgainstServer(t *testing.T) {
	srv, flags := startServer(t)
	ctx := context.Background()
	peer := func(id string, args ...string) string {
		var out bytes.Buffer
		all := append(append(append([]string{}, flags...), "-id", id), args...)
		require.NoError(t, run(ctx, all, &out, io.Discard))
		return out.String()
	}

	peer("A", "bind", "g1")
	peer("B", "bind", "g1")
	peer("B", "update", "-x", "7", "-y", "8")
	require.Eventually(t, func() bool {
		e, ok := srv.Registry.Get("B")
		return ok && e.X == 7 && len(srv.Registry.Members("g1")) == 2
	}, 2*time.Second, 5*time.Millisecond)

	out := peer("A", "snapshot")
	assert.Contains(t, out, "1 peers")
	assert.Contains(t, out, "pos=(7,8)")

	// a lone group passes its checkpoint immediately
	peer("C", "bind", "solo")
	out = peer("C", "complete", "solo", "4")
	assert.Equal(t, "group solo passed, now at level 5\n", out)
}
