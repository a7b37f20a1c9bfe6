// Package server assembles the lockstep services around one shared registry
// and runs them together.
package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/lockstep/internal/barrier"
	"github.com/dreamware/lockstep/internal/binding"
	"github.com/dreamware/lockstep/internal/config"
	"github.com/dreamware/lockstep/internal/ingest"
	"github.com/dreamware/lockstep/internal/logging"
	"github.com/dreamware/lockstep/internal/reaper"
	"github.com/dreamware/lockstep/internal/registry"
	"github.com/dreamware/lockstep/internal/snapshot"
)

// Addrs are the bound addresses of a listening server.
type Addrs struct {
	Ingest   string
	Snapshot string
	Bind     string
	Barrier  string
}

// Server owns the registry, the reaper and the four network services.
type Server struct {
	cfg config.Config
	log zerolog.Logger

	Registry *registry.Registry
	Reaper   *reaper.Reaper
	Ingest   *ingest.Service
	Snapshot *snapshot.Service
	Binding  *binding.Service
	Barrier  *barrier.Barrier
	barrier  *barrier.Service

	ingestConn   *net.UDPConn
	snapshotConn *net.UDPConn
	bindLn       net.Listener
	barrierLn    net.Listener

	evicted uint64 // Peers removed by the reaper
}

// New builds a server from cfg and seeds the registry with its fixtures.
func New(cfg config.Config, log zerolog.Logger) (*Server, error) {
	fixtures, err := cfg.Fixtures()
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	now := time.Now().UnixMilli()
	for _, f := range fixtures {
		reg.Seed(f.Entry(now))
		log.Info().Str("peer", f.ID).Str("group", f.GroupTag).Msg("seeded fixture")
	}

	b := barrier.New(reg, logging.Component(log, "barrier"))
	s := &Server{
		cfg:      cfg,
		log:      log,
		Registry: reg,
		Reaper:   reaper.New(reg, cfg.ReapInterval, cfg.EntryTimeout, logging.Component(log, "reaper")),
		Ingest:   ingest.New(reg, logging.Component(log, "ingest")),
		Snapshot: snapshot.New(reg, logging.Component(log, "snapshot")),
		Binding:  binding.New(reg, cfg.ReadTimeout, logging.Component(log, "binding")),
		Barrier:  b,
		barrier: barrier.NewService(b, barrier.Options{
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			HoldTimeout:  cfg.HoldTimeout,
		}, logging.Component(log, "barrier")),
	}
	s.Reaper.SetOnEvict(func(registry.Entry) { atomic.AddUint64(&s.evicted, 1) })
	return s, nil
}

// Evicted returns the number of peers the reaper has removed.
func (s *Server) Evicted() uint64 {
	return atomic.LoadUint64(&s.evicted)
}

// Listen opens the four sockets. On failure any socket already opened is
// closed.
func (s *Server) Listen() (err error) {
	defer func() {
		if err != nil {
			s.closeAll()
		}
	}()

	if s.ingestConn, err = listenUDP(s.cfg.IngestAddr); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if s.snapshotConn, err = listenUDP(s.cfg.SnapshotAddr); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if s.bindLn, err = net.Listen("tcp", s.cfg.BindAddr); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if s.barrierLn, err = net.Listen("tcp", s.cfg.BarrierAddr); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", ua)
}

func (s *Server) closeAll() {
	if s.ingestConn != nil {
		s.ingestConn.Close()
	}
	if s.snapshotConn != nil {
		s.snapshotConn.Close()
	}
	if s.bindLn != nil {
		s.bindLn.Close()
	}
	if s.barrierLn != nil {
		s.barrierLn.Close()
	}
}

// Addrs returns the bound addresses. Listen must have succeeded.
func (s *Server) Addrs() Addrs {
	return Addrs{
		Ingest:   s.ingestConn.LocalAddr().String(),
		Snapshot: s.snapshotConn.LocalAddr().String(),
		Bind:     s.bindLn.Addr().String(),
		Barrier:  s.barrierLn.Addr().String(),
	}
}

// Run serves until ctx is cancelled or a service fails, then stops every
// service and waits for in-flight handlers. Listen must have succeeded.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Ingest.Serve(ctx, s.ingestConn) })
	g.Go(func() error { return s.Snapshot.Serve(ctx, s.snapshotConn) })
	g.Go(func() error { return s.Binding.Serve(ctx, s.bindLn) })
	g.Go(func() error { return s.barrier.Serve(ctx, s.barrierLn) })
	g.Go(func() error {
		s.Reaper.Start(ctx)
		return nil
	})

	err := g.Wait()
	s.Reaper.Stop()
	s.logStats()
	return err
}

func (s *Server) logStats() {
	ing := s.Ingest.Stats()
	snap := s.Snapshot.Stats()
	bind := s.Binding.Stats()
	bar := s.Barrier.Stats()
	s.log.Info().
		Int("peers", s.Registry.Len()).
		Uint64("peers_evicted", s.Evicted()).
		Uint64("updates", ing.Accepted).
		Uint64("updates_malformed", ing.Malformed).
		Uint64("updates_reordered", ing.Reordered).
		Uint64("snapshots", snap.Served).
		Uint64("binds", bind.Bound+bind.Created).
		Uint64("reports", bar.Reports).
		Uint64("rounds", bar.Rounds).
		Uint64("reports_malformed", s.barrier.Malformed()).
		Msg("server stopped")
}
