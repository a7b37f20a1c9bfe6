// Package main runs the lockstep server, which keeps a small group of
// networked peers in sync.
//
// The server listens on four sockets:
//
//	┌──────────────────────────────────────────────┐
//	│                  lockstep                    │
//	├──────────────────────────────────────────────┤
//	│  UDP :8089  position ingest   (binary)       │
//	│  UDP :8090  snapshot lookup   (binary)       │
//	│  TCP :5000  group binding     (JSON)         │
//	│  TCP :5001  completion barrier (JSON, held)  │
//	├──────────────────────────────────────────────┤
//	│  registry   shared peer state                │
//	│  reaper     evicts peers idle for 15s        │
//	└──────────────────────────────────────────────┘
//
// Configuration comes from LOCKSTEP_* environment variables and flags; flags
// win. Run with -h for the full list.
//
// Example usage:
//
//	# Start with JSON logs and a bounded barrier wait
//	LOCKSTEP_LOG_FORMAT=json ./lockstep -hold-timeout 2m
//
//	# Seed extra permanent peers
//	./lockstep -fixtures fixtures.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/lockstep/internal/config"
	"github.com/dreamware/lockstep/internal/logging"
	"github.com/dreamware/lockstep/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "lockstep: %v\n", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until ctx is cancelled. ready, if not nil,
// receives the bound addresses once every socket is open.
func run(ctx context.Context, args []string, out io.Writer, ready chan<- server.Addrs) error {
	fs := flag.NewFlagSet("lockstep", flag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
		File:   cfg.LogFile,
		Out:    out,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	addrs := srv.Addrs()
	log.Info().
		Str("ingest", addrs.Ingest).
		Str("snapshot", addrs.Snapshot).
		Str("bind", addrs.Bind).
		Str("barrier", addrs.Barrier).
		Msg("lockstep started")
	if ready != nil {
		ready <- addrs
	}

	return srv.Run(ctx)
}
