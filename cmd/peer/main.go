// Package main is a command-line peer for exercising a lockstep server by
// hand.
//
// Usage:
//
//	peer [flags] update -x 10 -y 20 [-vx 1 -vy 0] [-color red]
//	peer [flags] snapshot
//	peer [flags] bind <group>
//	peer [flags] complete <group> <level>
//	peer [flags] follow [-every 100ms]
//
// Global flags select the server host and ports and the peer id; without -id
// a fresh UUID is used. follow sends the same position repeatedly and prints
// the group's snapshot after each update, which keeps the peer alive against
// the reaper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/client"
	"github.com/dreamware/lockstep/internal/logging"
	"github.com/dreamware/lockstep/internal/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "peer: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: peer [flags] update|snapshot|bind|complete|follow ...")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("peer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", "127.0.0.1", "server host")
	id := fs.String("id", "", "peer id, a new UUID when empty")
	ingestPort := fs.Int("ingest-port", 8089, "UDP ingest port")
	snapshotPort := fs.Int("snapshot-port", 8090, "UDP snapshot port")
	bindPort := fs.Int("bind-port", 5000, "TCP bind port")
	barrierPort := fs.Int("barrier-port", 5001, "TCP barrier port")
	timeout := fs.Duration("timeout", 2*time.Second, "per request timeout")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	log, _, err := logging.New(logging.Options{Level: level, Out: stderr})
	if err != nil {
		return err
	}

	if *id == "" {
		*id = client.NewID()
	}
	hostPort := func(p int) string { return net.JoinHostPort(*host, strconv.Itoa(p)) }
	c, err := client.Dial(*id, client.Addrs{
		Ingest:   hostPort(*ingestPort),
		Snapshot: hostPort(*snapshotPort),
		Bind:     hostPort(*bindPort),
		Barrier:  hostPort(*barrierPort),
	}, *timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	log = log.With().Str("peer", c.ID()).Logger()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "update":
		return runUpdate(c, rest, stderr, log)
	case "snapshot":
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		printSnapshot(stdout, snap)
		return nil
	case "bind":
		if len(rest) != 1 {
			return errUsage
		}
		if err := c.Bind(ctx, rest[0]); err != nil {
			return err
		}
		log.Info().Str("group", rest[0]).Msg("bound")
		return nil
	case "complete":
		return runComplete(ctx, c, rest, stdout, log)
	case "follow":
		return runFollow(ctx, c, rest, stdout, stderr, log)
	default:
		return errUsage
	}
}

func runUpdate(c *client.Client, args []string, stderr io.Writer, log zerolog.Logger) error {
	s, err := parseState("update", args, stderr)
	if err != nil {
		return err
	}
	if err := c.SendUpdate(s, time.Now()); err != nil {
		return err
	}
	log.Info().Int32("x", s.X).Int32("y", s.Y).Msg("update sent")
	return nil
}

func runComplete(ctx context.Context, c *client.Client, args []string, stdout io.Writer, log zerolog.Logger) error {
	if len(args) != 2 {
		return errUsage
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("level %q: %w", args[1], err)
	}

	reply, err := c.ReportCompletion(ctx, args[0], level, func(r wire.CompletionReply) {
		log.Info().Int("level", r.CurrentLevel).Strs("waiting_for", r.WaitingForPlayers).Msg("held by group")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "group %s passed, now at level %d\n", args[0], reply.CurrentLevel)
	return nil
}

func runFollow(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer, log zerolog.Logger) error {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	every := fs.Duration("every", 100*time.Millisecond, "update period")
	x := fs.Int("x", 0, "x position")
	y := fs.Int("y", 0, "y position")
	color := fs.String("color", wire.ColorPrimary, "color marker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	s := client.State{X: int32(*x), Y: int32(*y), Color: *color}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.SendUpdate(s, time.Now()); err != nil {
				return err
			}
			snap, err := c.Snapshot(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("snapshot lost")
				continue
			}
			printSnapshot(stdout, snap)
		}
	}
}

func parseState(name string, args []string, stderr io.Writer) (client.State, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	x := fs.Int("x", 0, "x position")
	y := fs.Int("y", 0, "y position")
	vx := fs.Int("vx", 0, "x velocity")
	vy := fs.Int("vy", 0, "y velocity")
	color := fs.String("color", wire.ColorPrimary, "color marker")
	if err := fs.Parse(args); err != nil {
		return client.State{}, err
	}
	return client.State{
		X:     int32(*x),
		Y:     int32(*y),
		VX:    int32(*vx),
		VY:    int32(*vy),
		Color: *color,
	}, nil
}

func printSnapshot(w io.Writer, snap wire.Snapshot) {
	fmt.Fprintf(w, "server time %s, %d peers\n",
		time.UnixMilli(snap.ServerTime).UTC().Format(time.RFC3339Nano), len(snap.Peers))
	for _, p := range snap.Peers {
		color := "other"
		if p.ColorCode == wire.ColorCodePrimary {
			color = wire.ColorPrimary
		}
		age := time.Duration(snap.ServerTime-p.LastUpdate) * time.Millisecond
		fmt.Fprintf(w, "  %-36s group=%q pos=(%d,%d) vel=(%d,%d) color=%s age=%s\n",
			p.ID, p.GroupTag, p.X, p.Y, p.VX, p.VY, color, age)
	}
}
