// Package reaper evicts peers that have gone quiet.
//
// A Reaper sweeps the registry on a fixed interval and deletes every entry
// whose last update is older than the timeout, except permanent fixtures. It
// never touches barrier state: an evicted peer simply stops being counted as a
// member of its group the next time the barrier recomputes membership.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/lockstep/internal/registry"
)

// Sweeper is the registry operation the reaper needs.
type Sweeper interface {
	DeleteIf(pred func(registry.Entry) bool) []registry.Entry
}

// Reaper periodically removes idle entries from a registry.
// Thread-safe: Start, Stop and Sweep may be called from different goroutines.
type Reaper struct {
	store    Sweeper                // Registry being swept
	now      func() time.Time       // Clock, replaceable in tests
	onEvict  func(e registry.Entry) // Optional callback per evicted entry
	log      zerolog.Logger
	ctx      context.Context    // Internal context for Stop
	cancel   context.CancelFunc // Cancels ctx
	interval time.Duration      // Time between sweeps
	timeout  time.Duration      // Idle time after which an entry is evicted
	wg       sync.WaitGroup     // Tracks the Start loop
}

// New creates a reaper that sweeps store every interval and evicts entries idle
// for longer than timeout.
//
// Example:
//
//	r := reaper.New(reg, time.Second, 15*time.Second, logger)
//	go r.Start(ctx)
//	defer r.Stop()
func New(store Sweeper, interval, timeout time.Duration, log zerolog.Logger) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		store:    store,
		now:      time.Now,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
		timeout:  timeout,
	}
}

// SetClock replaces the time source. It must be called before Start.
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// SetOnEvict registers a callback invoked, outside the registry lock, for each
// entry removed by a sweep. It must be called before Start.
func (r *Reaper) SetOnEvict(callback func(e registry.Entry)) {
	r.onEvict = callback
}

// Start runs sweeps until ctx is cancelled or Stop is called. It blocks, so
// run it on its own goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()

	if ctx == nil {
		ctx = r.ctx
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.interval).
		Dur("timeout", r.timeout).
		Msg("reaper started")

	for {
		select {
		case <-ticker.C:
			r.Sweep(r.now())
		case <-ctx.Done():
			r.log.Info().Msg("reaper stopping due to context cancellation")
			return
		case <-r.ctx.Done():
			r.log.Info().Msg("reaper stopping due to internal cancellation")
			return
		}
	}
}

// Stop ends the Start loop and waits for it to return.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Sweep evicts every non-permanent entry idle for longer than the timeout as
// of now, and returns the evicted entries.
func (r *Reaper) Sweep(now time.Time) []registry.Entry {
	cutoff := now.UnixMilli() - r.timeout.Milliseconds()

	removed := r.store.DeleteIf(func(e registry.Entry) bool {
		return !e.Permanent && e.LastUpdate < cutoff
	})

	for _, e := range removed {
		r.log.Info().
			Str("peer", e.ID).
			Str("group", e.GroupTag).
			Int64("last_update", e.LastUpdate).
			Msg("evicted idle peer")
		if r.onEvict != nil {
			r.onEvict(e)
		}
	}
	return removed
}
