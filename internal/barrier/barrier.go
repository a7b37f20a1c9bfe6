package barrier

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/lockstep/internal/wire"
)

var (
	// ErrHoldTimeout is reported to a held peer whose group did not complete
	// within the hold timeout.
	ErrHoldTimeout = errors.New("timed out waiting for group")

	// ErrShutdown is reported to held peers when the server stops.
	ErrShutdown = errors.New("server shutting down")
)

// Replier is the reply side of one completion connection.
type Replier interface {
	Reply(wire.CompletionReply) error
	Close() error
}

// Roster reports the current members of a group. The ids must be a fresh,
// sorted slice the barrier may modify.
type Roster interface {
	Members(tag string) []string
}

// Stats counts barrier outcomes.
type Stats struct {
	Reports    uint64 // Completion reports processed
	Late       uint64 // Reports for an already passed level
	Rounds     uint64 // Times a group completed a level
	Released   uint64 // Held peers released with success
	Superseded uint64 // Held peers closed because their level was superseded
	Withdrawn  uint64 // Held peers that left before release
}

// group is the checkpoint state of one coordination group.
type group struct {
	mu        sync.Mutex
	level     int                 // Current checkpoint level
	completed map[string]struct{} // Peers that reported level
	waiters   []*waiter           // Held peers, in arrival order
}

// Barrier is the completion rendezvous for every group. A group is created on
// its first report and never deleted.
type Barrier struct {
	roster Roster
	log    zerolog.Logger

	mu     sync.Mutex        // Protects groups, not group contents
	groups map[string]*group // Group tag -> state

	stats Stats // Updated atomically
}

// New creates a barrier that takes group membership from roster.
func New(roster Roster, log zerolog.Logger) *Barrier {
	return &Barrier{
		roster: roster,
		log:    log,
		groups: make(map[string]*group),
	}
}

func (b *Barrier) group(tag string) *group {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[tag]
	if !ok {
		g = &group{completed: make(map[string]struct{})}
		b.groups[tag] = g
	}
	return g
}

// Report processes one completion report and answers it on r.
//
// When the report resolves immediately, r receives its reply and is closed
// before Report returns, and the returned Hold is nil. Otherwise r receives an
// allCompleted=false reply listing the missing peers and stays open; the
// returned Hold tracks it until the group completes, a higher level supersedes
// it, or the caller abandons it.
func (b *Barrier) Report(req wire.CompletionRequest, r Replier) *Hold {
	atomic.AddUint64(&b.stats.Reports, 1)
	log := b.log.With().
		Str("peer", req.PlayerID).
		Str("group", req.CombatID).
		Int("level", req.LevelNum).
		Logger()

	// membership is read before the group lock so the registry lock and a
	// group lock are never held together
	expected := b.roster.Members(req.CombatID)

	g := b.group(req.CombatID)
	g.mu.Lock()

	if req.LevelNum < g.level {
		current := g.level
		g.mu.Unlock()

		atomic.AddUint64(&b.stats.Late, 1)
		log.Debug().Int("current_level", current).Msg("late report for passed level")
		b.send(log, r, wire.CompletionReply{AllCompleted: true, CurrentLevel: current})
		return nil
	}

	var superseded []*waiter
	if req.LevelNum > g.level {
		g.level = req.LevelNum
		clear(g.completed)
		superseded, g.waiters = g.waiters, nil
	}

	g.completed[req.PlayerID] = struct{}{}
	missing := slices.DeleteFunc(expected, func(id string) bool {
		_, done := g.completed[id]
		return done
	})

	if len(missing) == 0 {
		g.level = req.LevelNum + 1
		clear(g.completed)
		released := g.waiters
		g.waiters = nil
		current := g.level
		g.mu.Unlock()

		b.supersede(log, superseded)

		atomic.AddUint64(&b.stats.Rounds, 1)
		log.Info().
			Int("current_level", current).
			Int("released", len(released)).
			Msg("group completed level")

		reply := wire.CompletionReply{AllCompleted: true, CurrentLevel: current}
		for _, w := range released {
			w.finish(&reply)
			atomic.AddUint64(&b.stats.Released, 1)
		}
		b.send(log, r, reply)
		return nil
	}

	w := &waiter{r: r, g: g, player: req.PlayerID, level: g.level, done: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	// taken before the group lock is released so this reply is written
	// before any release reply
	w.mu.Lock()
	current := g.level
	g.mu.Unlock()

	b.supersede(log, superseded)

	log.Debug().Strs("missing", missing).Msg("holding peer for group")
	err := r.Reply(wire.CompletionReply{
		AllCompleted:      false,
		CurrentLevel:      current,
		WaitingForPlayers: missing,
	})
	w.mu.Unlock()

	h := &Hold{b: b, w: w}
	if err != nil {
		log.Warn().Err(err).Msg("completion reply failed, withdrawing peer")
		h.Abandon(nil)
	}
	return h
}

// send writes a final reply on r and closes it.
func (b *Barrier) send(log zerolog.Logger, r Replier, reply wire.CompletionReply) {
	if err := r.Reply(reply); err != nil {
		log.Warn().Err(err).Msg("completion reply failed")
	}
	r.Close()
}

func (b *Barrier) supersede(log zerolog.Logger, waiters []*waiter) {
	if len(waiters) == 0 {
		return
	}
	for _, w := range waiters {
		w.finish(nil)
		atomic.AddUint64(&b.stats.Superseded, 1)
	}
	log.Info().Int("superseded", len(waiters)).Msg("level superseded held peers")
}

// GroupState is a point-in-time view of one group.
type GroupState struct {
	Level     int
	Completed []string // Sorted
	Waiting   []string // Held peer ids, in arrival order
}

// State returns the state of the group tagged tag. ok is false if the group
// has never received a report.
func (b *Barrier) State(tag string) (state GroupState, ok bool) {
	b.mu.Lock()
	g, ok := b.groups[tag]
	b.mu.Unlock()
	if !ok {
		return GroupState{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state.Level = g.level
	state.Completed = make([]string, 0, len(g.completed))
	for id := range g.completed {
		state.Completed = append(state.Completed, id)
	}
	slices.Sort(state.Completed)
	state.Waiting = make([]string, 0, len(g.waiters))
	for _, w := range g.waiters {
		state.Waiting = append(state.Waiting, w.player)
	}
	return state, true
}

// Stats returns a snapshot of the counters.
func (b *Barrier) Stats() Stats {
	return Stats{
		Reports:    atomic.LoadUint64(&b.stats.Reports),
		Late:       atomic.LoadUint64(&b.stats.Late),
		Rounds:     atomic.LoadUint64(&b.stats.Rounds),
		Released:   atomic.LoadUint64(&b.stats.Released),
		Superseded: atomic.LoadUint64(&b.stats.Superseded),
		Withdrawn:  atomic.LoadUint64(&b.stats.Withdrawn),
	}
}
