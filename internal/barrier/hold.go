package barrier

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lockstep/internal/wire"
)

// waiter is one held connection queued on a group.
type waiter struct {
	r      Replier
	g      *group
	player string
	level  int // Level the peer is waiting on

	mu   sync.Mutex // Serializes writes on r
	once sync.Once
	done chan struct{}
}

// finish sends reply, if any, then closes the connection. Only the first call
// has an effect.
func (w *waiter) finish(reply *wire.CompletionReply) {
	w.once.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		if reply != nil {
			w.r.Reply(*reply)
		}
		w.r.Close()
		close(w.done)
	})
}

// Hold tracks a peer held by the barrier until its group completes.
type Hold struct {
	b *Barrier
	w *waiter
}

// Done is closed once the held connection has received its final reply, if
// any, and been closed.
func (h *Hold) Done() <-chan struct{} {
	return h.w.done
}

// Level returns the level the held peer is waiting on.
func (h *Hold) Level() int {
	return h.w.level
}

// Abandon withdraws the peer from its group without affecting the group's
// completed set. A non-nil reason is sent to the peer as an error reply before
// the connection is closed.
//
// If the group has already claimed the waiter for release or supersession,
// Abandon does nothing and the pending outcome stands; callers should wait on
// Done afterwards either way. Abandon reports whether it withdrew the peer.
func (h *Hold) Abandon(reason error) bool {
	w := h.w
	g := w.g

	g.mu.Lock()
	i := slices.Index(g.waiters, w)
	if i >= 0 {
		g.waiters = slices.Delete(g.waiters, i, i+1)
	}
	g.mu.Unlock()

	if i < 0 {
		return false
	}

	atomic.AddUint64(&h.b.stats.Withdrawn, 1)
	if reason == nil {
		w.finish(nil)
		return true
	}
	reply := wire.ErrorReply(reason)
	reply.CurrentLevel = w.level
	w.finish(&reply)
	return true
}
