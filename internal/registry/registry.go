package registry

import (
	"net/netip"
	"sync"

	"golang.org/x/exp/slices"
)

// DefaultColor is the color given to entries created by a group bind, before
// the peer has sent any kinematic update.
const DefaultColor = "red"

// ReorderWindow is how far, in milliseconds, an update may trail the last
// accepted one and still be judged a reordered datagram. Anything further
// behind is taken as the sender's clock stepping back and is accepted.
const ReorderWindow = 2000

// Entry is the registry's view of one peer. Values returned by the Registry are
// copies; mutating them has no effect on the stored state.
type Entry struct {
	ID         string         // Unique peer identifier
	GroupTag   string         // Coordination group, empty until bound
	Color      string         // Color marker from the last kinematic update
	Addr       netip.AddrPort // Last known return address, zero if unknown
	LastUpdate int64          // Milliseconds since the Unix epoch of the last accepted write
	X          int32
	Y          int32
	VX         int32
	VY         int32
	Permanent  bool // Fixture entry: never reaped, never a barrier member
}

// Kinematics is the set of fields written by one position update.
type Kinematics struct {
	ID        string
	Color     string
	Addr      netip.AddrPort // Source of the update, zero to leave unchanged
	Timestamp int64          // Sender clock, milliseconds since the Unix epoch
	X         int32
	Y         int32
	VX        int32
	VY        int32
}

// record is the stored form of an entry. stamp is the timestamp of the last
// accepted kinematic write; it orders updates independently of liveness
// refreshes, which move LastUpdate to the server clock.
type record struct {
	Entry
	stamp int64
}

// Registry is the shared keyed store of peer state. All methods are safe for
// concurrent use and each one is atomic: a reader never observes a partially
// written entry. No method performs I/O while holding the lock.
type Registry struct {
	mu      sync.RWMutex       // Protects entries
	entries map[string]*record // Peer id -> state
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*record),
	}
}

// ApplyKinematics upserts the kinematic fields of one update. An unseen id is
// created with an empty group tag.
//
// Updates for a known id whose timestamp trails the last accepted one by at
// most ReorderWindow are rejected, so a reordered datagram cannot move a peer
// backwards. The returned bool reports whether the update was accepted; the
// entry is the state after the call either way.
func (r *Registry) ApplyKinematics(k Kinematics) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entries[k.ID]
	if !exists {
		rec = &record{Entry: Entry{ID: k.ID}}
		r.entries[k.ID] = rec
	} else if behind := rec.stamp - k.Timestamp; behind > 0 && behind <= ReorderWindow {
		return rec.Entry, false
	}

	rec.X, rec.Y = k.X, k.Y
	rec.VX, rec.VY = k.VX, k.VY
	rec.Color = k.Color
	rec.LastUpdate = k.Timestamp
	rec.stamp = k.Timestamp
	if k.Addr.IsValid() {
		rec.Addr = k.Addr
	}
	return rec.Entry, true
}

// Bind sets the group tag of id. An unseen id is created with zeroed
// kinematics, DefaultColor, and LastUpdate set to now so the reaper gives it a
// full timeout to start sending updates. Concurrent binds resolve last write
// wins.
func (r *Registry) Bind(id, tag string, now int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.entries[id]; exists {
		rec.GroupTag = tag
		return rec.Entry, false
	}
	rec := &record{Entry: Entry{
		ID:         id,
		GroupTag:   tag,
		Color:      DefaultColor,
		LastUpdate: now,
	}}
	r.entries[id] = rec
	return rec.Entry, true
}

// Touch records that id is alive: it stores addr as the return address (when
// valid) and moves LastUpdate to now. Unknown ids are not created.
func (r *Registry) Touch(id string, addr netip.AddrPort, now int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entries[id]
	if !exists {
		return Entry{}, false
	}
	if addr.IsValid() {
		rec.Addr = addr
	}
	if now > rec.LastUpdate {
		rec.LastUpdate = now
	}
	return rec.Entry, true
}

// Seed inserts or replaces an entry verbatim. It is used for fixtures.
func (r *Registry) Seed(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[e.ID] = &record{Entry: e, stamp: e.LastUpdate}
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.entries[id]
	if !exists {
		return Entry{}, false
	}
	return rec.Entry, true
}

// Scan returns every entry whose group tag equals tag, except excludeID.
// An empty tag matches only untagged entries. Order is unspecified.
func (r *Registry) Scan(tag, excludeID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for id, rec := range r.entries {
		if id == excludeID || rec.GroupTag != tag {
			continue
		}
		out = append(out, rec.Entry)
	}
	return out
}

// Members returns the sorted ids bound to tag, leaving out permanent entries.
// It is the membership the completion barrier waits on.
func (r *Registry) Members(tag string) []string {
	r.mu.RLock()
	ids := make([]string, 0)
	for id, rec := range r.entries {
		if rec.GroupTag == tag && !rec.Permanent {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Delete removes id and reports whether it was present.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[id]
	delete(r.entries, id)
	return exists
}

// DeleteIf removes every entry matching pred under a single lock acquisition
// and returns the removed entries. pred must not call back into the registry.
func (r *Registry) DeleteIf(pred func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	for id, rec := range r.entries {
		if pred(rec.Entry) {
			removed = append(removed, rec.Entry)
			delete(r.entries, id)
		}
	}
	return removed
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
