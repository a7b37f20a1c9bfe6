// Package registry holds the shared, lock-guarded table of known peers.
//
// # Overview
//
// Every other component reads or writes peer state through a Registry:
//
//	ingest   ── ApplyKinematics ──┐
//	binding  ── Bind ─────────────┤
//	snapshot ── Touch, Scan ──────┼──▶ Registry (RWMutex + map)
//	barrier  ── Members ──────────┤
//	reaper   ── DeleteIf ─────────┘
//
// An entry is created by the first kinematic update or the first group bind for
// an unseen id, and removed only by the reaper when it goes idle. Absence means
// unknown or expired; there is no soft-delete state.
//
// # Timestamps
//
// LastUpdate serves two purposes. A kinematic update sets it to the sender's
// timestamp; a snapshot lookup (Touch) moves it forward to the server clock
// because a lookup also counts as liveness. Reordered kinematic datagrams are
// detected against a separate stamp of the last accepted update, so a liveness
// refresh never causes a later kinematic update to be rejected.
//
// The two clocks are not reconciled. LastUpdate is non-decreasing across
// accepted kinematic updates only: an update accepted after a Touch still sets
// LastUpdate to the sender's clock, which may be earlier than the Touch. An
// update trailing the stamp by at most ReorderWindow is dropped as reordered;
// one further behind is accepted as a sender clock reset, and the stamp moves
// back with it so that peer is not silenced until its clock catches up.
//
// # Concurrency
//
// Reads take the read lock, writes the write lock, and each method holds it for
// in-memory work only. Entries are returned by value.
package registry
