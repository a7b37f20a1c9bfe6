// Package barrier implements the multi-party completion rendezvous that lets
// every member of a group pass a checkpoint level together.
//
// # Overview
//
// Peers report that they finished a level by sending a JSON completion report
// over TCP. Each group keeps a current level and the set of peers that have
// reported it. A report that leaves members missing is answered with
// allCompleted=false and the sorted list of missing ids, and its connection is
// held open. The report that completes the set advances the group to the next
// level and releases every held connection with allCompleted=true.
//
// # Decision rules
//
// For a report of level L against a group at level current:
//
//   - L < current: the level was already passed. The peer gets
//     allCompleted=true with the current level and the connection closes.
//     Group state is not changed.
//   - L > current: a new target. The group moves to L, forgets who had
//     completed, and closes every held connection without a success reply.
//     Those peers must report again for the new level.
//   - The reporter is then added to the completed set, and the set is compared
//     with the group's members in the registry. Permanent fixtures are not
//     members.
//   - Nobody missing: the group advances to L+1, the completed set is cleared,
//     and every held peer and then the reporter receive allCompleted=true.
//   - Otherwise the reporter is held.
//
// Membership is always read from the registry at decision time; no roster is
// kept here.
//
// # Concurrency
//
// Each group has its own mutex, guarding only the in-memory decision. Network
// writes happen after it is released, against a copy of the waiter list, so a
// slow peer never stalls other reports. Membership is read from the registry
// before the group mutex is taken, so the two locks are never held at once.
//
// A held connection carries its own write lock, acquired while the group
// mutex is still held, which guarantees the allCompleted=false reply reaches
// the peer before any release reply on the same connection.
//
// # Held connections
//
// A held connection ends in exactly one of these ways:
//
//   - The group completes: success reply, then close.
//   - A higher level supersedes it: close with no reply.
//   - The peer hangs up: it is withdrawn, and its entry in the completed set
//     is kept.
//   - The optional hold timeout elapses: error reply, then close.
//   - The server shuts down: error reply, then close.
//
// The hold timeout is off by default, so a peer may wait indefinitely for a
// slow teammate.
//
// A peer evicted by the reaper after reporting stays in its group's completed
// set until the level advances or is superseded. Because membership is
// recomputed from the registry every time, that id no longer counts as
// expected, but it is not removed from the set either.
package barrier
