// Package wire defines the on-the-wire formats spoken between peers and the
// lockstep service.
//
// # Overview
//
// Two families of messages exist:
//
//   - Binary datagrams carried over UDP: the kinematic update a peer pushes on
//     every frame, and the snapshot response the service returns to a lookup.
//   - JSON objects carried over one-shot TCP connections: group binds and
//     completion reports, plus the completion reply.
//
// All multi-byte integers are big-endian.
//
// # Kinematic update
//
//	u16 idLen | id | u64 timestampMs | i32 x | i32 y | i32 vx | i32 vy | u16 colorLen | color
//
// Decoding is strict. A datagram that is truncated, carries trailing bytes, or
// holds invalid UTF-8 is rejected with an error wrapping ErrTruncated or
// ErrMalformed.
//
// # Snapshot response
//
//	u32 count | u64 serverTimestampMs | count × entry
//	entry = 36-byte space-padded id | u8 tagLen | tag | i32 x | i32 y | i32 vx | i32 vy | u8 colorCode | u64 lastUpdateMs
//
// A snapshot always fits in one UDP datagram. EncodeSnapshot stops adding
// entries once the next one would exceed MaxDatagram and reports how many it
// wrote in the count header.
//
// # JSON messages
//
//	bind:       {"playerId": "...", "combatId": "..."}
//	completion: {"playerId": "...", "combatId": "...", "levelNum": 2}
//	reply:      {"allCompleted": false, "currentLevel": 2, "waitingForPlayers": ["B"]}
//
// The JSON messages have no length prefix; a sender must fit one message in a
// single write.
package wire
