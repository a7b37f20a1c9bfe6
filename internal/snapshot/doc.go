// Package snapshot answers peer lookups with the filtered list of peers that
// share the requester's group.
//
// # Request
//
// A lookup is a UDP datagram whose body is the requester's id. Surrounding
// whitespace is trimmed; an empty id or one that is not valid UTF-8 is dropped
// without a reply.
//
// # Response
//
// Serving a lookup refreshes the requester in the registry: its return
// address is recorded and its LastUpdate moves to the server clock, so polling
// alone keeps a peer alive against the reaper. An unknown requester is not
// created and is treated as untagged.
//
// The reply lists every other peer carrying the requester's group tag, fixtures
// included, encoded with wire.EncodeSnapshot and sent to the datagram's source.
// Untagged requesters see only other untagged peers. A reply never exceeds one
// UDP datagram; peers that do not fit are left out and the count in the header
// reflects what was written.
package snapshot
