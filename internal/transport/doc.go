// Package transport runs the receive and accept loops shared by the network
// services.
//
// # Loops
//
// ServeUDP reads datagrams and ServeTCP accepts connections until their
// context is cancelled. Each datagram and each connection is handed to its
// handler on its own goroutine behind a recover boundary, so a panicking
// handler is logged and abandoned while the loop keeps serving.
//
// A failed read or accept is logged and retried with a backoff that starts at
// 5ms and doubles up to one second. Running out of file descriptors is the
// usual cause on a server holding many barrier connections, and it clears as
// soon as held peers are released. Only a closed socket or a cancelled context
// ends a loop.
//
// # Shutdown
//
// Cancelling the context closes the socket, which unblocks the loop. The loop
// then waits for every in-flight handler before returning, so handlers that
// can block must watch the context themselves.
//
// # Messages
//
// The TCP protocols carry one JSON object per write with no framing.
// ReadMessage performs a single bounded read and reports an empty read as
// io.EOF; WriteJSON encodes a value and writes it in one call.
package transport
