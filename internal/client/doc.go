// Package client speaks the lockstep protocols from the peer side.
//
// A Client owns one UDP socket, used both for kinematic updates and for
// snapshot lookups, so the server learns a single return address per peer.
// Group binds and completion reports open a fresh TCP connection each time.
//
// Example:
//
//	c, err := client.Dial(client.NewID(), addrs, 2*time.Second)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	_ = c.Bind(ctx, "g1")
//	_ = c.SendUpdate(client.State{X: 10, Y: 20, Color: "red"}, time.Now())
//	snap, err := c.Snapshot(ctx)
//
// ReportCompletion blocks while the group is still waiting on other members.
// It returns the release reply, an error carried in a server reply, or
// ErrNoRelease when the server closes a held connection without releasing it,
// which is what happens to a report superseded by a higher level.
package client
