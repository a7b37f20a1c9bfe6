package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	// IDWidth is the fixed, space-padded width of a peer id in a snapshot entry.
	IDWidth = 36

	// MaxTagLen is the longest group tag a snapshot entry can carry.
	MaxTagLen = math.MaxUint8

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507

	// ColorPrimary is the color marker encoded as ColorCodePrimary.
	ColorPrimary = "red"

	// ColorCodePrimary and ColorCodeOther are the snapshot color codes.
	ColorCodePrimary uint8 = 1
	ColorCodeOther   uint8 = 2
)

// snapshot header: u32 count + u64 server timestamp
const snapshotHeaderLen = 4 + 8

// PeerState is one entry of a snapshot response.
type PeerState struct {
	ID         string
	GroupTag   string
	LastUpdate int64 // milliseconds since the Unix epoch
	X          int32
	Y          int32
	VX         int32
	VY         int32
	ColorCode  uint8
}

// Snapshot is a decoded snapshot response.
type Snapshot struct {
	ServerTime int64
	Peers      []PeerState
}

// ColorCode maps a color marker onto its snapshot code. Only the exact primary
// marker gets ColorCodePrimary; everything else, "Red" included, is
// ColorCodeOther.
func ColorCode(color string) uint8 {
	if color == ColorPrimary {
		return ColorCodePrimary
	}
	return ColorCodeOther
}

func entryLen(p PeerState) int {
	return IDWidth + 1 + len(truncate(p.GroupTag, MaxTagLen)) + 4*4 + 1 + 8
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// EncodeSnapshot builds a snapshot response for peers, stamped with
// serverTime. Entries are written in the order given until the next one would
// push the datagram past MaxDatagram. It returns the encoded datagram and the
// number of entries written, which is also the count in the header.
//
// Ids longer than IDWidth and tags longer than MaxTagLen are truncated on a
// rune boundary.
func EncodeSnapshot(serverTime int64, peers []PeerState) ([]byte, int) {
	size := snapshotHeaderLen
	n := 0
	for _, p := range peers {
		l := entryLen(p)
		if size+l > MaxDatagram {
			break
		}
		size += l
		n++
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(n))
	buf = binary.BigEndian.AppendUint64(buf, uint64(serverTime))
	for _, p := range peers[:n] {
		id := truncate(p.ID, IDWidth)
		buf = append(buf, id...)
		buf = append(buf, bytes.Repeat([]byte{' '}, IDWidth-len(id))...)

		tag := truncate(p.GroupTag, MaxTagLen)
		buf = append(buf, uint8(len(tag)))
		buf = append(buf, tag...)

		buf = binary.BigEndian.AppendUint32(buf, uint32(p.X))
		buf = binary.BigEndian.AppendUint32(buf, uint32(p.Y))
		buf = binary.BigEndian.AppendUint32(buf, uint32(p.VX))
		buf = binary.BigEndian.AppendUint32(buf, uint32(p.VY))
		buf = append(buf, p.ColorCode)
		buf = binary.BigEndian.AppendUint64(buf, uint64(p.LastUpdate))
	}
	return buf, n
}

// DecodeSnapshot parses a snapshot response. Padding is trimmed from ids.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	d := &decoder{buf: b}

	count := d.u32("count")
	s := Snapshot{ServerTime: int64(d.u64("server timestamp"))}
	if d.err != nil {
		return Snapshot{}, d.err
	}

	// every entry is at least this long; reject absurd counts before allocating
	minEntry := entryLen(PeerState{})
	if int(count) > (len(b)-snapshotHeaderLen)/minEntry {
		return Snapshot{}, fmt.Errorf("%w: count %d does not fit %d bytes", ErrTruncated, count, len(b))
	}

	s.Peers = make([]PeerState, 0, count)
	for i := uint32(0); i < count; i++ {
		var p PeerState
		p.ID = strings.TrimRight(d.str(IDWidth, "id"), " ")
		p.GroupTag = d.str(int(d.u8("tag length")), "tag")
		p.X = d.i32("x")
		p.Y = d.i32("y")
		p.VX = d.i32("vx")
		p.VY = d.i32("vy")
		p.ColorCode = d.u8("color")
		p.LastUpdate = int64(d.u64("last update"))
		if d.err != nil {
			return Snapshot{}, fmt.Errorf("entry %d: %w", i, d.err)
		}
		s.Peers = append(s.Peers, p)
	}
	if err := d.finish(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
