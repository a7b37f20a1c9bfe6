package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Update is one kinematic sample pushed by a peer.
type Update struct {
	ID        string // Peer identifier, externally generated
	Color     string // Color marker, "red" is the primary color
	Timestamp int64  // Sender clock, milliseconds since the Unix epoch
	X         int32
	Y         int32
	VX        int32
	VY        int32
}

// fixed part of an update between the id and the color: timestamp + 4 × i32
const updateFixedLen = 8 + 4*4

// decoder walks a datagram front to back. The first failure sticks so callers
// can read every field and check the error once.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int, field string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: %s needs %d bytes, %d left", ErrTruncated, field, n, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8(field string) uint8 {
	b := d.take(1, field)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16(field string) uint16 {
	b := d.take(2, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32(field string) uint32 {
	b := d.take(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64(field string) uint64 {
	b := d.take(8, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) i32(field string) int32 {
	return int32(d.u32(field))
}

func (d *decoder) str(n int, field string) string {
	b := d.take(n, field)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.err = fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformed, field)
		return ""
	}
	return string(b)
}

func (d *decoder) finish() error {
	if d.err == nil && d.off != len(d.buf) {
		d.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf)-d.off)
	}
	return d.err
}

// DecodeUpdate parses a kinematic update datagram.
//
// The whole datagram must be consumed exactly; truncation, trailing bytes and
// invalid UTF-8 are all rejected. An empty id is reported as ErrMissingField.
func DecodeUpdate(b []byte) (Update, error) {
	d := &decoder{buf: b}

	var u Update
	u.ID = d.str(int(d.u16("id length")), "id")
	u.Timestamp = int64(d.u64("timestamp"))
	u.X = d.i32("x")
	u.Y = d.i32("y")
	u.VX = d.i32("vx")
	u.VY = d.i32("vy")
	u.Color = d.str(int(d.u16("color length")), "color")

	if err := d.finish(); err != nil {
		return Update{}, err
	}
	if u.ID == "" {
		return Update{}, fmt.Errorf("%w: id", ErrMissingField)
	}
	if u.Timestamp < 0 {
		return Update{}, fmt.Errorf("%w: timestamp overflows int64", ErrMalformed)
	}
	return u, nil
}

// EncodeUpdate builds a kinematic update datagram. It is the peer side of
// DecodeUpdate.
func EncodeUpdate(u Update) ([]byte, error) {
	if len(u.ID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: id is %d bytes", ErrTooLong, len(u.ID))
	}
	if len(u.Color) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: color is %d bytes", ErrTooLong, len(u.Color))
	}

	buf := make([]byte, 0, 2+len(u.ID)+updateFixedLen+2+len(u.Color))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(u.ID)))
	buf = append(buf, u.ID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(u.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.X))
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.Y))
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.VX))
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.VY))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(u.Color)))
	buf = append(buf, u.Color...)
	return buf, nil
}
