package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned when a message payload is short or corrupt
var ErrMalformed = errors.New("malformed message payload")

// Wire encoding is little-endian throughout. The framed TCP channel
// carries one encoded control message per frame: u32 length + body.

// WriteFrame writes one encoded control message as a length-prefixed frame
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}

	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame body from the reader
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(hdr[:])
	if length < 2 {
		return nil, fmt.Errorf("%w: frame shorter than type tag", ErrMalformed)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// ControlType extracts the type tag from a control frame body. It never
// fails on unknown types; callers dispatch unknown tags to "ignore".
func ControlType(body []byte) (uint16, bool) {
	if len(body) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(body[0:2]), true
}

// Cursor walks a message body during decoding. All read methods fail
// with ErrMalformed once the remaining bytes run short.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor creates a cursor over a message body
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Uint16 reads a little-endian u16
func (c *Cursor) Uint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// Uint32 reads a little-endian u32
func (c *Cursor) Uint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// Bytes reads a u16-length-prefixed byte string
func (c *Cursor) Bytes() ([]byte, error) {
	n, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	if c.Remaining() < int(n) {
		return nil, ErrMalformed
	}
	v := make([]byte, n)
	copy(v, c.buf[c.off:c.off+int(n)])
	c.off += int(n)
	return v, nil
}

// String reads a u16-length-prefixed string
func (c *Cursor) String() (string, error) {
	b, err := c.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Uint32Set reads a u16-count-prefixed list of u32 values
func (c *Cursor) Uint32Set() ([]uint32, error) {
	n, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	if c.Remaining() < int(n)*4 {
		return nil, ErrMalformed
	}
	set := make([]uint32, n)
	for i := range set {
		set[i], _ = c.Uint32()
	}
	return set, nil
}

// StringSet reads a u16-count-prefixed list of strings
func (c *Cursor) StringSet() ([]string, error) {
	n, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	set := make([]string, n)
	for i := range set {
		set[i], err = c.String()
		if err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Append helpers used by the message encoders

func appendUint16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendBytes(b, v []byte) []byte {
	b = appendUint16(b, uint16(len(v)))
	return append(b, v...)
}

func appendString(b []byte, v string) []byte {
	b = appendUint16(b, uint16(len(v)))
	return append(b, v...)
}

func appendUint32Set(b []byte, set []uint32) []byte {
	b = appendUint16(b, uint16(len(set)))
	for _, v := range set {
		b = appendUint32(b, v)
	}
	return b
}

func appendStringSet(b []byte, set []string) []byte {
	b = appendUint16(b, uint16(len(set)))
	for _, v := range set {
		b = appendString(b, v)
	}
	return b
}
