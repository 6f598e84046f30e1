package protocol

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer

	body := MsgSelectTG{TG: 42}.Encode()
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("frame body mismatch: got %x, want %x", got, body)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize+1)); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "zero length", data: []byte{0, 0, 0, 0}},
		{name: "shorter than type tag", data: []byte{1, 0, 0, 0, 5}},
		{name: "oversized", data: []byte{0xff, 0xff, 0xff, 0x7f}},
		{name: "truncated body", data: []byte{10, 0, 0, 0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadFrame(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestControlType(t *testing.T) {
	if typ, ok := ControlType(MsgAuthOk{}.Encode()); !ok || typ != TypeAuthOk {
		t.Errorf("ControlType = %d, %v; want %d, true", typ, ok, TypeAuthOk)
	}
	if _, ok := ControlType([]byte{1}); ok {
		t.Error("ControlType should fail on a one-byte body")
	}
}

func TestCursorShortReads(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Cursor) error
		data []byte
	}{
		{name: "uint16 on empty", data: nil, run: func(c *Cursor) error { _, err := c.Uint16(); return err }},
		{name: "uint32 on 3 bytes", data: []byte{1, 2, 3}, run: func(c *Cursor) error { _, err := c.Uint32(); return err }},
		{name: "bytes with bad length", data: []byte{5, 0, 1}, run: func(c *Cursor) error { _, err := c.Bytes(); return err }},
		{name: "u32 set with bad count", data: []byte{2, 0, 1, 0, 0, 0}, run: func(c *Cursor) error { _, err := c.Uint32Set(); return err }},
		{name: "string set with bad count", data: []byte{1, 0}, run: func(c *Cursor) error { _, err := c.StringSet(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(NewCursor(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestFrameRoundtripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 2, 512).Draw(t, "body")

		var buf bytes.Buffer
		if err := WriteFrame(&buf, body); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("roundtrip mismatch: got %x, want %x", got, body)
		}
	})
}
