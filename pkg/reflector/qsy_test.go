package reflector

import (
	"testing"

	"pgregory.net/rapid"
)

func TestRandomQSYRotation(t *testing.T) {
	// Range 100,3 covers TGs 100..102
	q := newRandomQSY(100, 3)

	occupied := map[uint32]bool{100: true, 102: true}
	isEmpty := func(tg uint32) bool { return !occupied[tg] }

	tgid, ok := q.next(isEmpty)
	if !ok || tgid != 101 {
		t.Fatalf("next = %d, %v; want 101, true", tgid, ok)
	}

	// Still empty: the rotation comes back around to the same TG
	tgid, ok = q.next(isEmpty)
	if !ok || tgid != 101 {
		t.Fatalf("second next = %d, %v; want 101, true", tgid, ok)
	}

	// Once occupied the rotation must move on
	occupied[101] = true
	occupied[102] = false
	tgid, ok = q.next(isEmpty)
	if !ok || tgid != 102 {
		t.Fatalf("third next = %d, %v; want 102, true", tgid, ok)
	}
}

func TestRandomQSYExhausted(t *testing.T) {
	q := newRandomQSY(100, 3)

	if _, ok := q.next(func(uint32) bool { return false }); ok {
		t.Error("full range should report failure")
	}
	// A later request can still succeed
	if tgid, ok := q.next(func(uint32) bool { return true }); !ok || tgid < 100 || tgid > 102 {
		t.Errorf("next after exhaustion = %d, %v", tgid, ok)
	}
}

func TestRandomQSYDisabled(t *testing.T) {
	tests := []struct {
		name     string
		lo, size uint32
	}{
		{name: "unset", lo: 0, size: 0},
		{name: "lo below one", lo: 0, size: 5},
		{name: "empty range", lo: 100, size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newRandomQSY(tt.lo, tt.size)
			if q.enabled() {
				t.Error("allocator should be disabled")
			}
			if _, ok := q.next(func(uint32) bool { return true }); ok {
				t.Error("disabled allocator returned a TG")
			}
		})
	}
}

func TestRandomQSYProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.Uint32Range(1, 1000).Draw(t, "lo")
		size := rapid.Uint32Range(1, 64).Draw(t, "size")
		q := newRandomQSY(lo, size)

		occupied := make(map[uint32]bool)
		for i := 0; i < 100; i++ {
			tgid, ok := q.next(func(tg uint32) bool { return !occupied[tg] })
			if !ok {
				break
			}
			// Never a TG outside the configured range
			if tgid < lo || tgid >= lo+size {
				t.Fatalf("allocated %d outside [%d, %d)", tgid, lo, lo+size)
			}
			// Never a TG with non-empty membership
			if occupied[tgid] {
				t.Fatalf("allocated occupied TG %d", tgid)
			}
			occupied[tgid] = true
		}

		// Every slot handed out at most once, and all of them by now
		if len(occupied) != int(size) {
			t.Fatalf("allocated %d distinct TGs, want %d", len(occupied), size)
		}
	})
}
