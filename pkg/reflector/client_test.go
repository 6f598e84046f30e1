package reflector

import (
	"testing"

	"pgregory.net/rapid"
)

func TestUdpTxSeqStrictOrder(t *testing.T) {
	c := &Client{}

	for i := 0; i < 5; i++ {
		if got := c.takeUdpTxSeq(); got != uint16(i) {
			t.Fatalf("tx seq %d = %d", i, got)
		}
	}
}

func TestUdpTxSeqWraps(t *testing.T) {
	c := &Client{nextUdpTxSeq: 0xffff}

	if got := c.takeUdpTxSeq(); got != 0xffff {
		t.Fatalf("seq = %d, want 0xffff", got)
	}
	if got := c.takeUdpTxSeq(); got != 0 {
		t.Fatalf("seq after wrap = %d, want 0", got)
	}
}

func TestUdpRxSeqWindow(t *testing.T) {
	tests := []struct {
		name       string
		expected   uint16
		seq        uint16
		wantAccept bool
		wantLost   uint16
	}{
		{name: "exact", expected: 10, seq: 10, wantAccept: true},
		{name: "gap of three", expected: 10, seq: 13, wantAccept: true, wantLost: 3},
		{name: "one in the past", expected: 10, seq: 9, wantAccept: false},
		{name: "far in the past", expected: 10, seq: 0xfff0, wantAccept: false},
		{name: "wrap forward", expected: 0xfffe, seq: 1, wantAccept: true, wantLost: 3},
		{name: "largest forward gap", expected: 0, seq: 0x7fff, wantAccept: true, wantLost: 0x7fff},
		{name: "just past the window", expected: 0, seq: 0x8000, wantAccept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{nextUdpRxSeq: tt.expected}
			accept, lost := c.checkUdpRxSeq(tt.seq)
			if accept != tt.wantAccept {
				t.Errorf("accept = %v, want %v", accept, tt.wantAccept)
			}
			if lost != tt.wantLost {
				t.Errorf("lost = %d, want %d", lost, tt.wantLost)
			}
			if accept {
				if c.nextUdpRxSeq != tt.seq+1 {
					t.Errorf("expected advanced to %d, want %d", c.nextUdpRxSeq, tt.seq+1)
				}
			} else if c.nextUdpRxSeq != tt.expected {
				t.Errorf("expected moved on drop: %d", c.nextUdpRxSeq)
			}
		})
	}
}

func TestUdpRxSeqProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := &Client{nextUdpRxSeq: rapid.Uint16().Draw(t, "start")}

		for i := 0; i < 32; i++ {
			expected := c.nextUdpRxSeq
			seq := rapid.Uint16().Draw(t, "seq")
			accept, _ := c.checkUdpRxSeq(seq)

			diff := seq - expected
			if accept != (diff <= 0x7fff) {
				t.Fatalf("seq=%d expected=%d: accept=%v", seq, expected, accept)
			}
			if accept && c.nextUdpRxSeq != seq+1 {
				t.Fatalf("window not advanced to %d", seq+1)
			}
		}
	})
}

func TestConStateString(t *testing.T) {
	states := map[ConState]string{
		StateConnecting:    "connecting",
		StateHandshaking:   "handshaking",
		StateAwaitAuthResp: "await_auth_resp",
		StateAwaitNodeInfo: "await_node_info",
		StateConnected:     "connected",
		StateDestroying:    "destroying",
		ConState(99):       "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
