package reflector

import (
	"testing"

	"github.com/svxgo/svxreflector/pkg/protocol"
)

func filterClient(ver protocol.ProtoVer, currentTG uint32, monitored ...uint32) *Client {
	c := &Client{
		protoVer:     ver,
		currentTG:    currentTG,
		monitoredTGs: make(map[uint32]struct{}),
	}
	for _, tgid := range monitored {
		c.monitoredTGs[tgid] = struct{}{}
	}
	return c
}

func TestTgFilter(t *testing.T) {
	c := filterClient(protocol.ProtoVerV2, 42, 7)

	if !TgFilter(42)(c) {
		t.Error("TgFilter should match the current TG")
	}
	if TgFilter(7)(c) {
		t.Error("TgFilter must not match a merely monitored TG")
	}
	if TgFilter(99)(c) {
		t.Error("TgFilter matched an unrelated TG")
	}
}

func TestTgMonitorFilter(t *testing.T) {
	c := filterClient(protocol.ProtoVerV2, 42, 7)

	if !TgMonitorFilter(7)(c) {
		t.Error("TgMonitorFilter should match a monitored TG")
	}
	if TgMonitorFilter(42)(c) {
		t.Error("TgMonitorFilter must not match the current TG")
	}
}

func TestExceptFilter(t *testing.T) {
	a := filterClient(protocol.ProtoVerV2, 0)
	b := filterClient(protocol.ProtoVerV2, 0)

	f := ExceptFilter(a)
	if f(a) {
		t.Error("ExceptFilter matched the excluded client")
	}
	if !f(b) {
		t.Error("ExceptFilter should match other clients")
	}
}

func TestProtoVerPartition(t *testing.T) {
	tests := []struct {
		name   string
		ver    protocol.ProtoVer
		wantV1 bool
		wantV2 bool
	}{
		{name: "v1.0", ver: protocol.ProtoVer{MajorVer: 1, MinorVer: 0}, wantV1: true},
		{name: "v1.999", ver: protocol.ProtoVer{MajorVer: 1, MinorVer: 999}, wantV1: true},
		{name: "v2.0", ver: protocol.ProtoVer{MajorVer: 2, MinorVer: 0}, wantV2: true},
		{name: "v2.5", ver: protocol.ProtoVer{MajorVer: 2, MinorVer: 5}, wantV2: true},
		{name: "v3.0", ver: protocol.ProtoVer{MajorVer: 3, MinorVer: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := filterClient(tt.ver, 0)
			if got := V1Filter(c); got != tt.wantV1 {
				t.Errorf("V1Filter = %v, want %v", got, tt.wantV1)
			}
			if got := V2Filter(c); got != tt.wantV2 {
				t.Errorf("V2Filter = %v, want %v", got, tt.wantV2)
			}
		})
	}
}

func TestCombinators(t *testing.T) {
	c := filterClient(protocol.ProtoVerV2, 42, 7)

	yes := func(*Client) bool { return true }
	no := func(*Client) bool { return false }

	if !And(yes, yes)(c) || And(yes, no)(c) || And(no, yes)(c) {
		t.Error("And truth table broken")
	}
	if !Or(no, yes)(c) || !Or(yes, no)(c) || Or(no, no)(c) {
		t.Error("Or truth table broken")
	}
	if Not(yes)(c) || !Not(no)(c) {
		t.Error("Not broken")
	}
}

func TestCombinatorsShortCircuit(t *testing.T) {
	c := filterClient(protocol.ProtoVerV2, 0)

	bomb := func(*Client) bool {
		t.Fatal("second operand evaluated")
		return false
	}

	if And(func(*Client) bool { return false }, bomb)(c) {
		t.Error("And(false, _) = true")
	}
	if !Or(func(*Client) bool { return true }, bomb)(c) {
		t.Error("Or(true, _) = false")
	}
}
