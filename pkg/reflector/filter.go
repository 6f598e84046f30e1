package reflector

import "github.com/svxgo/svxreflector/pkg/protocol"

// Filter is a pure predicate over client state used to target
// broadcasts at subsets of the connected clients
type Filter func(*Client) bool

// TgFilter matches clients whose current talkgroup equals tg
func TgFilter(tg uint32) Filter {
	return func(c *Client) bool {
		return c.CurrentTG() == tg
	}
}

// TgMonitorFilter matches clients that monitor tg
func TgMonitorFilter(tg uint32) Filter {
	return func(c *Client) bool {
		return c.Monitors(tg)
	}
}

// ExceptFilter matches every client but the given one
func ExceptFilter(except *Client) Filter {
	return func(c *Client) bool {
		return c != except
	}
}

// ProtoVerRangeFilter matches clients whose negotiated protocol
// version lies in [lo, hi]
func ProtoVerRangeFilter(lo, hi protocol.ProtoVer) Filter {
	return func(c *Client) bool {
		v := c.ProtoVer()
		return v.Compare(lo) >= 0 && v.Compare(hi) <= 0
	}
}

// The two protocol generations partition the live clients
var (
	V1Filter = ProtoVerRangeFilter(
		protocol.ProtoVer{MajorVer: 1, MinorVer: 0},
		protocol.ProtoVer{MajorVer: 1, MinorVer: 999})
	V2Filter = ProtoVerRangeFilter(
		protocol.ProtoVer{MajorVer: 2, MinorVer: 0},
		protocol.ProtoVer{MajorVer: 2, MinorVer: 999})
)

// And matches when both filters match. Evaluation short-circuits.
func And(a, b Filter) Filter {
	return func(c *Client) bool {
		return a(c) && b(c)
	}
}

// Or matches when either filter matches. Evaluation short-circuits.
func Or(a, b Filter) Filter {
	return func(c *Client) bool {
		return a(c) || b(c)
	}
}

// Not inverts a filter
func Not(a Filter) Filter {
	return func(c *Client) bool {
		return !a(c)
	}
}
