package reflector

import (
	"net"
	"time"

	"github.com/svxgo/svxreflector/pkg/protocol"
	"github.com/svxgo/svxreflector/pkg/tg"
)

// EventKind classifies reflector events published to sinks
type EventKind string

const (
	EventNodeJoined  EventKind = "node_joined"
	EventNodeLeft    EventKind = "node_left"
	EventTalkerStart EventKind = "talker_start"
	EventTalkerStop  EventKind = "talker_stop"
)

// Event is a reflector state change published to registered sinks
type Event struct {
	Kind     EventKind `json:"kind"`
	Callsign string    `json:"callsign"`
	TG       uint32    `json:"tg,omitempty"`
	Time     time.Time `json:"time"`
}

// EventSink consumes reflector events. Publish must not block: sinks
// that fall behind drop events, never the relay path.
type EventSink interface {
	Publish(Event)
}

// AddEventSink registers a sink. Call before Start.
func (r *Reflector) AddEventSink(s EventSink) {
	r.sinks = append(r.sinks, s)
}

func (r *Reflector) publish(e Event) {
	e.Time = time.Now()
	for _, s := range r.sinks {
		s.Publish(e)
	}
}

// NodeStatus describes one connected node for the status endpoint
type NodeStatus struct {
	Callsign     string            `json:"callsign"`
	Addr         string            `json:"addr"`
	ProtoVer     protocol.ProtoVer `json:"protoVer"`
	TG           uint32            `json:"tg"`
	MonitoredTGs []uint32          `json:"monitoredTGs"`
	IsTalker     bool              `json:"isTalker"`
}

// Status returns a snapshot of all fully connected nodes
func (r *Reflector) Status() []NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]NodeStatus, 0, len(r.clients))
	for _, c := range r.clients {
		if c.ConState() != StateConnected {
			continue
		}
		cur := c.CurrentTG()
		nodes = append(nodes, NodeStatus{
			Callsign:     c.Callsign(),
			Addr:         c.RemoteHost().String(),
			ProtoVer:     c.ProtoVer(),
			TG:           cur,
			MonitoredTGs: c.MonitoredTGs(),
			IsTalker:     cur > 0 && r.tgh.TalkerForTG(cur) == tg.Client(c),
		})
	}
	return nodes
}

// udpAddrOf builds the datagram destination for a client
func udpAddrOf(c *Client) *net.UDPAddr {
	return &net.UDPAddr{IP: c.RemoteHost(), Port: int(c.RemoteUdpPort())}
}
