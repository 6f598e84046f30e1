package reflector

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/protocol"
)

// ConState represents the state of a client session
type ConState int

const (
	StateConnecting ConState = iota
	StateHandshaking
	StateAwaitAuthResp
	StateAwaitNodeInfo
	StateConnected
	StateDestroying
)

// String returns the string representation of the session state
func (s ConState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitAuthResp:
		return "await_auth_resp"
	case StateAwaitNodeInfo:
		return "await_node_info"
	case StateConnected:
		return "connected"
	case StateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// Client represents a connected node and its session state machine.
// All handshake and dispatch logic runs on the reflector's lock; the
// accessor methods take the client's own lock so broadcasts and the
// status endpoint can read concurrently.
type Client struct {
	id        uint32
	conn      net.Conn
	reflector *Reflector
	log       *logger.Logger

	mu            sync.RWMutex
	state         ConState
	protoVer      protocol.ProtoVer
	callsign      string
	remoteHost    net.IP
	remoteUdpPort uint16
	currentTG     uint32
	monitoredTGs  map[uint32]struct{}
	challenge     []byte
	nextUdpTxSeq  uint16
	nextUdpRxSeq  uint16
	lastHeard     time.Time
	lastHeartbeat time.Time

	writeMu sync.Mutex
}

func newClient(id uint32, conn net.Conn, r *Reflector, log *logger.Logger) *Client {
	host := net.IP{}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		host = tcpAddr.IP
	}
	return &Client{
		id:           id,
		conn:         conn,
		reflector:    r,
		log:          log,
		state:        StateConnecting,
		remoteHost:   host,
		monitoredTGs: make(map[uint32]struct{}),
		lastHeard:    time.Now(),
	}
}

// ClientID returns the process-unique client id
func (c *Client) ClientID() uint32 { return c.id }

// Callsign returns the node's callsign, empty until authenticated
func (c *Client) Callsign() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callsign
}

// ProtoVer returns the negotiated protocol version
func (c *Client) ProtoVer() protocol.ProtoVer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protoVer
}

// ConState returns the current session state
func (c *Client) ConState() ConState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setConState(s ConState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// RemoteHost returns the control channel remote IP
func (c *Client) RemoteHost() net.IP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteHost
}

// RemoteUdpPort returns the learned UDP port, 0 until the first
// datagram arrives
func (c *Client) RemoteUdpPort() uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteUdpPort
}

func (c *Client) setRemoteUdpPort(port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteUdpPort = port
}

// CurrentTG returns the client's current talkgroup, 0 for none
func (c *Client) CurrentTG() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTG
}

func (c *Client) setCurrentTG(tg uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTG = tg
}

// Monitors reports whether the client monitors the given talkgroup
func (c *Client) Monitors(tg uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.monitoredTGs[tg]
	return ok
}

// MonitoredTGs returns a copy of the monitored talkgroup set
func (c *Client) MonitoredTGs() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tgs := make([]uint32, 0, len(c.monitoredTGs))
	for tg := range c.monitoredTGs {
		tgs = append(tgs, tg)
	}
	return tgs
}

func (c *Client) setMonitoredTGs(tgs []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitoredTGs = make(map[uint32]struct{}, len(tgs))
	for _, tg := range tgs {
		c.monitoredTGs[tg] = struct{}{}
	}
}

// takeUdpTxSeq returns the next outbound sequence number. Sequence
// numbers are assigned in strict send order; callers must hold the
// number only for the datagram written next.
func (c *Client) takeUdpTxSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.nextUdpTxSeq
	c.nextUdpTxSeq++
	return seq
}

// checkUdpRxSeq applies the inbound sequence window. The diff is
// interpreted as signed 16-bit: past frames are dropped, gaps are
// accepted with the number of lost frames reported.
func (c *Client) checkUdpRxSeq(seq uint16) (accept bool, lost uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	diff := seq - c.nextUdpRxSeq
	if diff > 0x7fff {
		return false, 0
	}
	c.nextUdpRxSeq = seq + 1
	return true, diff
}

// UpdateLastHeard records inbound traffic for the liveness timer
func (c *Client) UpdateLastHeard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeard = time.Now()
}

func (c *Client) lastHeardTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeard
}

func (c *Client) heartbeatDue(now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastHeartbeat) < interval {
		return false
	}
	c.lastHeartbeat = now
	return true
}

// sendMsg writes one control message as a frame. Write errors tear the
// session down via the reflector.
func (c *Client) sendMsg(msg protocol.ControlMsg) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFrame(c.conn, msg.Encode()); err != nil {
		return fmt.Errorf("send to client %d: %w", c.id, err)
	}
	return nil
}

// handleFrame dispatches one inbound control frame according to the
// session state. Returns an error when the session must end; the
// caller is responsible for the actual teardown.
func (c *Client) handleFrame(body []byte) error {
	typ, ok := protocol.ControlType(body)
	if !ok {
		return fmt.Errorf("frame without type tag")
	}

	c.UpdateLastHeard()

	// Heartbeats are valid in every state
	if typ == protocol.TypeHeartbeat {
		return nil
	}

	switch c.ConState() {
	case StateHandshaking:
		return c.handleHandshaking(typ, body)
	case StateAwaitAuthResp:
		return c.handleAwaitAuthResp(typ, body)
	case StateAwaitNodeInfo:
		return c.handleAwaitNodeInfo(typ, body)
	case StateConnected:
		return c.handleConnected(typ, body)
	default:
		return fmt.Errorf("frame type %d in state %s", typ, c.ConState())
	}
}

func (c *Client) handleHandshaking(typ uint16, body []byte) error {
	if typ != protocol.TypeProtoVer {
		return fmt.Errorf("expected MsgProtoVer, got type %d", typ)
	}

	msg, err := protocol.ParseProtoVer(body)
	if err != nil {
		return err
	}
	if msg.Ver.MajorVer < protocol.ProtoVerV1.MajorVer ||
		msg.Ver.MajorVer > protocol.ProtoVerV2.MajorVer {
		c.sendError("Protocol version not supported")
		return fmt.Errorf("unsupported protocol version %s", msg.Ver)
	}

	c.mu.Lock()
	c.protoVer = msg.Ver
	c.mu.Unlock()

	challenge, err := protocol.GenerateChallenge()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.challenge = challenge
	c.mu.Unlock()

	c.setConState(StateAwaitAuthResp)
	return c.sendMsg(protocol.MsgAuthChallenge{Challenge: challenge})
}

func (c *Client) handleAwaitAuthResp(typ uint16, body []byte) error {
	if typ != protocol.TypeAuthResponse {
		return fmt.Errorf("expected MsgAuthResponse, got type %d", typ)
	}

	msg, err := protocol.ParseAuthResponse(body)
	if err != nil {
		return err
	}

	c.mu.RLock()
	challenge := c.challenge
	c.mu.RUnlock()

	if !protocol.VerifyDigest(c.reflector.authKey, challenge, msg.Digest) {
		c.sendError("Auth failed")
		return fmt.Errorf("auth failed")
	}

	c.setConState(StateAwaitNodeInfo)
	return c.sendMsg(protocol.MsgAuthOk{})
}

func (c *Client) handleAwaitNodeInfo(typ uint16, body []byte) error {
	if typ != protocol.TypeNodeInfo {
		return fmt.Errorf("expected MsgNodeInfo, got type %d", typ)
	}

	msg, err := protocol.ParseNodeInfo(body)
	if err != nil {
		return err
	}
	if msg.Callsign == "" {
		c.sendError("Empty callsign")
		return fmt.Errorf("empty callsign")
	}

	c.mu.Lock()
	c.callsign = msg.Callsign
	c.state = StateConnected
	c.mu.Unlock()

	return c.reflector.clientAuthenticated(c)
}

func (c *Client) handleConnected(typ uint16, body []byte) error {
	switch typ {
	case protocol.TypeSelectTG:
		msg, err := protocol.ParseSelectTG(body)
		if err != nil {
			return err
		}
		c.reflector.selectTG(c, msg.TG)
		return nil

	case protocol.TypeTgMonitor:
		msg, err := protocol.ParseTgMonitor(body)
		if err != nil {
			return err
		}
		c.setMonitoredTGs(msg.TGs)
		return nil

	case protocol.TypeRequestQsy:
		msg, err := protocol.ParseRequestQsy(body)
		if err != nil {
			return err
		}
		c.reflector.requestQsy(c, msg.TG)
		return nil

	default:
		// Unknown control messages in the connected state are ignored
		// so newer peers can talk to older reflectors
		c.log.Debug("Ignoring control message",
			logger.Uint16("type", typ),
			logger.String("callsign", c.Callsign()))
		return nil
	}
}

// sendError sends a terminal MsgError; the session ends right after,
// so the write error only gets logged
func (c *Client) sendError(message string) {
	if err := c.sendMsg(protocol.MsgError{Message: message}); err != nil {
		c.log.Debug("Failed to send error message", logger.Error(err))
	}
}
