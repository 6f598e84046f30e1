// Package reflector implements the audio reflector core: the client
// registry, the framed control channel listener, the datagram relay
// and the broadcast primitives.
package reflector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/protocol"
	"github.com/svxgo/svxreflector/pkg/tg"
)

// Config holds the reflector core configuration
type Config struct {
	ListenPort        int    // TCP and UDP port
	AuthKey           string // Shared handshake secret
	TGForV1Clients    uint32 // TG implicitly occupied by v1 nodes
	RandomQsyLo       uint32 // Random QSY range start, 0 disables
	RandomQsySize     uint32 // Random QSY range size
	HeartbeatInterval time.Duration
}

// udpSender is the outbound half of the datagram socket. Narrowed to
// an interface so tests can capture sent datagrams.
type udpSender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Reflector owns all connected client state. A single coarse mutex
// serializes every state mutation: control frame dispatch, datagram
// dispatch and the housekeeping tick all run under it, which gives the
// ordering guarantees the protocol needs.
type Reflector struct {
	cfg       Config
	log       *logger.Logger
	tgh       *tg.Handler
	authKey   []byte
	heartbeat time.Duration

	mu            sync.Mutex
	clients       map[uint32]*Client
	clientsByConn map[net.Conn]*Client
	nextClientID  uint32
	qsy           *randomQSY

	udp     udpSender
	udpConn *net.UDPConn
	ln      net.Listener
	tasks   chan func()
	sinks   []EventSink
	started chan struct{}
}

// New creates a reflector core. The TG handler is owned by the caller
// and shared; the reflector installs itself as its talker observer.
func New(cfg Config, tgh *tg.Handler, log *logger.Logger) *Reflector {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 5300
	}
	if cfg.TGForV1Clients == 0 {
		cfg.TGForV1Clients = 1
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	log = log.WithComponent("reflector")
	r := &Reflector{
		cfg:           cfg,
		log:           log,
		tgh:           tgh,
		authKey:       []byte(cfg.AuthKey),
		heartbeat:     cfg.HeartbeatInterval,
		clients:       make(map[uint32]*Client),
		clientsByConn: make(map[net.Conn]*Client),
		qsy:           newRandomQSY(cfg.RandomQsyLo, cfg.RandomQsySize),
		tasks:         make(chan func(), 256),
		started:       make(chan struct{}),
	}
	tgh.SetTalkerUpdatedFunc(r.onTalkerUpdated)
	return r
}

// Start binds the sockets and runs the reflector until the context is
// canceled
func (r *Reflector) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	r.ln = ln

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.cfg.ListenPort})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen udp: %w", err)
	}
	r.udpConn = udpConn
	r.udp = udpConn

	close(r.started)
	r.log.Info("Reflector started",
		logger.String("tcp", ln.Addr().String()),
		logger.String("udp", udpConn.LocalAddr().String()))

	errChan := make(chan error, 3)
	go func() { errChan <- r.acceptLoop(ctx) }()
	go func() { errChan <- r.udpLoop(ctx) }()
	go func() { errChan <- r.housekeepingLoop(ctx) }()
	go r.taskLoop(ctx)

	defer func() {
		_ = ln.Close()
		_ = udpConn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// WaitStarted blocks until the sockets are bound or the context is
// canceled
func (r *Reflector) WaitStarted(ctx context.Context) error {
	select {
	case <-r.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound UDP address. Call after WaitStarted.
func (r *Reflector) Addr() (*net.UDPAddr, error) {
	if r.udpConn == nil {
		return nil, fmt.Errorf("reflector not started")
	}
	addr, ok := r.udpConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return addr, nil
}

func (r *Reflector) acceptLoop(ctx context.Context) error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		r.clientConnected(conn)
	}
}

// clientConnected registers a new session and starts its reader.
// Client ids are assigned monotonically and never reused while the
// process runs.
func (r *Reflector) clientConnected(conn net.Conn) {
	r.mu.Lock()
	r.nextClientID++
	c := newClient(r.nextClientID, conn, r, r.log)
	r.clients[c.id] = c
	r.clientsByConn[conn] = c
	r.mu.Unlock()

	r.log.Info("Client connected",
		logger.Uint32("client_id", c.id),
		logger.String("addr", conn.RemoteAddr().String()))

	if err := c.sendMsg(protocol.MsgProtoVer{Ver: protocol.ProtoVerV2}); err != nil {
		r.log.Warn("Handshake write failed", logger.Error(err))
		r.clientDisconnected(c, "write error")
		return
	}
	c.setConState(StateHandshaking)

	go r.readLoop(c)
}

func (r *Reflector) readLoop(c *Client) {
	for {
		body, err := protocol.ReadFrame(c.conn)
		if err != nil {
			r.clientDisconnected(c, "connection closed")
			return
		}

		r.mu.Lock()
		err = c.handleFrame(body)
		r.mu.Unlock()

		if err != nil {
			// Malformed control frames terminate the session
			r.log.Warn("Session error",
				logger.Uint32("client_id", c.id),
				logger.String("callsign", c.Callsign()),
				logger.Error(err))
			r.clientDisconnected(c, "protocol error")
			return
		}
	}
}

// clientDisconnected withdraws the client from all shared state and
// broadcasts the roster delta. The final teardown is deferred to the
// task queue: the call may be reached from inside iteration over
// client state, so the object must stay intact until the handlers
// unwind.
func (r *Reflector) clientDisconnected(c *Client, reason string) {
	r.mu.Lock()
	if c.ConState() == StateDestroying {
		r.mu.Unlock()
		return
	}
	c.setConState(StateDestroying)

	r.tgh.RemoveClient(c)
	delete(r.clients, c.id)
	delete(r.clientsByConn, c.conn)

	callsign := c.Callsign()
	if callsign != "" {
		r.broadcastMsg(protocol.MsgNodeLeft{Callsign: callsign}, ExceptFilter(c))
	}
	r.mu.Unlock()

	if callsign != "" {
		r.log.Info("Client disconnected",
			logger.String("callsign", callsign),
			logger.String("reason", reason))
		r.publish(Event{Kind: EventNodeLeft, Callsign: callsign})
	} else {
		r.log.Info("Client disconnected",
			logger.Uint32("client_id", c.id),
			logger.String("reason", reason))
	}

	r.runTask(func() {
		_ = c.conn.Close()
		r.log.ForgetThrottled(fmt.Sprintf("client/%d/", c.id))
	})
}

// runTask queues work for execution after the current handlers unwind
func (r *Reflector) runTask(f func()) {
	select {
	case r.tasks <- f:
	default:
		go f()
	}
}

func (r *Reflector) taskLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.tasks:
			f()
		}
	}
}

// clientAuthenticated finishes the handshake once the callsign is
// known. Caller holds r.mu.
func (r *Reflector) clientAuthenticated(c *Client) error {
	r.log.Info("Login OK",
		logger.String("callsign", c.Callsign()),
		logger.Uint32("client_id", c.id),
		logger.String("proto_ver", c.ProtoVer().String()))

	// The peer cannot address datagrams before learning its id
	if err := c.sendMsg(protocol.MsgServerInfo{ClientID: c.id, Nodes: r.nodeList()}); err != nil {
		return err
	}
	if V1Filter(c) {
		if err := c.sendMsg(protocol.MsgNodeList{Nodes: r.nodeList()}); err != nil {
			return err
		}
		// All v1 nodes implicitly occupy the configured shared TG
		r.joinTG(c, r.cfg.TGForV1Clients)
	}

	r.broadcastMsg(protocol.MsgNodeJoined{Callsign: c.Callsign()}, ExceptFilter(c))
	r.publish(Event{Kind: EventNodeJoined, Callsign: c.Callsign()})
	return nil
}

// nodeList returns the callsigns of all named clients. Caller holds
// r.mu.
func (r *Reflector) nodeList() []string {
	nodes := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		if cs := c.Callsign(); cs != "" {
			nodes = append(nodes, cs)
		}
	}
	return nodes
}

// selectTG handles a MsgSelectTG. Caller holds r.mu.
func (r *Reflector) selectTG(c *Client, tgid uint32) {
	r.log.Info("Selected TG",
		logger.String("callsign", c.Callsign()),
		logger.Uint32("tg", tgid))
	r.joinTG(c, tgid)
}

func (r *Reflector) joinTG(c *Client, tgid uint32) {
	r.tgh.Join(c, tgid)
	c.setCurrentTG(tgid)
}

// requestQsy suggests a TG change to everyone on the requester's
// current TG. TG 0 asks for a random unoccupied one. Caller holds
// r.mu.
func (r *Reflector) requestQsy(c *Client, tgid uint32) {
	if tgid == 0 {
		if !r.qsy.enabled() {
			r.log.Warn("QSY request for random TG received but RANDOM_QSY_RANGE is empty",
				logger.String("callsign", c.Callsign()))
			return
		}
		var ok bool
		tgid, ok = r.qsy.next(func(t uint32) bool {
			return len(r.tgh.ClientsForTG(t)) == 0
		})
		if !ok {
			r.log.Warn("No random TG available for QSY")
			return
		}
	}

	currentTG := r.tgh.TGForClient(c)
	r.log.Info("Requesting QSY",
		logger.String("callsign", c.Callsign()),
		logger.Uint32("from_tg", currentTG),
		logger.Uint32("to_tg", tgid))

	r.broadcastMsg(protocol.MsgRequestQsy{TG: tgid},
		And(V2Filter, TgFilter(currentTG)))
}

// onTalkerUpdated reacts to talker changes from the TG handler. It is
// invoked synchronously from the mutating call, so r.mu is held by
// the caller of that mutation.
func (r *Reflector) onTalkerUpdated(tgid uint32, oldTalker, newTalker tg.Client) {
	if oldTalker != nil {
		oc := oldTalker.(*Client)
		r.log.Info("Talker stop",
			logger.String("callsign", oc.Callsign()),
			logger.Uint32("tg", tgid))

		r.broadcastMsg(protocol.MsgTalkerStop{TG: tgid, Callsign: oc.Callsign()},
			And(V2Filter, Or(TgFilter(tgid), TgMonitorFilter(tgid))))
		if tgid == r.cfg.TGForV1Clients {
			r.broadcastMsg(protocol.MsgTalkerStopV1{Callsign: oc.Callsign()}, V1Filter)
		}
		r.broadcastUdpMsg(protocol.MsgUdpFlushSamples{},
			And(TgFilter(tgid), ExceptFilter(oc)))

		r.publish(Event{Kind: EventTalkerStop, Callsign: oc.Callsign(), TG: tgid})
	}
	if newTalker != nil {
		nc := newTalker.(*Client)
		r.log.Info("Talker start",
			logger.String("callsign", nc.Callsign()),
			logger.Uint32("tg", tgid))

		r.broadcastMsg(protocol.MsgTalkerStart{TG: tgid, Callsign: nc.Callsign()},
			And(V2Filter, Or(TgFilter(tgid), TgMonitorFilter(tgid))))
		if tgid == r.cfg.TGForV1Clients {
			r.broadcastMsg(protocol.MsgTalkerStartV1{Callsign: nc.Callsign()}, V1Filter)
		}

		r.publish(Event{Kind: EventTalkerStart, Callsign: nc.Callsign(), TG: tgid})
	}
}

// broadcastMsg sends a control message to every fully connected client
// the filter matches. Caller holds r.mu.
func (r *Reflector) broadcastMsg(msg protocol.ControlMsg, f Filter) {
	for _, c := range r.clients {
		if c.ConState() != StateConnected || !f(c) {
			continue
		}
		if err := c.sendMsg(msg); err != nil {
			r.log.Warn("Broadcast write failed",
				logger.String("callsign", c.Callsign()),
				logger.Error(err))
			cc := c
			r.runTask(func() { r.clientDisconnected(cc, "write error") })
		}
	}
}

// broadcastUdpMsg sends a datagram to every matching client with a
// known UDP port. Caller holds r.mu.
func (r *Reflector) broadcastUdpMsg(msg protocol.UdpMsg, f Filter) {
	for _, c := range r.clients {
		if c.ConState() != StateConnected || c.RemoteUdpPort() == 0 || !f(c) {
			continue
		}
		r.sendUdpMsg(c, msg)
	}
}

// sendUdpMsg writes one datagram to a client, assigning the next
// outbound sequence number
func (r *Reflector) sendUdpMsg(c *Client, msg protocol.UdpMsg) {
	if r.udp == nil || c.RemoteUdpPort() == 0 {
		return
	}
	data := protocol.EncodeUdp(msg, c.takeUdpTxSeq(), c.id)
	if _, err := r.udp.WriteToUDP(data, udpAddrOf(c)); err != nil {
		r.log.Warn("UDP write failed",
			logger.String("callsign", c.Callsign()),
			logger.Error(err))
	}
}

// housekeepingLoop drives the 1 Hz tick: squelch timeouts, control
// and datagram heartbeats, and the idle timeout
func (r *Reflector) housekeepingLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

// tick runs one housekeeping pass. Exposed to tests via the clock
// argument.
func (r *Reflector) tick(now time.Time) {
	r.mu.Lock()
	r.tgh.Tick(now)

	var stale []*Client
	for _, c := range r.clients {
		if now.Sub(c.lastHeardTime()) > 3*r.heartbeat {
			stale = append(stale, c)
			continue
		}
		if c.heartbeatDue(now, r.heartbeat) {
			if err := c.sendMsg(protocol.MsgHeartbeat{}); err != nil {
				stale = append(stale, c)
				continue
			}
			if c.ConState() == StateConnected && c.RemoteUdpPort() != 0 {
				r.sendUdpMsg(c, protocol.MsgUdpHeartbeat{})
			}
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		r.clientDisconnected(c, "idle timeout")
	}
}
