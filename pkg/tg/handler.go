// Package tg owns all cross-client talkgroup state: membership,
// talker arbitration with squelch timeout, and the post-timeout block
// list. A single Handler instance is shared by the reflector core.
package tg

import (
	"sync"
	"time"

	"github.com/svxgo/svxreflector/pkg/logger"
)

// Client is the view of a connected node the handler needs. The
// reflector's client type implements it; identity is the client id.
type Client interface {
	ClientID() uint32
	Callsign() string
}

// UpdateFunc observes talker changes. old or new may be nil but never
// both. The callback runs synchronously on the mutating call, after
// the handler's own state is consistent.
type UpdateFunc func(tg uint32, oldTalker, newTalker Client)

type talkgroup struct {
	members      map[uint32]Client
	talker       Client
	lastActivity time.Time
}

// Handler manages talkgroup membership and talker arbitration
type Handler struct {
	log *logger.Logger

	mu            sync.Mutex
	tgs           map[uint32]*talkgroup
	clientTG      map[uint32]uint32    // client id -> current TG
	blocked       map[uint32]time.Time // client id -> block expiry
	sqlTimeout    time.Duration
	sqlBlocktime  time.Duration
	talkerUpdated UpdateFunc
}

// NewHandler creates a talkgroup handler
func NewHandler(log *logger.Logger) *Handler {
	return &Handler{
		log:          log.WithComponent("tg"),
		tgs:          make(map[uint32]*talkgroup),
		clientTG:     make(map[uint32]uint32),
		blocked:      make(map[uint32]time.Time),
		sqlBlocktime: 60 * time.Second,
	}
}

// SetTalkerUpdatedFunc installs the talker change observer
func (h *Handler) SetTalkerUpdatedFunc(f UpdateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.talkerUpdated = f
}

// SetSqlTimeout sets the maximum talker silence. Zero disables the
// squelch timeout entirely.
func (h *Handler) SetSqlTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sqlTimeout = d
}

// SetSqlTimeoutBlocktime sets how long a timed-out talker stays blocked
func (h *Handler) SetSqlTimeoutBlocktime(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sqlBlocktime = d
}

// event is a deferred talkerUpdated notification
type event struct {
	tg       uint32
	old, new Client
}

func (h *Handler) emit(events []event) {
	for _, e := range events {
		if h.talkerUpdated != nil {
			h.talkerUpdated(e.tg, e.old, e.new)
		}
	}
}

// Join moves the client to the given talkgroup. The client leaves its
// current TG first; if it was that TG's talker the talker is cleared.
// tg 0 means leave only.
func (h *Handler) Join(c Client, tg uint32) {
	h.mu.Lock()
	events := h.leaveLocked(c)

	if tg > 0 {
		g, ok := h.tgs[tg]
		if !ok {
			g = &talkgroup{members: make(map[uint32]Client)}
			h.tgs[tg] = g
		}
		g.members[c.ClientID()] = c
		h.clientTG[c.ClientID()] = tg
	}
	h.mu.Unlock()

	h.emit(events)
}

// Leave removes the client from its current talkgroup
func (h *Handler) Leave(c Client) {
	h.mu.Lock()
	events := h.leaveLocked(c)
	h.mu.Unlock()

	h.emit(events)
}

// RemoveClient withdraws the client entirely, including its block
// list entry. Called on disconnect.
func (h *Handler) RemoveClient(c Client) {
	h.mu.Lock()
	events := h.leaveLocked(c)
	delete(h.blocked, c.ClientID())
	h.mu.Unlock()

	h.emit(events)
}

// leaveLocked removes the client from its TG and returns any deferred
// talker events. Caller holds h.mu.
func (h *Handler) leaveLocked(c Client) []event {
	tg, ok := h.clientTG[c.ClientID()]
	if !ok {
		return nil
	}
	delete(h.clientTG, c.ClientID())

	g := h.tgs[tg]
	if g == nil {
		return nil
	}
	delete(g.members, c.ClientID())

	var events []event
	if g.talker != nil && g.talker.ClientID() == c.ClientID() {
		g.talker = nil
		events = append(events, event{tg: tg, old: c})
	}
	if len(g.members) == 0 {
		delete(h.tgs, tg)
	}
	return events
}

// TGForClient returns the client's current talkgroup, 0 for none
func (h *Handler) TGForClient(c Client) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientTG[c.ClientID()]
}

// ClientsForTG returns the members of a talkgroup
func (h *Handler) ClientsForTG(tg uint32) []Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.tgs[tg]
	if g == nil {
		return nil
	}
	members := make([]Client, 0, len(g.members))
	for _, c := range g.members {
		members = append(members, c)
	}
	return members
}

// TalkerForTG returns the current talker, nil for none
func (h *Handler) TalkerForTG(tg uint32) Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g := h.tgs[tg]; g != nil {
		return g.talker
	}
	return nil
}

// SetTalkerForTG is the talker arbitration entry point.
//
// Rules: setting the current talker again refreshes its activity
// timestamp; setting a member of the TG while the slot is free
// installs it (a non-member is ignored);
// setting nil clears the slot; any other transition is refused, so the
// first acquirer holds the slot until it is cleared.
func (h *Handler) SetTalkerForTG(tg uint32, c Client) {
	h.mu.Lock()

	g := h.tgs[tg]
	if g == nil {
		h.mu.Unlock()
		return
	}

	var events []event
	switch {
	case c != nil && g.talker != nil && g.talker.ClientID() == c.ClientID():
		g.lastActivity = time.Now()

	case c != nil && g.talker == nil:
		if _, member := g.members[c.ClientID()]; !member {
			break
		}
		g.talker = c
		g.lastActivity = time.Now()
		events = append(events, event{tg: tg, new: c})

	case c == nil && g.talker != nil:
		old := g.talker
		g.talker = nil
		events = append(events, event{tg: tg, old: old})
	}

	h.mu.Unlock()
	h.emit(events)
}

// IsBlocked reports whether the client is on the block list
func (h *Handler) IsBlocked(c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	expiry, ok := h.blocked[c.ClientID()]
	return ok && time.Now().Before(expiry)
}

// Tick runs a single squelch timeout and block list pass. The
// reflector's 1 Hz housekeeping loop drives it under the same lock as
// all other state mutation; tests drive time directly.
func (h *Handler) Tick(now time.Time) {
	h.mu.Lock()

	var events []event
	if h.sqlTimeout > 0 {
		for tg, g := range h.tgs {
			if g.talker == nil || now.Sub(g.lastActivity) < h.sqlTimeout {
				continue
			}
			old := g.talker
			g.talker = nil
			h.blocked[old.ClientID()] = now.Add(h.sqlBlocktime)
			events = append(events, event{tg: tg, old: old})
			h.log.Info("Talker squelch timeout",
				logger.String("callsign", old.Callsign()),
				logger.Uint32("tg", tg))
		}
	}

	for id, expiry := range h.blocked {
		if !now.Before(expiry) {
			delete(h.blocked, id)
		}
	}

	h.mu.Unlock()
	h.emit(events)
}
