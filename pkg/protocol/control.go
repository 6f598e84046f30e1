package protocol

import "fmt"

// ControlMsg is any message that travels over the framed control channel
type ControlMsg interface {
	ControlType() uint16
	Encode() []byte
}

// expectType consumes and validates the leading type tag of a body
func expectType(c *Cursor, want uint16) error {
	got, err := c.Uint16()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: type tag %d, expected %d", ErrMalformed, got, want)
	}
	return nil
}

// MsgHeartbeat is the control channel liveness message
type MsgHeartbeat struct{}

func (MsgHeartbeat) ControlType() uint16 { return TypeHeartbeat }

func (MsgHeartbeat) Encode() []byte {
	return appendUint16(make([]byte, 0, 2), TypeHeartbeat)
}

// MsgProtoVer announces the sender's protocol capability. The server
// sends its own on accept; the client answers with the version it wants
// to speak.
type MsgProtoVer struct {
	Ver ProtoVer
}

func (MsgProtoVer) ControlType() uint16 { return TypeProtoVer }

func (m MsgProtoVer) Encode() []byte {
	b := appendUint16(make([]byte, 0, 6), TypeProtoVer)
	b = appendUint16(b, m.Ver.MajorVer)
	return appendUint16(b, m.Ver.MinorVer)
}

// ParseProtoVer parses a MsgProtoVer frame body
func ParseProtoVer(body []byte) (*MsgProtoVer, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeProtoVer); err != nil {
		return nil, err
	}
	var m MsgProtoVer
	var err error
	if m.Ver.MajorVer, err = c.Uint16(); err != nil {
		return nil, err
	}
	if m.Ver.MinorVer, err = c.Uint16(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MsgAuthChallenge carries the random handshake nonce
type MsgAuthChallenge struct {
	Challenge []byte
}

func (MsgAuthChallenge) ControlType() uint16 { return TypeAuthChallenge }

func (m MsgAuthChallenge) Encode() []byte {
	b := appendUint16(make([]byte, 0, 4+len(m.Challenge)), TypeAuthChallenge)
	return appendBytes(b, m.Challenge)
}

// ParseAuthChallenge parses a MsgAuthChallenge frame body
func ParseAuthChallenge(body []byte) (*MsgAuthChallenge, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeAuthChallenge); err != nil {
		return nil, err
	}
	challenge, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	if len(challenge) != ChallengeLength {
		return nil, fmt.Errorf("%w: challenge length %d", ErrMalformed, len(challenge))
	}
	return &MsgAuthChallenge{Challenge: challenge}, nil
}

// MsgAuthResponse carries the HMAC of the challenge nonce
type MsgAuthResponse struct {
	Digest []byte
}

func (MsgAuthResponse) ControlType() uint16 { return TypeAuthResponse }

func (m MsgAuthResponse) Encode() []byte {
	b := appendUint16(make([]byte, 0, 4+len(m.Digest)), TypeAuthResponse)
	return appendBytes(b, m.Digest)
}

// ParseAuthResponse parses a MsgAuthResponse frame body
func ParseAuthResponse(body []byte) (*MsgAuthResponse, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeAuthResponse); err != nil {
		return nil, err
	}
	digest, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	if len(digest) != DigestLength {
		return nil, fmt.Errorf("%w: digest length %d", ErrMalformed, len(digest))
	}
	return &MsgAuthResponse{Digest: digest}, nil
}

// MsgAuthOk is the terminal positive handshake result
type MsgAuthOk struct{}

func (MsgAuthOk) ControlType() uint16 { return TypeAuthOk }

func (MsgAuthOk) Encode() []byte {
	return appendUint16(make([]byte, 0, 2), TypeAuthOk)
}

// MsgError carries a terminal error before disconnect
type MsgError struct {
	Message string
}

func (MsgError) ControlType() uint16 { return TypeError }

func (m MsgError) Encode() []byte {
	b := appendUint16(make([]byte, 0, 4+len(m.Message)), TypeError)
	return appendString(b, m.Message)
}

// ParseError parses a MsgError frame body
func ParseError(body []byte) (*MsgError, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeError); err != nil {
		return nil, err
	}
	msg, err := c.String()
	if err != nil {
		return nil, err
	}
	return &MsgError{Message: msg}, nil
}

// MsgServerInfo tells an authenticated client of either protocol
// generation its assigned id and the current roster. The client cannot address datagrams before learning the id.
type MsgServerInfo struct {
	ClientID uint32
	Nodes    []string
}

func (MsgServerInfo) ControlType() uint16 { return TypeServerInfo }

func (m MsgServerInfo) Encode() []byte {
	b := appendUint16(make([]byte, 0, 8+16*len(m.Nodes)), TypeServerInfo)
	b = appendUint32(b, m.ClientID)
	return appendStringSet(b, m.Nodes)
}

// ParseServerInfo parses a MsgServerInfo frame body
func ParseServerInfo(body []byte) (*MsgServerInfo, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeServerInfo); err != nil {
		return nil, err
	}
	var m MsgServerInfo
	var err error
	if m.ClientID, err = c.Uint32(); err != nil {
		return nil, err
	}
	if m.Nodes, err = c.StringSet(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MsgNodeList is the v1 roster announcement
type MsgNodeList struct {
	Nodes []string
}

func (MsgNodeList) ControlType() uint16 { return TypeNodeList }

func (m MsgNodeList) Encode() []byte {
	b := appendUint16(make([]byte, 0, 4+16*len(m.Nodes)), TypeNodeList)
	return appendStringSet(b, m.Nodes)
}

// ParseNodeList parses a MsgNodeList frame body
func ParseNodeList(body []byte) (*MsgNodeList, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeNodeList); err != nil {
		return nil, err
	}
	nodes, err := c.StringSet()
	if err != nil {
		return nil, err
	}
	return &MsgNodeList{Nodes: nodes}, nil
}

// encodeCallsignMsg and parseCallsignMsg handle the shared shape of the
// roster delta, node info and v1 talker event messages: a type tag and
// one callsign.
func encodeCallsignMsg(typ uint16, callsign string) []byte {
	b := appendUint16(make([]byte, 0, 4+len(callsign)), typ)
	return appendString(b, callsign)
}

func parseCallsignMsg(body []byte, typ uint16) (string, error) {
	c := NewCursor(body)
	if err := expectType(c, typ); err != nil {
		return "", err
	}
	return c.String()
}

// MsgNodeJoined announces a new roster member
type MsgNodeJoined struct {
	Callsign string
}

func (MsgNodeJoined) ControlType() uint16 { return TypeNodeJoined }

func (m MsgNodeJoined) Encode() []byte {
	return encodeCallsignMsg(TypeNodeJoined, m.Callsign)
}

// ParseNodeJoined parses a MsgNodeJoined frame body
func ParseNodeJoined(body []byte) (*MsgNodeJoined, error) {
	cs, err := parseCallsignMsg(body, TypeNodeJoined)
	if err != nil {
		return nil, err
	}
	return &MsgNodeJoined{Callsign: cs}, nil
}

// MsgNodeLeft announces a departed roster member
type MsgNodeLeft struct {
	Callsign string
}

func (MsgNodeLeft) ControlType() uint16 { return TypeNodeLeft }

func (m MsgNodeLeft) Encode() []byte {
	return encodeCallsignMsg(TypeNodeLeft, m.Callsign)
}

// ParseNodeLeft parses a MsgNodeLeft frame body
func ParseNodeLeft(body []byte) (*MsgNodeLeft, error) {
	cs, err := parseCallsignMsg(body, TypeNodeLeft)
	if err != nil {
		return nil, err
	}
	return &MsgNodeLeft{Callsign: cs}, nil
}

// encodeTalkerMsg and parseTalkerMsg handle the shared shape of the v2
// talker events: type tag, talkgroup and callsign.
func encodeTalkerMsg(typ uint16, tg uint32, callsign string) []byte {
	b := appendUint16(make([]byte, 0, 8+len(callsign)), typ)
	b = appendUint32(b, tg)
	return appendString(b, callsign)
}

func parseTalkerMsg(body []byte, typ uint16) (uint32, string, error) {
	c := NewCursor(body)
	if err := expectType(c, typ); err != nil {
		return 0, "", err
	}
	tg, err := c.Uint32()
	if err != nil {
		return 0, "", err
	}
	cs, err := c.String()
	if err != nil {
		return 0, "", err
	}
	return tg, cs, nil
}

// MsgTalkerStart announces a new talker on a talkgroup (v2)
type MsgTalkerStart struct {
	TG       uint32
	Callsign string
}

func (MsgTalkerStart) ControlType() uint16 { return TypeTalkerStart }

func (m MsgTalkerStart) Encode() []byte {
	return encodeTalkerMsg(TypeTalkerStart, m.TG, m.Callsign)
}

// ParseTalkerStart parses a MsgTalkerStart frame body
func ParseTalkerStart(body []byte) (*MsgTalkerStart, error) {
	tg, cs, err := parseTalkerMsg(body, TypeTalkerStart)
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStart{TG: tg, Callsign: cs}, nil
}

// MsgTalkerStop announces a cleared talker on a talkgroup (v2)
type MsgTalkerStop struct {
	TG       uint32
	Callsign string
}

func (MsgTalkerStop) ControlType() uint16 { return TypeTalkerStop }

func (m MsgTalkerStop) Encode() []byte {
	return encodeTalkerMsg(TypeTalkerStop, m.TG, m.Callsign)
}

// ParseTalkerStop parses a MsgTalkerStop frame body
func ParseTalkerStop(body []byte) (*MsgTalkerStop, error) {
	tg, cs, err := parseTalkerMsg(body, TypeTalkerStop)
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStop{TG: tg, Callsign: cs}, nil
}

// MsgTalkerStartV1 is the talker start event for v1 peers, which have
// no talkgroup concept on the wire
type MsgTalkerStartV1 struct {
	Callsign string
}

func (MsgTalkerStartV1) ControlType() uint16 { return TypeTalkerStartV1 }

func (m MsgTalkerStartV1) Encode() []byte {
	return encodeCallsignMsg(TypeTalkerStartV1, m.Callsign)
}

// ParseTalkerStartV1 parses a MsgTalkerStartV1 frame body
func ParseTalkerStartV1(body []byte) (*MsgTalkerStartV1, error) {
	cs, err := parseCallsignMsg(body, TypeTalkerStartV1)
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStartV1{Callsign: cs}, nil
}

// MsgTalkerStopV1 is the talker stop event for v1 peers
type MsgTalkerStopV1 struct {
	Callsign string
}

func (MsgTalkerStopV1) ControlType() uint16 { return TypeTalkerStopV1 }

func (m MsgTalkerStopV1) Encode() []byte {
	return encodeCallsignMsg(TypeTalkerStopV1, m.Callsign)
}

// ParseTalkerStopV1 parses a MsgTalkerStopV1 frame body
func ParseTalkerStopV1(body []byte) (*MsgTalkerStopV1, error) {
	cs, err := parseCallsignMsg(body, TypeTalkerStopV1)
	if err != nil {
		return nil, err
	}
	return &MsgTalkerStopV1{Callsign: cs}, nil
}

// MsgSelectTG requests talkgroup membership; TG 0 means leave only
type MsgSelectTG struct {
	TG uint32
}

func (MsgSelectTG) ControlType() uint16 { return TypeSelectTG }

func (m MsgSelectTG) Encode() []byte {
	b := appendUint16(make([]byte, 0, 6), TypeSelectTG)
	return appendUint32(b, m.TG)
}

// ParseSelectTG parses a MsgSelectTG frame body
func ParseSelectTG(body []byte) (*MsgSelectTG, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeSelectTG); err != nil {
		return nil, err
	}
	tg, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	return &MsgSelectTG{TG: tg}, nil
}

// MsgTgMonitor replaces the set of monitored talkgroups
type MsgTgMonitor struct {
	TGs []uint32
}

func (MsgTgMonitor) ControlType() uint16 { return TypeTgMonitor }

func (m MsgTgMonitor) Encode() []byte {
	b := appendUint16(make([]byte, 0, 4+4*len(m.TGs)), TypeTgMonitor)
	return appendUint32Set(b, m.TGs)
}

// ParseTgMonitor parses a MsgTgMonitor frame body
func ParseTgMonitor(body []byte) (*MsgTgMonitor, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeTgMonitor); err != nil {
		return nil, err
	}
	tgs, err := c.Uint32Set()
	if err != nil {
		return nil, err
	}
	return &MsgTgMonitor{TGs: tgs}, nil
}

// MsgRequestQsy suggests a talkgroup change; TG 0 asks the reflector to
// pick a random unoccupied one
type MsgRequestQsy struct {
	TG uint32
}

func (MsgRequestQsy) ControlType() uint16 { return TypeRequestQsy }

func (m MsgRequestQsy) Encode() []byte {
	b := appendUint16(make([]byte, 0, 6), TypeRequestQsy)
	return appendUint32(b, m.TG)
}

// ParseRequestQsy parses a MsgRequestQsy frame body
func ParseRequestQsy(body []byte) (*MsgRequestQsy, error) {
	c := NewCursor(body)
	if err := expectType(c, TypeRequestQsy); err != nil {
		return nil, err
	}
	tg, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	return &MsgRequestQsy{TG: tg}, nil
}

// MsgNodeInfo announces the node's callsign after authentication
type MsgNodeInfo struct {
	Callsign string
}

func (MsgNodeInfo) ControlType() uint16 { return TypeNodeInfo }

func (m MsgNodeInfo) Encode() []byte {
	return encodeCallsignMsg(TypeNodeInfo, m.Callsign)
}

// ParseNodeInfo parses a MsgNodeInfo frame body
func ParseNodeInfo(body []byte) (*MsgNodeInfo, error) {
	cs, err := parseCallsignMsg(body, TypeNodeInfo)
	if err != nil {
		return nil, err
	}
	return &MsgNodeInfo{Callsign: cs}, nil
}
