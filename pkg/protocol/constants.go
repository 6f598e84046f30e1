package protocol

import "fmt"

// Control channel message type tags. Tags are wire-stable: values must
// never be renumbered once a peer generation has shipped with them.
const (
	TypeHeartbeat     uint16 = 1
	TypeProtoVer      uint16 = 5
	TypeAuthChallenge uint16 = 10
	TypeAuthResponse  uint16 = 11
	TypeAuthOk        uint16 = 12
	TypeError         uint16 = 13
	TypeServerInfo    uint16 = 100
	TypeNodeList      uint16 = 101
	TypeNodeJoined    uint16 = 102
	TypeNodeLeft      uint16 = 103
	TypeTalkerStart   uint16 = 104
	TypeTalkerStop    uint16 = 105
	TypeSelectTG      uint16 = 106
	TypeTgMonitor     uint16 = 107
	TypeRequestQsy    uint16 = 108
	TypeTalkerStartV1 uint16 = 109
	TypeTalkerStopV1  uint16 = 110
	TypeNodeInfo      uint16 = 111
)

// Datagram channel message type tags
const (
	UdpTypeHeartbeat         uint16 = 1
	UdpTypeAudio             uint16 = 101
	UdpTypeFlushSamples      uint16 = 102
	UdpTypeAllSamplesFlushed uint16 = 103
)

// Size constants (in bytes)
const (
	MaxFrameSize    = 16 * 1024 // One control message per frame
	UdpHeaderSize   = 8         // type(2) + seq(2) + clientId(4)
	ChallengeLength = 20        // Auth challenge nonce
	DigestLength    = 20        // HMAC-SHA1 output
)

// Protocol versions the reflector speaks
var (
	ProtoVerV1 = ProtoVer{MajorVer: 1, MinorVer: 0}
	ProtoVerV2 = ProtoVer{MajorVer: 2, MinorVer: 0}
)

// ProtoVer is a negotiated protocol version
type ProtoVer struct {
	MajorVer uint16 `json:"majorVer"`
	MinorVer uint16 `json:"minorVer"`
}

// Compare returns -1, 0 or 1 as v orders before, equal to or after o
func (v ProtoVer) Compare(o ProtoVer) int {
	switch {
	case v.MajorVer < o.MajorVer:
		return -1
	case v.MajorVer > o.MajorVer:
		return 1
	case v.MinorVer < o.MinorVer:
		return -1
	case v.MinorVer > o.MinorVer:
		return 1
	}
	return 0
}

// String returns the dotted form, e.g. "2.0"
func (v ProtoVer) String() string {
	return fmt.Sprintf("%d.%d", v.MajorVer, v.MinorVer)
}
