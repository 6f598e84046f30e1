package protocol

import (
	"encoding/binary"
	"fmt"
)

// UdpHeader is the fixed prefix of every datagram channel message:
// type tag, per-client sequence number and the sender's client id.
type UdpHeader struct {
	Type     uint16
	Seq      uint16
	ClientID uint32
}

// ParseUdpHeader splits a datagram into its header and payload
func ParseUdpHeader(data []byte) (UdpHeader, []byte, error) {
	if len(data) < UdpHeaderSize {
		return UdpHeader{}, nil, fmt.Errorf("%w: datagram shorter than header", ErrMalformed)
	}
	h := UdpHeader{
		Type:     binary.LittleEndian.Uint16(data[0:2]),
		Seq:      binary.LittleEndian.Uint16(data[2:4]),
		ClientID: binary.LittleEndian.Uint32(data[4:8]),
	}
	return h, data[UdpHeaderSize:], nil
}

// UdpMsg is any message that travels over the datagram channel
type UdpMsg interface {
	UdpType() uint16
	EncodePayload() []byte
}

// EncodeUdp builds a complete datagram for the message with the given
// sequence number and client id
func EncodeUdp(m UdpMsg, seq uint16, clientID uint32) []byte {
	payload := m.EncodePayload()
	b := make([]byte, 0, UdpHeaderSize+len(payload))
	b = appendUint16(b, m.UdpType())
	b = appendUint16(b, seq)
	b = appendUint32(b, clientID)
	return append(b, payload...)
}

// MsgUdpHeartbeat is the datagram channel liveness message. It also
// teaches the reflector the peer's UDP source port.
type MsgUdpHeartbeat struct{}

func (MsgUdpHeartbeat) UdpType() uint16 { return UdpTypeHeartbeat }

func (MsgUdpHeartbeat) EncodePayload() []byte { return nil }

// MsgUdpAudio carries one compressed audio frame
type MsgUdpAudio struct {
	AudioData []byte
}

func (MsgUdpAudio) UdpType() uint16 { return UdpTypeAudio }

func (m MsgUdpAudio) EncodePayload() []byte {
	return appendBytes(make([]byte, 0, 2+len(m.AudioData)), m.AudioData)
}

// ParseUdpAudio parses a MsgUdpAudio payload
func ParseUdpAudio(payload []byte) (*MsgUdpAudio, error) {
	c := NewCursor(payload)
	data, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	return &MsgUdpAudio{AudioData: data}, nil
}

// MsgUdpFlushSamples is the end-of-transmission marker from the talker
type MsgUdpFlushSamples struct{}

func (MsgUdpFlushSamples) UdpType() uint16 { return UdpTypeFlushSamples }

func (MsgUdpFlushSamples) EncodePayload() []byte { return nil }

// MsgUdpAllSamplesFlushed acknowledges a flush
type MsgUdpAllSamplesFlushed struct{}

func (MsgUdpAllSamplesFlushed) UdpType() uint16 { return UdpTypeAllSamplesFlushed }

func (MsgUdpAllSamplesFlushed) EncodePayload() []byte { return nil }
