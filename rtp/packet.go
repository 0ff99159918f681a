// Package rtp holds the media packet value type consumed by the FEC engine.
//
// The engine never parses raw RTP datagrams itself: the transport layer is
// expected to validate incoming bytes, build a Packet and set the Valid flag.
package rtp

// Payload types and clock rates relevant to SMPTE 2022-1 streams (RFC 3550
// and the IANA RTP parameters registry).
const (
	// MP2TPayloadType is the static payload type of an MPEG2-TS stream.
	MP2TPayloadType uint8 = 33

	// DynamicPayloadType is the payload type carried by SMPTE 2022-1 FEC
	// streams.
	DynamicPayloadType uint8 = 96

	// MP2TClockRate is the MPEG2-TS RTP clock rate in Hz.
	MP2TClockRate = 90000

	// SequenceMask bounds the 16-bit RTP sequence number space.
	SequenceMask = 0xffff
)

// Packet is an immutable view of one received media packet. The FEC engine
// references packets while they sit in its matrix buffer but never mutates
// them.
type Packet struct {
	Sequence    uint16
	Timestamp   uint32
	PayloadType uint8
	Payload     []byte

	// Valid is set by the transport layer after header validation. Invalid
	// packets are counted by the FEC generator but never buffered.
	Valid bool
}

// New returns a valid media packet with the given fields.
func New(sequence uint16, timestamp uint32, payloadType uint8, payload []byte) *Packet {
	return &Packet{
		Sequence:    sequence,
		Timestamp:   timestamp,
		PayloadType: payloadType,
		Payload:     payload,
		Valid:       true,
	}
}

// ValidMP2T reports whether the packet is valid and carries an MPEG2-TS
// payload.
func (p *Packet) ValidMP2T() bool {
	return p.Valid && p.PayloadType == MP2TPayloadType
}

// ClockRate returns the RTP clock rate of the payload, or 1 for non MPEG2-TS
// payloads.
func (p *Packet) ClockRate() uint32 {
	if p.PayloadType == MP2TPayloadType {
		return MP2TClockRate
	}
	return 1
}

// NextSequence returns the sequence number expected after this packet,
// wrapping at 2^16.
func (p *Packet) NextSequence() uint16 {
	return p.Sequence + 1
}
