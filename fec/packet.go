package fec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/streamfec/smpte2022/rtp"
)

// SMPTE 2022-1 FEC header layout:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|       SNBase low bits         |        Length recovery        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|E| PT recovery |                    Mask                       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          TS recovery                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|N|D|type |index|    Offset     |      NA       |SNBase ext bits|
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
const (
	// HeaderLength is the size of the SMPTE 2022-1 FEC header in bytes.
	HeaderLength = 16

	extendedMask  = 0x80
	ptMask        = 0x7f
	nMask         = 0x80
	directionMask = 0x40
	typeMask      = 0x38
	typeShift     = 3
	indexMask     = 0x07
	snBaseLowMask = 0xffff
	snBaseExtend  = 16
)

// Packet is one SMPTE 2022-1 FEC packet protecting a row or a column of
// media packets. Packets are produced by Compute on the sender side or by
// Parse on the receiver side and are not mutated afterwards, except for the
// receiver's missing-packet bookkeeping.
type Packet struct {
	// Sequence is the row/column FEC stream sequence number carried by the
	// packet's own RTP framing.
	Sequence uint16

	Algorithm Algorithm
	Direction Direction

	// SNBase is the sequence number of the earliest protected media packet.
	// Parsed packets may carry up to 24 bits via the header extension bits;
	// generated packets stay within 16 bits.
	SNBase uint32

	// Offset is the distance between two protected media packets: L for a
	// column packet, 1 for a row packet.
	Offset uint8

	// NA is the number of protected media packets: D for a column packet,
	// L for a row packet.
	NA uint8

	PayloadTypeRecovery uint8
	TimestampRecovery   uint32
	LengthRecovery      uint16
	PayloadRecovery     []byte

	// Header fields fixed by SMPTE 2022-1, kept for parsing fidelity.
	Extended bool
	Mask     uint32
	Index    uint8
	N        bool

	// missing tracks protected media sequence numbers currently lost,
	// maintained by the receiver.
	missing []uint16
}

// L returns the horizontal size of the FEC matrix the packet was drawn from.
func (p *Packet) L() uint8 {
	if p.Direction == Col {
		return p.Offset
	}
	return p.NA
}

// D returns the vertical size of the FEC matrix and whether it is known. Row
// packets do not encode the matrix height, so ok is false for them.
func (p *Packet) D() (uint8, bool) {
	if p.Direction == Col {
		return p.NA, true
	}
	return 0, false
}

// Validate checks the packet against the SMPTE 2022-1 header constraints and
// returns every violated constraint joined into a single error.
func (p *Packet) Validate() error {
	var errs []error
	if !p.Extended {
		errs = append(errs, ErrNotExtended)
	}
	if p.Mask != 0 {
		errs = append(errs, ErrMaskNotZero)
	}
	if p.N {
		errs = append(errs, ErrNBitSet)
	}
	if p.Algorithm != XOR {
		errs = append(errs, ErrAlgorithmNotSupported)
	}
	if p.Direction != Col && p.Direction != Row {
		errs = append(errs, ErrInvalidDirection)
	}
	if p.Index != 0 {
		errs = append(errs, ErrIndexNotZero)
	}
	if len(p.PayloadRecovery) == 0 {
		errs = append(errs, ErrNoPayload)
	}
	if l := p.L(); l < 1 || l > 50 {
		errs = append(errs, ErrMatrixL)
	}
	if p.Direction == Col {
		d, _ := p.D()
		if int(p.L())*int(d) > 256 {
			errs = append(errs, ErrMatrixLD)
		}
		if d < 4 || d > 50 {
			errs = append(errs, ErrMatrixD)
		}
	}
	return errors.Join(errs...)
}

// Valid reports whether the packet satisfies every SMPTE 2022-1 constraint.
func (p *Packet) Valid() bool {
	return p.Validate() == nil
}

// Compute builds one FEC packet from exactly NA source packets (L packets for
// a row, D packets for a column) by XOR folding their payloads, timestamps,
// payload types and lengths. Shorter payloads are treated as zero padded up
// to the longest payload of the set.
//
// Passing the wrong number of packets is a sizing bug in the caller and
// panics. Invalid media packets or a set that does not verify
// sequence = snbase + i*offset return an error.
func Compute(sequence uint16, algorithm Algorithm, direction Direction, l, d int, packets []*rtp.Packet) (*Packet, error) {
	if direction != Col && direction != Row {
		return nil, ErrInvalidDirection
	}
	if algorithm != XOR {
		return nil, ErrAlgorithmNotSupported
	}

	p := &Packet{
		Sequence:  sequence,
		Algorithm: algorithm,
		Direction: direction,
		Extended:  true,
	}
	if direction == Col {
		p.NA = uint8(d)
		p.Offset = uint8(l)
	} else {
		p.NA = uint8(l)
		p.Offset = 1
	}

	if len(packets) != int(p.NA) {
		panic(fmt.Sprintf("fec: Compute called with %d packets, expected %d", len(packets), p.NA))
	}
	p.SNBase = uint32(packets[0].Sequence)

	// Check the set and detect the longest payload.
	size := 0
	for i, packet := range packets {
		if !packet.Valid {
			return nil, ErrInvalidMediaPacket
		}
		if packet.Sequence != uint16(p.SNBase)+uint16(i)*uint16(p.Offset) {
			return nil, ErrMediaSequence
		}
		if len(packet.Payload) > size {
			size = len(packet.Payload)
		}
	}

	p.PayloadRecovery = make([]byte, size)
	for _, packet := range packets {
		p.PayloadTypeRecovery ^= packet.PayloadType
		p.TimestampRecovery ^= packet.Timestamp
		p.LengthRecovery ^= uint16(len(packet.Payload))
		for i, b := range packet.Payload {
			p.PayloadRecovery[i] ^= b
		}
	}
	return p, nil
}

// HeaderBytes returns the 16-byte SMPTE 2022-1 FEC header.
func (p *Packet) HeaderBytes() []byte {
	header := make([]byte, HeaderLength)
	binary.BigEndian.PutUint16(header[0:2], uint16(p.SNBase&snBaseLowMask))
	binary.BigEndian.PutUint16(header[2:4], p.LengthRecovery)
	binary.BigEndian.PutUint32(header[4:8], p.Mask)
	header[4] = p.PayloadTypeRecovery & ptMask
	if p.Extended {
		header[4] |= extendedMask
	}
	binary.BigEndian.PutUint32(header[8:12], p.TimestampRecovery)
	header[12] = (uint8(p.Algorithm) << typeShift) & typeMask
	if p.N {
		header[12] |= nMask
	}
	if p.Direction == Row {
		header[12] |= directionMask
	}
	header[12] |= p.Index & indexMask
	header[13] = p.Offset
	header[14] = p.NA
	header[15] = uint8(p.SNBase >> snBaseExtend)
	return header
}

// Marshal returns the FEC header followed by the payload recovery bytes, i.e.
// the payload of the RTP packet carrying this FEC packet on the wire.
func (p *Packet) Marshal() []byte {
	return append(p.HeaderBytes(), p.PayloadRecovery...)
}

// Parse decodes the payload of a FEC stream RTP packet. The sequence number
// comes from the carrier RTP header, which the transport layer has already
// parsed and validated (including the dynamic payload type check).
func Parse(sequence uint16, payload []byte) (*Packet, error) {
	if len(payload) < HeaderLength {
		return nil, ErrHeaderSize
	}
	p := &Packet{
		Sequence: sequence,
		SNBase: uint32(payload[15])<<snBaseExtend |
			uint32(binary.BigEndian.Uint16(payload[0:2])),
		LengthRecovery:      binary.BigEndian.Uint16(payload[2:4]),
		Extended:            payload[4]&extendedMask != 0,
		PayloadTypeRecovery: payload[4] & ptMask,
		Mask:                binary.BigEndian.Uint32(payload[4:8]) & 0x00ffffff,
		TimestampRecovery:   binary.BigEndian.Uint32(payload[8:12]),
		N:                   payload[12]&nMask != 0,
		Algorithm:           Algorithm((payload[12] & typeMask) >> typeShift),
		Index:               payload[12] & indexMask,
		Offset:              payload[13],
		NA:                  payload[14],
		PayloadRecovery:     payload[HeaderLength:],
	}
	if payload[12]&directionMask != 0 {
		p.Direction = Row
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFecPacket, err)
	}
	return p, nil
}

// computeJ returns the protection index j of a media sequence number within
// this packet's arithmetic sequence, or false if none satisfies
// sequence = snbase + j*offset.
func (p *Packet) computeJ(mediaSequence uint16) (int, bool) {
	delta := int(mediaSequence) - int(p.SNBase&snBaseLowMask)
	if delta < 0 {
		delta += rtp.SequenceMask + 1
	}
	if p.Offset == 0 || delta%int(p.Offset) != 0 {
		return 0, false
	}
	return delta / int(p.Offset), true
}

// SetMissing registers a protected media packet as missing and returns its
// protection index.
func (p *Packet) SetMissing(mediaSequence uint16) (int, error) {
	j, ok := p.computeJ(mediaSequence)
	if !ok {
		return 0, ErrNoSuitableJ
	}
	for _, sequence := range p.missing {
		if sequence == mediaSequence {
			return j, nil
		}
	}
	p.missing = append(p.missing, mediaSequence)
	return j, nil
}

// SetRecovered removes a media packet from the missing set and returns its
// protection index.
func (p *Packet) SetRecovered(mediaSequence uint16) (int, error) {
	j, ok := p.computeJ(mediaSequence)
	if !ok {
		return 0, ErrNoSuitableJ
	}
	for i, sequence := range p.missing {
		if sequence == mediaSequence {
			p.missing = append(p.missing[:i], p.missing[i+1:]...)
			return j, nil
		}
	}
	return 0, ErrNotMissing
}

// Missing returns the protected media sequence numbers currently registered
// as missing.
func (p *Packet) Missing() []uint16 {
	out := make([]uint16, len(p.missing))
	copy(out, p.missing)
	return out
}

func (p *Packet) String() string {
	d := "None"
	if v, ok := p.D(); ok {
		d = fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf(
		"seq=%d algorithm=%s direction=%s snbase=%d offset=%d na=%d LxD=%dx%s "+
			"ptrec=%d tsrec=%d lenrec=%d payload=%d missing=%v",
		p.Sequence, p.Algorithm, p.Direction, p.SNBase, p.Offset, p.NA,
		p.L(), d, p.PayloadTypeRecovery, p.TimestampRecovery, p.LengthRecovery,
		len(p.PayloadRecovery), p.missing)
}
