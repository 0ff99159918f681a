package fec

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamfec/smpte2022/rtp"
)

// DelayUnits selects how the receiver's buffering delay is expressed.
type DelayUnits int

const (
	// DelayPackets expresses the delay as a media buffer size.
	DelayPackets DelayUnits = iota

	// DelaySeconds is recognized but not implemented.
	DelaySeconds
)

func (u DelayUnits) String() string {
	switch u {
	case DelayPackets:
		return "packets"
	case DelaySeconds:
		return "seconds"
	}
	return fmt.Sprintf("DelayUnits(%d)", int(u))
}

const defaultDelay = 100

// noSequence marks an unset column/row reference in a cross entry.
const noSequence = -1

// cross links a missing media packet to the FEC packets able to recover it.
type cross struct {
	colSequence int32
	rowSequence int32
}

// Receiver is a SMPTE 2022-1 FEC streams receiver. It accepts incoming RTP
// media and FEC packets, reorders the media by sequence number, recovers lost
// media packets from row/column FEC packets (following recovery cascades
// across crossing packets) and drains the recovered stream to an io.Writer
// under a packet-count buffering delay.
//
// Like the Generator, a Receiver is a single-writer state machine and is not
// safe for concurrent use.
type Receiver struct {
	id      string
	output  io.Writer
	logger  *zap.Logger
	metrics *Metrics

	medias  map[uint16]*rtp.Packet
	crosses map[uint16]*cross
	cols    map[uint16]*Packet
	rows    map[uint16]*Packet

	startup  bool
	flushing bool
	position uint16

	matrixL int
	matrixD int

	delayValue int
	delayUnits DelayUnits

	stats ReceiverStats
}

// ReceiverStats carries the receiver's counters. Buffered/maximum values
// track the media, column, row and cross buffers.
type ReceiverStats struct {
	MediaReceived    uint64
	MediaRecovered   uint64
	RecoveryAborted  uint64
	MediaOverwritten uint64
	MediaMissing     uint64
	ColReceived      uint64
	RowReceived      uint64
	ColDropped       uint64
	RowDropped       uint64

	MaxMedia int
	MaxCol   int
	MaxRow   int
	MaxCross int

	// Lostogram counts output drain runs by length of the loss burst that
	// preceded them.
	Lostogram map[int]uint64
}

// NewReceiver creates a receiver draining the recovered media stream to
// output. A nil logger disables diagnostic output.
func NewReceiver(output io.Writer, logger *zap.Logger) (*Receiver, error) {
	if output == nil {
		return nil, ErrNilOutput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Receiver{
		id:         id,
		output:     output,
		logger:     logger.With(zap.String("stream_id", id)),
		medias:     make(map[uint16]*rtp.Packet),
		crosses:    make(map[uint16]*cross),
		cols:       make(map[uint16]*Packet),
		rows:       make(map[uint16]*Packet),
		startup:    true,
		delayValue: defaultDelay,
		delayUnits: DelayPackets,
		stats:      ReceiverStats{Lostogram: make(map[int]uint64)},
	}, nil
}

// SetMetrics attaches prometheus instrumentation to the receiver.
func (r *Receiver) SetMetrics(m *Metrics) {
	r.metrics = m
}

// ID returns the receiver's correlation identifier.
func (r *Receiver) ID() string { return r.id }

// SetDelay sets the buffering delay before media packets are drained to the
// output.
func (r *Receiver) SetDelay(value int, units DelayUnits) error {
	switch units {
	case DelayPackets:
		r.delayValue = value
		r.delayUnits = units
		return nil
	case DelaySeconds:
		return ErrDelayNotSupported
	default:
		return fmt.Errorf("%w: %v", ErrUnknownDelayUnits, units)
	}
}

// CurrentDelay returns the current buffering delay, in packets.
func (r *Receiver) CurrentDelay() int {
	return len(r.medias)
}

// MatrixSize returns the FEC matrix dimensions detected from received FEC
// packets.
func (r *Receiver) MatrixSize() (l, d int) {
	return r.matrixL, r.matrixD
}

// Stats returns a snapshot of the receiver's counters.
func (r *Receiver) Stats() ReceiverStats {
	stats := r.stats
	stats.Lostogram = make(map[int]uint64, len(r.stats.Lostogram))
	for k, v := range r.stats.Lostogram {
		stats.Lostogram[k] = v
	}
	return stats
}

// PutMedia puts an incoming media packet into the receiver buffer. With
// onlyMP2T set, packets that do not carry a valid MPEG2-TS payload are
// rejected.
func (r *Receiver) PutMedia(media *rtp.Packet, onlyMP2T bool) error {
	if r.flushing {
		return ErrFlushing
	}
	if onlyMP2T {
		if !media.ValidMP2T() {
			return ErrNotMP2T
		}
	} else if !media.Valid {
		return ErrInvalidMediaPacket
	}

	if _, ok := r.medias[media.Sequence]; ok {
		r.stats.MediaOverwritten++
		if r.metrics != nil {
			r.metrics.MediaOverwritten.Inc()
		}
	}
	r.medias[media.Sequence] = media
	if len(r.medias) > r.stats.MaxMedia {
		r.stats.MaxMedia = len(r.medias)
	}
	r.stats.MediaReceived++
	if r.metrics != nil {
		r.metrics.MediaReceived.Inc()
	}

	// An incoming media packet registered as missing behaves like a
	// recovered one: drop the cross reference and maybe start a cascade.
	if entry, ok := r.crosses[media.Sequence]; ok {
		if err := r.recoverMediaPacket(media.Sequence, entry, nil); err != nil {
			return err
		}
	}
	return r.out()
}

// PutFec puts an incoming FEC packet. Three scenarios:
//
//  1. none of the protected media packets is missing: the packet is useless;
//  2. exactly one protected media packet is missing: recover it now;
//  3. more than one is missing: store the packet for future recovery.
func (r *Receiver) PutFec(fec *Packet) error {
	if r.flushing {
		return ErrFlushing
	}
	if err := fec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFecPacket, err)
	}
	if fec.Offset == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidFecPacket, ErrZeroOffset)
	}

	switch fec.Direction {
	case Col:
		r.stats.ColReceived++
	case Row:
		r.stats.RowReceived++
	}
	if r.metrics != nil {
		r.metrics.FecPacketsReceived.WithLabelValues(fec.Direction.String()).Inc()
	}

	var entry *cross
	var mediaLost uint16
	snbase := uint16(fec.SNBase)
	mediaMax := snbase + uint16(fec.NA)*uint16(fec.Offset)

	for mediaTest := snbase; mediaTest != mediaMax; mediaTest += uint16(fec.Offset) {
		if _, ok := r.medias[mediaTest]; ok {
			continue
		}
		mediaLost = mediaTest
		entry = r.crosses[mediaTest]
		if entry == nil {
			entry = &cross{colSequence: noSequence, rowSequence: noSequence}
			r.crosses[mediaTest] = entry
			if len(r.crosses) > r.stats.MaxCross {
				r.stats.MaxCross = len(r.crosses)
			}
		}

		// Register the FEC packet able to recover the missing media packet.
		switch fec.Direction {
		case Col:
			if entry.colSequence != noSequence {
				return fmt.Errorf("%w (media seq=%d)", ErrColOverwrite, mediaLost)
			}
			entry.colSequence = int32(fec.Sequence)
		case Row:
			if entry.rowSequence != noSequence {
				return fmt.Errorf("%w (media seq=%d)", ErrRowOverwrite, mediaLost)
			}
			entry.rowSequence = int32(fec.Sequence)
		}

		if _, err := fec.SetMissing(mediaTest); err != nil {
			return err
		}
	}

	r.matrixL = int(fec.L())
	if d, ok := fec.D(); ok {
		r.matrixD = int(d)
	}

	// [1] No protected media packet missing, the FEC packet is useless.
	if len(fec.missing) == 0 {
		return nil
	}

	// The FEC packet is also useless if it needs an already output'ed media
	// packet to do its recovery.
	windowEnd := r.position + uint16(10*r.delayValue)
	drop := !validityWindow(snbase, r.position, windowEnd)

	switch fec.Direction {
	case Col:
		if drop {
			r.stats.ColDropped++
			if r.metrics != nil {
				r.metrics.FecPacketsDropped.WithLabelValues(Col.String()).Inc()
			}
			return nil
		}
		r.cols[fec.Sequence] = fec
		if len(r.cols) > r.stats.MaxCol {
			r.stats.MaxCol = len(r.cols)
		}
	case Row:
		if drop {
			r.stats.RowDropped++
			if r.metrics != nil {
				r.metrics.FecPacketsDropped.WithLabelValues(Row.String()).Inc()
			}
			return nil
		}
		r.rows[fec.Sequence] = fec
		if len(r.rows) > r.stats.MaxRow {
			r.stats.MaxRow = len(r.rows)
		}
	}

	// [2] Exactly one media packet missing, recover it now.
	if len(fec.missing) == 1 {
		if err := r.recoverMediaPacket(mediaLost, entry, fec); err != nil {
			return err
		}
		return r.out()
	}
	// [3] More than one media packet missing, the FEC packet waits.
	return nil
}

// Flush drains every buffered media packet to the output.
func (r *Receiver) Flush() error {
	r.flushing = true
	defer func() { r.flushing = false }()
	if err := r.out(); err != nil {
		return err
	}
	type flusher interface{ Flush() error }
	if f, ok := r.output.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Cleanup drops stored FEC packets that fell out of the validity window and
// can no longer help any recovery.
func (r *Receiver) Cleanup() error {
	if r.flushing {
		return ErrFlushing
	}
	if r.startup {
		return ErrStartup
	}
	if r.delayUnits != DelayPackets {
		return ErrDelayNotSupported
	}

	start, end := r.position, r.position+uint16(r.delayValue)
	for mediaSequence, entry := range r.crosses {
		if validityWindow(mediaSequence, start, end) {
			continue
		}
		r.dropCross(mediaSequence, entry)
	}
	return nil
}

// dropCross removes a cross entry and any FEC packet linked to it.
func (r *Receiver) dropCross(mediaSequence uint16, entry *cross) {
	delete(r.crosses, mediaSequence)
	if entry.colSequence != noSequence {
		delete(r.cols, uint16(entry.colSequence))
	}
	if entry.rowSequence != noSequence {
		delete(r.rows, uint16(entry.rowSequence))
	}
}

// recoverMediaPacket recovers a missing media packet helped by a FEC packet.
// It is also called with a nil FEC packet to register a late media packet
// arrival, which may start a recovery cascade across crossing FEC packets.
func (r *Receiver) recoverMediaPacket(mediaSequence uint16, entry *cross, fec *Packet) error {
	colSequence := entry.colSequence
	rowSequence := entry.rowSequence
	delete(r.crosses, mediaSequence)

	if fec != nil {
		if len(fec.missing) != 1 {
			return fmt.Errorf("%w, got %d", ErrMissingCount, len(fec.missing))
		}
		if fec.Direction == Col && int32(fec.Sequence) != colSequence {
			return fmt.Errorf("%w: col seq=%d expected %d", ErrCrossMismatch, fec.Sequence, colSequence)
		}
		if fec.Direction == Row && int32(fec.Sequence) != rowSequence {
			return fmt.Errorf("%w: row seq=%d expected %d", ErrCrossMismatch, fec.Sequence, rowSequence)
		}

		// Start from the FEC recovery fields and XOR back every friend
		// media packet protected by the same FEC packet.
		payload := make([]byte, len(fec.PayloadRecovery))
		copy(payload, fec.PayloadRecovery)
		media := rtp.New(mediaSequence, fec.TimestampRecovery, fec.PayloadTypeRecovery, payload)
		payloadSize := fec.LengthRecovery

		aborted := false
		snbase := uint16(fec.SNBase)
		mediaMax := snbase + uint16(fec.NA)*uint16(fec.Offset)
		for mediaTest := snbase; mediaTest != mediaMax; mediaTest += uint16(fec.Offset) {
			if mediaTest == mediaSequence {
				continue
			}
			friend, ok := r.medias[mediaTest]
			if !ok {
				r.stats.RecoveryAborted++
				if r.metrics != nil {
					r.metrics.MediaRecoveryAborted.Inc()
				}
				aborted = true
				break
			}
			media.PayloadType ^= friend.PayloadType
			media.Timestamp ^= friend.Timestamp
			payloadSize ^= uint16(len(friend.Payload))
			for i := 0; i < len(media.Payload) && i < len(friend.Payload); i++ {
				media.Payload[i] ^= friend.Payload[i]
			}
		}

		if !aborted {
			if int(payloadSize) < len(media.Payload) {
				media.Payload = media.Payload[:payloadSize]
			}
			r.stats.MediaRecovered++
			if r.metrics != nil {
				r.metrics.MediaRecovered.Inc()
			}
			if _, ok := r.medias[media.Sequence]; ok {
				r.stats.MediaOverwritten++
				if r.metrics != nil {
					r.metrics.MediaOverwritten.Inc()
				}
			}
			r.medias[media.Sequence] = media
			if len(r.medias) > r.stats.MaxMedia {
				r.stats.MaxMedia = len(r.medias)
			}
			r.logger.Debug("media packet recovered",
				zap.Uint16("seq", media.Sequence),
				zap.String("direction", fec.Direction.String()))
			if fec.Direction == Col {
				delete(r.cols, fec.Sequence)
			} else {
				delete(r.rows, fec.Sequence)
			}
		}
	}

	// The media packet is no longer missing for the crossing FEC packets;
	// if one of them is now down to a single missing packet, cascade.
	var fecCol, fecRow *Packet
	if colSequence != noSequence {
		fecCol = r.cols[uint16(colSequence)]
	}
	if rowSequence != noSequence {
		fecRow = r.rows[uint16(rowSequence)]
	}

	if fecCol != nil {
		if _, err := fecCol.SetRecovered(mediaSequence); err != nil {
			return err
		}
	}
	if fecRow != nil {
		if _, err := fecRow.SetRecovered(mediaSequence); err != nil {
			return err
		}
	}

	if fecCol != nil && len(fecCol.missing) == 1 {
		cascadeSequence := fecCol.missing[0]
		cascadeCross, ok := r.crosses[cascadeSequence]
		if !ok {
			return fmt.Errorf("%w (column, media seq=%d)", ErrNullCascade, cascadeSequence)
		}
		if err := r.recoverMediaPacket(cascadeSequence, cascadeCross, fecCol); err != nil {
			return err
		}
	}

	if fecRow != nil && len(fecRow.missing) == 1 {
		cascadeSequence := fecRow.missing[0]
		cascadeCross, ok := r.crosses[cascadeSequence]
		if !ok {
			return fmt.Errorf("%w (row, media seq=%d)", ErrNullCascade, cascadeSequence)
		}
		if err := r.recoverMediaPacket(cascadeSequence, cascadeCross, fecRow); err != nil {
			return err
		}
	}
	return nil
}

// out drains media packets to the output, keeping at most the configured
// delay's worth of packets buffered (everything when flushing).
func (r *Receiver) out() error {
	value := r.delayValue
	if r.flushing {
		value = 0
	}
	lostBurst := 0

	for len(r.medias) > value {
		if r.startup {
			r.position = minSequence(r.medias)
			r.startup = false
		} else {
			r.position++
		}

		if media, ok := r.medias[r.position]; ok {
			r.stats.Lostogram[lostBurst]++
			lostBurst = 0
			delete(r.medias, media.Sequence)
			if _, err := r.output.Write(media.Payload); err != nil {
				return fmt.Errorf("write recovered stream: %w", err)
			}
		} else {
			r.stats.MediaMissing++
			if r.metrics != nil {
				r.metrics.MediaMissing.Inc()
			}
			lostBurst++
		}

		// Any FEC packet still linked to the drained position is useless now.
		if entry, ok := r.crosses[r.position]; ok {
			r.dropCross(r.position, entry)
		}
	}
	return nil
}

func (r *Receiver) String() string {
	return fmt.Sprintf(
		"Name  Received Buffered Maximum Dropped\n"+
			"Media %8d%9d%8d\n"+
			"Col   %8d%9d%8d%8d\n"+
			"Row   %8d%9d%8d%8d\n"+
			"Cross         %9d%8d\n"+
			"FEC statistics, media packets :\n"+
			"Recovered Aborted Overwritten Missing\n"+
			"%9d%8d%12d%8d\n"+
			"Current position (media sequence) : %d\n"+
			"Current delay (can be set) : %d %s\n"+
			"FEC matrix size (LxD) : %dx%d = %d packets",
		r.stats.MediaReceived, len(r.medias), r.stats.MaxMedia,
		r.stats.ColReceived, len(r.cols), r.stats.MaxCol, r.stats.ColDropped,
		r.stats.RowReceived, len(r.rows), r.stats.MaxRow, r.stats.RowDropped,
		len(r.crosses), r.stats.MaxCross,
		r.stats.MediaRecovered, r.stats.RecoveryAborted,
		r.stats.MediaOverwritten, r.stats.MediaMissing,
		r.position, r.CurrentDelay(), r.delayUnits,
		r.matrixL, r.matrixD, r.matrixL*r.matrixD)
}

// minSequence returns the smallest sequence number currently buffered.
func minSequence(medias map[uint16]*rtp.Packet) uint16 {
	first := true
	var minimum uint16
	for sequence := range medias {
		if first || sequence < minimum {
			minimum = sequence
			first = false
		}
	}
	return minimum
}

// validityWindow reports whether current lies in the circular window bounded
// by start and end (both inclusive):
//
//	1) start=     6 end=9 :   0   1  2 3 4 5 [=======] 10 ... 65'533  65'534 65'535
//	2) start=65'534 end=1 :  ======] 2 3 4 5  6 7 8 9  10 ... 65'533 [=============
func validityWindow(current, start, end uint16) bool {
	if end > start {
		return start <= current && current <= end
	}
	return current <= end || current >= start
}
