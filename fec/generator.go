package fec

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamfec/smpte2022/rtp"
)

// Callbacks is the set of output slots a Generator invokes synchronously from
// PutMedia. Unset slots fall back to diagnostic logging on the generator's
// logger.
type Callbacks struct {
	// OnNewRow receives every generated row FEC packet.
	OnNewRow func(*Packet, *Generator)

	// OnNewCol receives every generated column FEC packet.
	OnNewCol func(*Packet, *Generator)

	// OnReset receives the media packet that arrived out of sequence and
	// restarted the matrix, including the very first packet of the stream.
	OnReset func(*rtp.Packet, *Generator)
}

// Generator is a SMPTE 2022-1 FEC stream generator. It consumes an ordered
// stream of media packets and emits row and column FEC packets through its
// callbacks at matrix fill boundaries.
//
// A Generator is a single-writer state machine: one instance per media
// stream, driven by a single ingestion path. It is not safe for concurrent
// PutMedia calls.
type Generator struct {
	id        string
	config    Config
	callbacks Callbacks
	logger    *zap.Logger
	metrics   *Metrics

	medias        []*rtp.Packet
	mediaSequence uint16
	haveSequence  bool
	colSequence   uint16
	rowSequence   uint16

	invalid uint64
	total   uint64
}

// GeneratorStats is a snapshot of the generator's counters.
type GeneratorStats struct {
	Total       uint64
	Invalid     uint64
	Buffered    int
	ColSequence uint16
	RowSequence uint16

	// NextSequence is the expected sequence number of the next media packet;
	// HaveSequence is false until the first valid packet arrived.
	NextSequence uint16
	HaveSequence bool
}

// NewGenerator creates a generator for the given matrix dimensions. A nil
// logger disables diagnostic output.
func NewGenerator(config Config, callbacks Callbacks, logger *zap.Logger) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid FEC config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Generator{
		id:          id,
		config:      config,
		callbacks:   callbacks,
		logger:      logger.With(zap.String("stream_id", id)),
		colSequence: 1,
		rowSequence: 1,
	}, nil
}

// SetMetrics attaches prometheus instrumentation to the generator.
func (g *Generator) SetMetrics(m *Metrics) {
	g.metrics = m
}

// ID returns the generator's correlation identifier.
func (g *Generator) ID() string { return g.id }

// L returns the horizontal size of the FEC matrix (columns).
func (g *Generator) L() int { return g.config.L }

// D returns the vertical size of the FEC matrix (rows).
func (g *Generator) D() int { return g.config.D }

// Stats returns a snapshot of the generator's counters.
func (g *Generator) Stats() GeneratorStats {
	return GeneratorStats{
		Total:        g.total,
		Invalid:      g.invalid,
		Buffered:     len(g.medias),
		ColSequence:  g.colSequence,
		RowSequence:  g.rowSequence,
		NextSequence: g.mediaSequence,
		HaveSequence: g.haveSequence,
	}
}

// PutMedia feeds one incoming media packet to the generator, in receipt
// order. Invalid packets are counted and dropped without touching the
// sequence tracking. A packet that does not match the expected sequence
// number replaces the whole buffer and fires OnReset; the generator then
// resynchronizes on the new packet and keeps operating.
//
// Callback failures are not contained: a panicking callback propagates to
// the caller.
func (g *Generator) PutMedia(media *rtp.Packet) {
	g.total++
	if g.metrics != nil {
		g.metrics.MediaPackets.Inc()
	}
	if !media.Valid {
		g.invalid++
		if g.metrics != nil {
			g.metrics.InvalidMediaPackets.Inc()
		}
		return
	}

	sequence := media.NextSequence()

	// Protected media packets must be in strict sequence to generate valid
	// FEC packets. A mismatch means packets were lost on the way in, or the
	// source stream restarted (e.g. a looped broadcast session).
	if g.haveSequence && media.Sequence == g.mediaSequence {
		g.medias = append(g.medias, media)
	} else {
		g.medias = g.medias[:0]
		g.medias = append(g.medias, media)
		g.onReset(media)
	}
	g.mediaSequence = sequence
	g.haveSequence = true

	// A row FEC packet protects the last L media packets each time a row of
	// the matrix fills up.
	if len(g.medias)%g.config.L == 0 {
		rowMedias := g.medias[len(g.medias)-g.config.L:]
		row, err := Compute(g.rowSequence, XOR, Row, g.config.L, g.config.D, rowMedias)
		if err != nil {
			panic(fmt.Sprintf("fec: row computation failed: %v", err))
		}
		g.rowSequence++
		if g.metrics != nil {
			g.metrics.FecPacketsGenerated.WithLabelValues(Row.String()).Inc()
		}
		g.onNewRow(row)
	}

	// A column FEC packet protects every L-th media packet once enough
	// trailing packets accumulated to span a full column.
	if len(g.medias) > g.config.L*(g.config.D-1) {
		first := len(g.medias) - g.config.L*(g.config.D-1) - 1
		colMedias := make([]*rtp.Packet, 0, g.config.D)
		for i := first; i < len(g.medias); i += g.config.L {
			colMedias = append(colMedias, g.medias[i])
		}
		col, err := Compute(g.colSequence, XOR, Col, g.config.L, g.config.D, colMedias)
		if err != nil {
			panic(fmt.Sprintf("fec: column computation failed: %v", err))
		}
		g.colSequence++
		if g.metrics != nil {
			g.metrics.FecPacketsGenerated.WithLabelValues(Col.String()).Inc()
		}
		g.onNewCol(col)
	}

	if len(g.medias) == g.config.Size() {
		g.medias = g.medias[:0]
	}
}

func (g *Generator) onNewRow(row *Packet) {
	if g.callbacks.OnNewRow != nil {
		g.callbacks.OnNewRow(row, g)
		return
	}
	g.logger.Debug("new ROW FEC packet",
		zap.Uint16("seq", row.Sequence),
		zap.Uint32("snbase", row.SNBase),
		zap.Uint8("l", row.L()),
		zap.Uint32("tsrec", row.TimestampRecovery))
}

func (g *Generator) onNewCol(col *Packet) {
	if g.callbacks.OnNewCol != nil {
		g.callbacks.OnNewCol(col, g)
		return
	}
	d, _ := col.D()
	g.logger.Debug("new COL FEC packet",
		zap.Uint16("seq", col.Sequence),
		zap.Uint32("snbase", col.SNBase),
		zap.Uint8("l", col.L()),
		zap.Uint8("d", d),
		zap.Uint32("tsrec", col.TimestampRecovery))
}

func (g *Generator) onReset(media *rtp.Packet) {
	if g.metrics != nil {
		g.metrics.SequenceResets.Inc()
	}
	if g.callbacks.OnReset != nil {
		g.callbacks.OnReset(media, g)
		return
	}
	if g.haveSequence {
		g.logger.Warn("media packet out of sequence, FEC matrix reset",
			zap.Uint16("seq", media.Sequence),
			zap.Uint16("expected", g.mediaSequence))
	} else {
		g.logger.Info("first media packet, FEC matrix started",
			zap.Uint16("seq", media.Sequence))
	}
}

func (g *Generator) String() string {
	next := "None"
	if g.haveSequence {
		next = fmt.Sprintf("%d", g.mediaSequence)
	}
	sequences := make([]uint16, len(g.medias))
	for i, media := range g.medias {
		sequences[i] = media.Sequence
	}
	return fmt.Sprintf(
		"Matrix size L x D            = %d x %d\n"+
			"Total invalid media packets  = %d\n"+
			"Total media packets received = %d\n"+
			"Column sequence number       = %d\n"+
			"Row    sequence number       = %d\n"+
			"Media  sequence number       = %s\n"+
			"Medias buffer (seq. numbers) = %v",
		g.config.L, g.config.D, g.invalid, g.total,
		g.colSequence, g.rowSequence, next, sequences)
}
