package fec

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/streamfec/smpte2022/rtp"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("Register() must fail on duplicate registration")
	}
}

func TestMetrics_GeneratorCounters(t *testing.T) {
	m := NewMetrics()
	g, err := NewGenerator(Config{L: 2, D: 4}, Callbacks{}, nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	g.SetMetrics(m)

	for sequence := uint16(1); sequence <= 8; sequence++ {
		g.PutMedia(media(sequence, uint32(sequence)*100, "x"))
	}
	g.PutMedia(&rtp.Packet{Sequence: 9})
	g.PutMedia(media(42, 4200, "x"))

	if got := testutil.ToFloat64(m.MediaPackets); got != 10 {
		t.Errorf("media packets = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.InvalidMediaPackets); got != 1 {
		t.Errorf("invalid media packets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SequenceResets); got != 2 {
		t.Errorf("sequence resets = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FecPacketsGenerated.WithLabelValues("ROW")); got != 4 {
		t.Errorf("row packets generated = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.FecPacketsGenerated.WithLabelValues("COL")); got != 2 {
		t.Errorf("col packets generated = %v, want 2", got)
	}
}

func TestMetrics_ReceiverCounters(t *testing.T) {
	m := NewMetrics()
	var buf bytes.Buffer
	r, err := NewReceiver(&buf, nil)
	if err != nil {
		t.Fatalf("NewReceiver() error = %v", err)
	}
	r.SetMetrics(m)

	const l, d = 4, 5
	medias := make([]*rtp.Packet, l*d)
	for i := range medias {
		medias[i] = mp2t(uint16(i))
	}
	col, err := Compute(1, XOR, Col, l, d, []*rtp.Packet{medias[0], medias[4], medias[8], medias[12], medias[16]})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	for _, packet := range medias[1:] {
		if err := r.PutMedia(packet, true); err != nil {
			t.Fatalf("PutMedia(%d) error = %v", packet.Sequence, err)
		}
	}
	if err := r.PutFec(col); err != nil {
		t.Fatalf("PutFec() error = %v", err)
	}

	if got := testutil.ToFloat64(m.MediaReceived); got != float64(l*d-1) {
		t.Errorf("media received = %v, want %d", got, l*d-1)
	}
	if got := testutil.ToFloat64(m.MediaRecovered); got != 1 {
		t.Errorf("media recovered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FecPacketsReceived.WithLabelValues("COL")); got != 1 {
		t.Errorf("col packets received = %v, want 1", got)
	}
}
