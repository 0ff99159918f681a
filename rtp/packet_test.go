package rtp

import (
	"bytes"
	"testing"
)

func TestNew(t *testing.T) {
	p := New(6, 777, MP2TPayloadType, []byte("salut"))
	if !p.Valid {
		t.Error("New() packet must be valid")
	}
	if p.Sequence != 6 || p.Timestamp != 777 || p.PayloadType != MP2TPayloadType {
		t.Errorf("New() fields = %d/%d/%d", p.Sequence, p.Timestamp, p.PayloadType)
	}
	if !bytes.Equal(p.Payload, []byte("salut")) {
		t.Errorf("New() payload = %q", p.Payload)
	}
}

func TestPacket_ValidMP2T(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
		want   bool
	}{
		{
			name:   "valid MP2T packet",
			packet: New(1, 100, MP2TPayloadType, []byte{0x47}),
			want:   true,
		},
		{
			name:   "valid dynamic payload type",
			packet: New(1, 100, DynamicPayloadType, []byte{0x47}),
			want:   false,
		},
		{
			name:   "invalid packet",
			packet: &Packet{Sequence: 1, PayloadType: MP2TPayloadType},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.packet.ValidMP2T(); got != tt.want {
				t.Errorf("ValidMP2T() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPacket_ClockRate(t *testing.T) {
	if got := New(1, 0, MP2TPayloadType, []byte{1}).ClockRate(); got != MP2TClockRate {
		t.Errorf("ClockRate() = %d, want %d", got, MP2TClockRate)
	}
	if got := New(1, 0, DynamicPayloadType, []byte{1}).ClockRate(); got != 1 {
		t.Errorf("ClockRate() = %d, want 1", got)
	}
}

func TestPacket_NextSequence(t *testing.T) {
	if got := New(41, 0, MP2TPayloadType, []byte{1}).NextSequence(); got != 42 {
		t.Errorf("NextSequence() = %d, want 42", got)
	}
	// 16-bit wraparound
	if got := New(65535, 0, MP2TPayloadType, []byte{1}).NextSequence(); got != 0 {
		t.Errorf("NextSequence() = %d, want 0", got)
	}
}
