// Package fec implements a SMPTE 2022-1 forward error correction engine for
// RTP media streams: a 2-D XOR packet codec, a stream generator producing row
// and column FEC packets, and a receiver recovering lost media packets.
package fec

import "fmt"

// Algorithm identifies the FEC algorithm encoded in the packet header.
// SMPTE 2022-1 only uses XOR; the other values exist in the header type field
// and are kept for parsing fidelity.
type Algorithm uint8

const (
	XOR Algorithm = iota
	Hamming
	ReedSolomon
)

func (a Algorithm) String() string {
	switch a {
	case XOR:
		return "XOR"
	case Hamming:
		return "Hamming"
	case ReedSolomon:
		return "ReedSolomon"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// Direction identifies the axis of the FEC matrix a packet protects.
type Direction uint8

const (
	Col Direction = iota
	Row
)

func (d Direction) String() string {
	switch d {
	case Col:
		return "COL"
	case Row:
		return "ROW"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Config holds the FEC matrix dimensions, fixed for the lifetime of a
// generator instance.
type Config struct {
	// L is the horizontal size of the FEC matrix (columns).
	L int `toml:"l"`

	// D is the vertical size of the FEC matrix (rows).
	D int `toml:"d"`
}

// Validate checks the matrix dimensions against the SMPTE 2022-1 limits.
func (c Config) Validate() error {
	if c.L < 1 || c.L > 50 {
		return fmt.Errorf("l must be between 1 and 50, got %d", c.L)
	}
	if c.D < 1 || c.D > 50 {
		return fmt.Errorf("d must be between 1 and 50, got %d", c.D)
	}
	if c.L*c.D > 256 {
		return fmt.Errorf("l*d must be <= 256, got %d", c.L*c.D)
	}
	return nil
}

// Size returns the number of media packets protected by one full matrix.
func (c Config) Size() int {
	return c.L * c.D
}
