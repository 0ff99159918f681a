package fec

import "errors"

// Error values for packet validation and receiver state handling.
var (
	// Codec errors
	ErrAlgorithmNotSupported = errors.New("only the XOR FEC algorithm is supported")
	ErrInvalidDirection      = errors.New("direction must be COL or ROW")
	ErrInvalidMediaPacket    = errors.New("media packet is not a valid RTP packet")
	ErrMediaSequence         = errors.New("media packet does not verify sequence = snbase + i*offset")

	// Header validation errors (SMPTE 2022-1 constraints)
	ErrNotExtended  = errors.New("extended bit must be set to one")
	ErrMaskNotZero  = errors.New("mask must be set to zero")
	ErrNBitSet      = errors.New("n bit must be set to zero")
	ErrIndexNotZero = errors.New("index must be set to zero")
	ErrNoPayload    = errors.New("fec packet must have a payload")
	ErrMatrixL      = errors.New("the following limitation failed: 1 <= L <= 50")
	ErrMatrixD      = errors.New("the following limitation failed: 4 <= D <= 50")
	ErrMatrixLD     = errors.New("the following limitation failed: L*D <= 256")
	ErrHeaderSize   = errors.New("fec payload is shorter than the FEC header")
	ErrZeroOffset   = errors.New("fec packet offset must not be zero")

	// Missing-packet bookkeeping errors
	ErrNoSuitableJ = errors.New("no j satisfies media sequence = snbase + j*offset")
	ErrNotMissing  = errors.New("media sequence is not registered as missing")

	// Receiver errors
	ErrFlushing          = errors.New("currently flushing buffers")
	ErrNilOutput         = errors.New("output is nil")
	ErrNotMP2T           = errors.New("packet is not a valid RTP packet with MPEG2-TS payload")
	ErrInvalidFecPacket  = errors.New("invalid FEC packet")
	ErrColOverwrite      = errors.New("another column FEC packet already protects this media packet")
	ErrRowOverwrite      = errors.New("another row FEC packet already protects this media packet")
	ErrMissingCount      = errors.New("recovery requires exactly one missing media packet")
	ErrCrossMismatch     = errors.New("FEC packet sequence does not match the registered cross reference")
	ErrNullCascade       = errors.New("recovery cascade: no linked entry in the crosses buffer")
	ErrDelayNotSupported = errors.New("delay in seconds is not supported")
	ErrUnknownDelayUnits = errors.New("unknown delay units")
	ErrStartup           = errors.New("current position not initialized (startup state)")
)
