// Package ra derives the physical parameters of a PDSCH or PUSCH from the
// higher-layer configuration and a DCI: time and frequency allocation, DMRS,
// modulation and coding scheme, transport block size and the UCI beta
// offsets. All functions are pure.
package ra

import "errors"

var (
	ErrInvalidTimeAlloc = errors.New("ra: invalid time domain allocation")
	ErrInvalidFreqAlloc = errors.New("ra: invalid frequency domain allocation")
	ErrInvalidMCS       = errors.New("ra: invalid MCS")
	ErrInvalidTable     = errors.New("ra: invalid table")
	ErrInvalidTBS       = errors.New("ra: invalid transport block size")
	ErrInvalidCQI       = errors.New("ra: invalid CQI")
	ErrInvalidBeta      = errors.New("ra: invalid beta offset index")
	ErrUnsupported      = errors.New("ra: unsupported configuration")
)
