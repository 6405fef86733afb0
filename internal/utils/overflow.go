// Package utils holds small arithmetic and buffer helpers shared by the
// chunk codec. Grounded on the teacher's internal/utils overflow-checking
// helpers (originally written to guard HDF5 dataset/hyperslab dimension
// products against CVE-class integer overflow); the same
// multiply-then-check pattern guards a chunk's packed body size here,
// since a corrupt or adversarial schema/point-count pair can overflow a
// naive width*count allocation just as easily as an HDF5 dimension list
// can.
package utils

import (
	"fmt"
	"math"
)

// CheckMultiplyOverflow reports whether a*b would overflow a uint64.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies a and b, returning an error instead of wrapping
// on overflow.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// MaxChunkSize bounds a single packed chunk body, guarding against a
// corrupt header (PointCount/Schema) driving an unbounded allocation on
// decode.
const MaxChunkSize = 1024 * 1024 * 1024 // 1GB

// ValidateBufferSize checks that size is nonzero and within maxSize,
// returning an error that names description for the caller's context.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}
