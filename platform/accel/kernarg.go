package accel

import (
	rt "github.com/openfluke/accelrt/runtime"
)

// ArgLayout is one packed argument's placement inside a kernarg buffer.
type ArgLayout struct {
	Offset int
	Size   int
}

// alignOf is "per-argument alignment rounded up to the element size but
// capped at 8 bytes" (§3 Kernel argument block).
func alignOf(size int) int {
	if size <= 0 {
		return 1
	}
	if size > 8 {
		return 8
	}
	return size
}

// PackLayout computes the kernarg offsets for args in order, satisfying the
// invariant oᵢ mod min(sᵢ,8) == 0 and oᵢ ≥ oᵢ₋₁ + sᵢ₋₁ (§8). It returns the
// layout and the total packed size, independent of any declared
// kernarg_segment_size.
func PackLayout(args []rt.LaunchArg) ([]ArgLayout, int) {
	layout := make([]ArgLayout, len(args))
	offset := 0
	for i, a := range args {
		align := alignOf(a.Size)
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		layout[i] = ArgLayout{Offset: offset, Size: a.Size}
		offset += a.Size
	}
	return layout, offset
}

// CheckKernargFit reports whether the packed size exactly matches the
// kernel's declared kernarg_segment_size. A mismatch is a validation
// warning (§7): the launch proceeds regardless, using the declared segment
// size, never the packed size.
func CheckKernargFit(packedSize, declaredSegmentSize int) bool {
	return packedSize == declaredSegmentSize
}
