package accel

import (
	"testing"

	"github.com/stretchr/testify/require"

	rt "github.com/openfluke/accelrt/runtime"
)

func TestPackLayoutSatisfiesAlignmentInvariant(t *testing.T) {
	args := []rt.LaunchArg{
		{Size: 4}, {Size: 8}, {Size: 2}, {Size: 16}, {Size: 1},
	}
	layout, total := PackLayout(args)
	require.Len(t, layout, len(args))

	prevEnd := 0
	for i, l := range layout {
		align := alignOf(args[i].Size)
		require.Equal(t, 0, l.Offset%align, "offset %d not aligned to %d", l.Offset, align)
		require.GreaterOrEqual(t, l.Offset, prevEnd)
		prevEnd = l.Offset + l.Size
	}
	require.Equal(t, prevEnd, total)
}

func TestCheckKernargFit(t *testing.T) {
	require.True(t, CheckKernargFit(24, 24))
	require.False(t, CheckKernargFit(20, 24))
}
