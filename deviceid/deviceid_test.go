package deviceid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		tag Tag
		idx uint32
	}{
		{Host, 0},
		{CUDA, 0},
		{CUDA, 1},
		{HSA, 7},
		{OpenCL, 1 << 20},
	}
	for _, c := range cases {
		id := Encode(c.tag, c.idx)
		gotTag, gotIdx := Decode(id)
		require.Equal(t, c.tag, gotTag)
		require.Equal(t, c.idx, gotIdx)
	}
}

func TestUnknownTagDecodesButIsNotKnown(t *testing.T) {
	id := int32(7) // tag=7, index=0 — never encoded by us, but must decode totally
	tag, idx := Decode(id)
	require.Equal(t, Tag(7), tag)
	require.Equal(t, uint32(0), idx)
	require.False(t, Known(tag))
}

func TestStringNamesUnknownTag(t *testing.T) {
	require.Contains(t, Tag(9).String(), "9")
}
