package accel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeWorkgroupsFullyCoversDomain(t *testing.T) {
	cases := []struct {
		problem, block [3]uint32
	}{
		{[3]uint32{1000, 1, 1}, [3]uint32{32, 1, 1}},
		{[3]uint32{1024, 1, 1}, [3]uint32{256, 1, 1}},
		{[3]uint32{17, 5, 3}, [3]uint32{4, 2, 2}},
	}
	for _, c := range cases {
		wg := ComputeWorkgroups(c.problem, c.block)
		for i := 0; i < 3; i++ {
			require.GreaterOrEqual(t, wg[i]*c.block[i], c.problem[i])
		}
	}
}
