package hsa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewQueueRoundsCapacityToPowerOfTwo(t *testing.T) {
	q := NewQueue(100)
	require.Equal(t, uint64(128), q.capacity)
}

func TestQueueReserveIsMonotonicAndWrapsOnWrite(t *testing.T) {
	q := NewQueue(4)
	idx0 := q.Reserve()
	idx1 := q.Reserve()
	require.Equal(t, uint64(0), idx0)
	require.Equal(t, uint64(1), idx1)

	q.Write(idx0, DispatchPacket{GridSize: [3]uint32{1, 1, 1}})
	q.Write(idx0+4, DispatchPacket{GridSize: [3]uint32{2, 2, 2}})
	require.Equal(t, [3]uint32{2, 2, 2}, q.slots[0].GridSize)
}
