// Package hsa implements the HSA-class accelerator Platform (§4.2): agent
// enumeration, queues, signals, and the AQL-style dispatch-packet
// bookkeeping around a github.com/openfluke/webgpu/wgpu device.
package hsa

import "sync"

// DispatchPacket mirrors the fields of an AQL kernel-dispatch packet that
// matter to this runtime's own bookkeeping (§4.2); the actual dispatch work
// is carried out by a wgpu compute pass, not by this struct — it exists so
// the packet-queue write-index/doorbell protocol is genuinely modeled
// rather than implied.
type DispatchPacket struct {
	WorkgroupSize      [3]uint32
	GridSize           [3]uint32
	GroupSegmentSize   uint32
	PrivateSegmentSize uint32
}

// Queue is the bounded single-producer ring buffer of dispatch packets a
// real HSA agent reads via its hardware doorbell. capacity must be a power
// of two (§6 ACCELRT_QUEUE_SIZE).
type Queue struct {
	mu         sync.Mutex
	capacity   uint64
	writeIndex uint64
	slots      []DispatchPacket
}

// NewQueue allocates a queue of the given capacity. A capacity of 0 selects
// 64; any other capacity that is not a power of two is rounded up to the
// next one.
func NewQueue(capacity uint32) *Queue {
	if capacity == 0 {
		capacity = 64
	}
	if capacity&(capacity-1) != 0 {
		c := uint32(1)
		for c < capacity {
			c <<= 1
		}
		capacity = c
	}
	return &Queue{capacity: uint64(capacity), slots: make([]DispatchPacket, capacity)}
}

// Reserve atomically claims the next write index, mirroring
// hsa_queue_add_write_index.
func (q *Queue) Reserve() uint64 {
	q.mu.Lock()
	idx := q.writeIndex
	q.writeIndex++
	q.mu.Unlock()
	return idx
}

// Write stores a packet at its reserved index, wrapping at capacity.
func (q *Queue) Write(idx uint64, p DispatchPacket) {
	q.mu.Lock()
	q.slots[idx&(q.capacity-1)] = p
	q.mu.Unlock()
}

// Doorbell is the point at which a real agent would be signaled that a new
// packet is ready to fetch; here the actual submission already happened via
// the wgpu queue, so this is a deliberate no-op kept for symmetry with the
// packet-queue model.
func (q *Queue) Doorbell() {}
