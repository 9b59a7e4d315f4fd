package accel

import (
	"time"

	"github.com/google/uuid"

	rt "github.com/openfluke/accelrt/runtime"
)

// LaunchRecord is what launch_kernel hands the completion reaper: enough to
// account for the launch once the backend reports it done. Carrying a UUID
// rather than a raw signal pointer keeps log lines for an in-flight launch
// traceable without exposing device-internal handles.
type LaunchRecord struct {
	ID        uuid.UUID
	StartedAt time.Time
	Profiled  bool
}

// Reaper is the single per-device completion-consuming goroutine (§5, §9):
// it replaces the reference implementation's detach-a-thread-per-launch
// pattern with one long-lived consumer per device, draining a bounded
// channel of per-launch records in submission order.
type Reaper struct {
	device *Device
	handle rt.RuntimeHandle
	ch     chan *LaunchRecord
	done   chan struct{}
}

const launchQueueDepth = 256

// StartReaper launches the device's completion reaper goroutine. It must be
// called once, at Platform-construction time, and stopped with Stop at
// Platform-destruction time (§3 Lifecycles).
func (d *Device) StartReaper(handle rt.RuntimeHandle) *Reaper {
	r := &Reaper{
		device: d,
		handle: handle,
		ch:     make(chan *LaunchRecord, launchQueueDepth),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Submit enqueues the record of a launch that has just been submitted to the
// queue; the reaper accounts for it once the device has drained. The device
// signal must already have been incremented by the caller before Submit is
// invoked.
func (r *Reaper) Submit(rec *LaunchRecord) {
	r.ch <- rec
}

func (r *Reaper) run() {
	for {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				return
			}
			// Poll(true, ...) blocks until every command buffer submitted
			// so far has completed; because launches on one device are
			// submitted in order, draining the channel FIFO preserves the
			// "submission order" guarantee (§5) without a per-launch fence.
			r.device.WGPU.Poll(true, nil)
			if rec.Profiled && r.handle != nil {
				elapsedUs := time.Since(rec.StartedAt).Microseconds()
				r.handle.AddKernelTime(elapsedUs)
			}
			r.device.signal.Decrement()
		case <-r.done:
			return
		}
	}
}

// Stop signals the reaper to exit. Safe to call once.
func (r *Reaper) Stop() {
	close(r.done)
}
