// Package runtime owns the ordered list of platforms, decodes device ids,
// and routes every ABI call to the right platform (§4.1). It plays the role
// the teacher's pods.Register/pods.Run name→Runner map plays, generalized
// from a flat map to a small ordered capability table keyed by platform tag
// so construction order (§3 Lifecycles: "fixed order") is preserved.
package runtime

import (
	"fmt"
	"sync/atomic"

	"github.com/openfluke/accelrt/deviceid"
	"go.uber.org/zap"

	"github.com/openfluke/accelrt/internal/rtlog"
)

// Runtime multiplexes the C ABI across heterogeneous backends.
type Runtime struct {
	platforms map[deviceid.Tag]Platform
	order     []deviceid.Tag

	profiling    bool
	kernelTimeUs atomic.Int64
}

// New constructs an empty Runtime. Platforms are registered with Register in
// the fixed order the caller wants them brought up (§3 Lifecycles).
func New(profilingEnabled bool) *Runtime {
	return &Runtime{
		platforms: make(map[deviceid.Tag]Platform),
		profiling: profilingEnabled,
	}
}

// Register adds a constructed Platform under its tag. Platforms are
// constructed once at process init; Register is not safe to call again for
// a tag already registered.
func (r *Runtime) Register(p Platform) {
	tag := p.Tag()
	if _, exists := r.platforms[tag]; exists {
		rtlog.Fatal("runtime.register: platform tag already registered", zap.String("tag", tag.String()))
	}
	r.platforms[tag] = p
	r.order = append(r.order, tag)
}

// ProfilingEnabled implements RuntimeHandle.
func (r *Runtime) ProfilingEnabled() bool { return r.profiling }

// AddKernelTime implements RuntimeHandle: accumulated with atomic fetch-add
// from profiling reapers (§5 Shared state).
func (r *Runtime) AddKernelTime(microseconds int64) {
	r.kernelTimeUs.Add(microseconds)
}

// KernelTime returns the accumulated kernel execution time in microseconds,
// backing the accelrt_get_kernel_time ABI symbol.
func (r *Runtime) KernelTime() int64 {
	return r.kernelTimeUs.Load()
}

// Shutdown tears down every registered platform in reverse registration
// order (§3 Lifecycles).
func (r *Runtime) Shutdown() {
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.platforms[r.order[i]].Shutdown(); err != nil {
			rtlog.Warn("runtime.shutdown", zap.String("tag", r.order[i].String()), zap.Error(err))
		}
	}
}

func (r *Runtime) lookup(id int32, op string) (Platform, int) {
	tag, index := deviceid.Decode(id)
	p, ok := r.platforms[tag]
	if !ok {
		rtlog.Fatal("runtime: unknown platform tag",
			zap.String("op", op), zap.String("tag", tag.String()), zap.Int32("device_id", id))
	}
	if int(index) >= p.DeviceCount() {
		rtlog.Fatal("runtime: device index out of range",
			zap.String("op", op), zap.String("tag", tag.String()),
			zap.Uint32("index", index), zap.Int("device_count", p.DeviceCount()))
	}
	return p, int(index)
}

// Alloc validates the device id and forwards to the owning Platform.
// bytes==0 yields a null pointer without touching the backend (§7
// Programmer error).
func (r *Runtime) Alloc(id int32, bytes int64) (uintptr, error) {
	if bytes == 0 {
		return 0, nil
	}
	if bytes < 0 {
		rtlog.Fatal("runtime.alloc: negative size", zap.Int64("bytes", bytes))
	}
	p, dev := r.lookup(id, "alloc")
	return p.Alloc(dev, bytes)
}

func (r *Runtime) AllocHost(id int32, bytes int64) (uintptr, error) {
	if bytes == 0 {
		return 0, nil
	}
	if bytes < 0 {
		rtlog.Fatal("runtime.alloc_host: negative size", zap.Int64("bytes", bytes))
	}
	p, dev := r.lookup(id, "alloc_host")
	return p.AllocHost(dev, bytes)
}

func (r *Runtime) AllocUnified(id int32, bytes int64) (uintptr, error) {
	if bytes == 0 {
		return 0, nil
	}
	if bytes < 0 {
		rtlog.Fatal("runtime.alloc_unified: negative size", zap.Int64("bytes", bytes))
	}
	p, dev := r.lookup(id, "alloc_unified")
	return p.AllocUnified(dev, bytes)
}

// Release is a no-op on a null pointer; released pointers are never
// dereferenced again (§3 Invariants).
func (r *Runtime) Release(id int32, ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	p, dev := r.lookup(id, "release")
	return p.Release(dev, ptr)
}

func (r *Runtime) ReleaseHost(id int32, ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	p, dev := r.lookup(id, "release_host")
	return p.ReleaseHost(dev, ptr)
}

// Copy mediates device-to-device copies across platforms through host
// memory (src→host staging→dst); same-platform copies are delegated
// directly to the Platform, which may use device-side DMA (§4.1).
func (r *Runtime) Copy(srcID int32, srcPtr uintptr, srcOffset int64, dstID int32, dstPtr uintptr, dstOffset int64, bytes int64) error {
	if bytes < 0 {
		rtlog.Fatal("runtime.copy: negative size", zap.Int64("bytes", bytes))
	}
	if bytes == 0 {
		return nil
	}
	srcPlat, srcDev := r.lookup(srcID, "copy(src)")
	dstPlat, dstDev := r.lookup(dstID, "copy(dst)")

	if srcPlat == dstPlat {
		return srcPlat.Copy(srcDev, srcPtr, srcOffset, dstDev, dstPtr, dstOffset, bytes)
	}

	staging := make([]byte, bytes)
	if err := srcPlat.ReadHost(srcDev, srcPtr, srcOffset, staging); err != nil {
		return fmt.Errorf("copy: stage from src: %w", err)
	}
	if err := dstPlat.WriteHost(dstDev, dstPtr, dstOffset, staging); err != nil {
		return fmt.Errorf("copy: stage to dst: %w", err)
	}
	return nil
}

// LoadKernel is exposed directly (not just through Launch) so callers — and
// the idempotency property test (§8) — can observe cache-hit behavior.
func (r *Runtime) LoadKernel(id int32, file, name string) (KernelInfo, error) {
	p, dev := r.lookup(id, "load_kernel")
	return p.LoadKernel(dev, file, name)
}

func (r *Runtime) Launch(id int32, file, name string, grid, block [3]uint32, args []LaunchArg) error {
	p, dev := r.lookup(id, "launch_kernel")
	return p.Launch(dev, file, name, grid, block, args)
}

func (r *Runtime) Synchronize(id int32) error {
	p, dev := r.lookup(id, "synchronize")
	return p.Synchronize(dev)
}
