// Package accel holds the state shared by both accelerator platform
// classes (§4.2 HSA-class, §4.3 NVVM-class): per-device queue/signal
// bookkeeping, the two-level program/kernel cache, and buffer handle
// tracking — all built over github.com/openfluke/webgpu/wgpu, the one real
// "drive an accelerator" dependency this lineage carries (grounded on
// gpu/context.go and nn/conv2d_gpu.go of the teacher).
package accel

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/accelrt/detector"
	rt "github.com/openfluke/accelrt/runtime"
)

// BufferUsage tags which memory region (§3) a buffer was allocated from.
type BufferUsage int

const (
	RegionCoarseGrained BufferUsage = iota // device-local
	RegionFineGrained                      // host-visible, device-local
	RegionKernarg                          // kernel-argument staging
)

// CachedProgram is the first cache level: a compiled shader module keyed by
// source file path.
type CachedProgram struct {
	Module *wgpu.ShaderModule
	Source string
}

// CachedKernel is the second cache level: a resolved (executable, kernel
// name) pair, with the sizes needed to size a kernarg buffer (§3). The bind
// group layout is the pipeline's auto-derived layout (binding reflection
// off the WGSL source), not one this runtime builds by hand.
type CachedKernel struct {
	Pipeline   *wgpu.ComputePipeline
	NumBuffers int
	Info       rt.KernelInfo
}

// BindGroupLayout returns the pipeline's group-0 layout, lazily derived by
// wgpu from the compiled shader's own @group/@binding declarations.
func (k *CachedKernel) BindGroupLayout() *wgpu.BindGroupLayout {
	return k.Pipeline.GetBindGroupLayout(0)
}

// Device is one accelerator device's runtime state (§3 Device).
type Device struct {
	Index   int
	WGPU    *wgpu.Device
	Queue   *wgpu.Queue
	Caps    *detector.Report
	WorkgroupX uint32

	mu       sync.Mutex
	programs map[string]*CachedProgram
	kernels  map[string]*CachedKernel

	// disableCache mirrors ACCELRT_DISABLE_CACHE (§6): when set, Lookup*
	// always reports a miss, forcing every load_kernel/launch_kernel call
	// to recompile, and Store* releases whatever it's replacing instead of
	// keeping it around as a reusable entry.
	disableCache bool

	buffers    map[uintptr]*wgpu.Buffer
	bufferLens map[uintptr]int64
	nextHandle uint64

	signal *Signal

	release func()
}

// NewDevice wraps a requested wgpu adapter/device pair into accelerator
// device state. release is called, in order, during Shutdown.
func NewDevice(index int, dev *wgpu.Device, queue *wgpu.Queue, caps *detector.Report, wgx uint32, disableCache bool, release func()) *Device {
	return &Device{
		Index:        index,
		WGPU:         dev,
		Queue:        queue,
		Caps:         caps,
		WorkgroupX:   wgx,
		disableCache: disableCache,
		programs:     make(map[string]*CachedProgram),
		kernels:      make(map[string]*CachedKernel),
		buffers:      make(map[uintptr]*wgpu.Buffer),
		bufferLens:   make(map[uintptr]int64),
		signal:       NewSignal(),
		release:      release,
	}
}

func kernelKey(file, name string) string { return file + "::" + name }

// LookupProgram returns the cached module for file, if any (cache level 1).
// Always a miss when the on-disk/pipeline cache is disabled.
func (d *Device) LookupProgram(file string) (*CachedProgram, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disableCache {
		return nil, false
	}
	p, ok := d.programs[file]
	return p, ok
}

// ProgramSource returns the most recently resolved program for file
// regardless of disableCache, for callers (texture-reference resolution)
// that need the linked source text of whatever was last compiled rather
// than a cache-hit/miss signal.
func (d *Device) ProgramSource(file string) (*CachedProgram, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[file]
	return p, ok
}

// StoreProgram inserts file's compiled module. With caching enabled this is
// first-writer-wins (§4.2 step 4): if another goroutine already won the
// race, the caller's module is released instead of leaked, and the winner
// is returned. With caching disabled every call is a fresh compile, so the
// entry being replaced is released immediately rather than retained.
func (d *Device) StoreProgram(file string, candidate *CachedProgram) *CachedProgram {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disableCache {
		if old, ok := d.programs[file]; ok && old.Module != nil {
			old.Module.Release()
		}
		d.programs[file] = candidate
		return candidate
	}
	if existing, ok := d.programs[file]; ok {
		if candidate.Module != nil {
			candidate.Module.Release()
		}
		return existing
	}
	d.programs[file] = candidate
	return candidate
}

// LookupKernel returns the cached (pipeline, sizes) tuple, if any (cache
// level 2). Always a miss when the cache is disabled.
func (d *Device) LookupKernel(file, name string) (*CachedKernel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disableCache {
		return nil, false
	}
	k, ok := d.kernels[kernelKey(file, name)]
	return k, ok
}

// StoreKernel inserts the resolved kernel. See StoreProgram for the
// cache-disabled replace-and-release behavior.
func (d *Device) StoreKernel(file, name string, candidate *CachedKernel) *CachedKernel {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := kernelKey(file, name)
	if d.disableCache {
		if old, ok := d.kernels[key]; ok {
			releasePipeline(old)
		}
		d.kernels[key] = candidate
		return candidate
	}
	if existing, ok := d.kernels[key]; ok {
		releasePipeline(candidate)
		return existing
	}
	d.kernels[key] = candidate
	return candidate
}

func releasePipeline(k *CachedKernel) {
	if k == nil {
		return
	}
	if k.Pipeline != nil {
		k.Pipeline.Release()
	}
}

// Signal returns the device's completion signal.
func (d *Device) Signal() *Signal { return d.signal }

// AllocBuffer allocates bytes from the given region and returns an opaque
// handle. Handles are monotonically increasing small integers rather than
// real addresses: device buffers are never meant to be dereferenced by host
// code directly (§3 invariant: released pointers are never dereferenced).
func (d *Device) AllocBuffer(bytes int64, usage BufferUsage) (uintptr, error) {
	if bytes == 0 {
		return 0, nil
	}
	u := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if usage == RegionFineGrained {
		u |= wgpu.BufferUsageMapRead | wgpu.BufferUsageMapWrite
	}
	buf, err := d.WGPU.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("accelrt-buf-%d", bytes),
		Size:  uint64(bytes),
		Usage: u,
	})
	if err != nil {
		return 0, fmt.Errorf("accel: CreateBuffer: %w", err)
	}

	d.mu.Lock()
	d.nextHandle++
	handle := uintptr(d.nextHandle)
	d.buffers[handle] = buf
	d.bufferLens[handle] = bytes
	d.mu.Unlock()
	return handle, nil
}

// FreeBuffer releases a buffer handle. Free is mandatory (§4.2 alloc/release).
func (d *Device) FreeBuffer(handle uintptr) error {
	d.mu.Lock()
	buf, ok := d.buffers[handle]
	if ok {
		delete(d.buffers, handle)
		delete(d.bufferLens, handle)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("accel: release of unknown buffer handle")
	}
	buf.Release()
	return nil
}

// Buffer exposes the raw wgpu buffer and its byte length for a handle, so a
// Platform can build bind-group entries directly from launch arguments.
func (d *Device) Buffer(handle uintptr) (*wgpu.Buffer, int64, error) {
	return d.bufferAt(handle)
}

func (d *Device) bufferAt(handle uintptr) (*wgpu.Buffer, int64, error) {
	d.mu.Lock()
	buf, ok := d.buffers[handle]
	n := d.bufferLens[handle]
	d.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("accel: dereference of unknown/released buffer handle")
	}
	return buf, n, nil
}

// WriteBytes uploads src into the buffer at handle, offset bytes in.
func (d *Device) WriteBytes(handle uintptr, offset int64, src []byte) error {
	buf, n, err := d.bufferAt(handle)
	if err != nil {
		return err
	}
	if offset < 0 || offset+int64(len(src)) > n {
		return fmt.Errorf("accel: WriteBytes out of bounds")
	}
	d.Queue.WriteBuffer(buf, uint64(offset), src)
	return nil
}

// ReadBytes downloads len(dst) bytes from the buffer at handle, offset
// bytes in, blocking the caller until the mapping completes (§4.2 copy:
// "synchronous with respect to the caller").
func (d *Device) ReadBytes(handle uintptr, offset int64, dst []byte) error {
	buf, n, err := d.bufferAt(handle)
	if err != nil {
		return err
	}
	size := int64(len(dst))
	if offset < 0 || offset+size > n {
		return fmt.Errorf("accel: ReadBytes out of bounds")
	}

	staging, err := d.WGPU.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "accelrt-readback",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("accel: CreateBuffer(staging): %w", err)
	}
	defer staging.Release()

	enc, err := d.WGPU.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("accel: CreateCommandEncoder: %w", err)
	}
	enc.CopyBufferToBuffer(buf, uint64(offset), staging, 0, uint64(size))
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("accel: command encoder Finish: %w", err)
	}
	d.Queue.Submit(cmd)
	cmd.Release()

	done := false
	if err := staging.MapAsync(wgpu.MapModeRead, 0, uint64(size), func(wgpu.BufferMapAsyncStatus) { done = true }); err != nil {
		return fmt.Errorf("accel: MapAsync: %w", err)
	}
	for i := 0; i < 100000 && !done; i++ {
		d.WGPU.Poll(true, nil)
	}
	if !done {
		return fmt.Errorf("accel: ReadBytes: map never completed")
	}
	mapped := staging.GetMappedRange(0, uint(size))
	copy(dst, mapped)
	staging.Unmap()
	return nil
}

// CopyBuffers copies bytes directly between two buffer handles on this
// device, device-side, without round-tripping through host memory.
func (d *Device) CopyBuffers(srcHandle uintptr, srcOffset int64, dstHandle uintptr, dstOffset int64, bytes int64) error {
	src, srcLen, err := d.bufferAt(srcHandle)
	if err != nil {
		return fmt.Errorf("copy: src: %w", err)
	}
	dst, dstLen, err := d.bufferAt(dstHandle)
	if err != nil {
		return fmt.Errorf("copy: dst: %w", err)
	}
	if srcOffset < 0 || srcOffset+bytes > srcLen {
		return fmt.Errorf("copy: src out of bounds")
	}
	if dstOffset < 0 || dstOffset+bytes > dstLen {
		return fmt.Errorf("copy: dst out of bounds")
	}
	enc, err := d.WGPU.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("copy: CreateCommandEncoder: %w", err)
	}
	enc.CopyBufferToBuffer(src, uint64(srcOffset), dst, uint64(dstOffset), uint64(bytes))
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("copy: Finish: %w", err)
	}
	d.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

// Shutdown destroys every cached executable, then the queue/signal/backend
// handles, in reverse order (§3 Lifecycles).
func (d *Device) Shutdown() {
	d.mu.Lock()
	for _, k := range d.kernels {
		releasePipeline(k)
	}
	d.kernels = nil
	for _, p := range d.programs {
		if p.Module != nil {
			p.Module.Release()
		}
	}
	d.programs = nil
	for _, buf := range d.buffers {
		buf.Release()
	}
	d.buffers = nil
	d.mu.Unlock()

	d.signal.Close()
	if d.release != nil {
		d.release()
	}
}
