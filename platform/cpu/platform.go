// Package cpu implements the host CPU platform (§4.6): the degenerate
// accelerator. There is exactly one device, allocations are pinned Go byte
// slices tracked by handle, and kernels are native Go functions registered
// ahead of time rather than JIT-compiled — load_kernel's two-level cache
// degenerates to a single name lookup.
package cpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/openfluke/accelrt/deviceid"
	rt "github.com/openfluke/accelrt/runtime"
)

// KernelFunc is a host-native kernel: it receives the marshaled argument
// block directly (no kernarg packing is needed since both caller and
// callee live in the same address space) plus the requested grid/block
// geometry, which a CPU kernel is free to ignore or use to size its own
// work-splitting.
type KernelFunc func(args []rt.LaunchArg, grid, block [3]uint32) error

// Platform is the host CPU backend, device id tag 0.
type Platform struct {
	handle rt.RuntimeHandle

	mu      sync.Mutex
	allocs  map[uintptr][]byte
	kernels map[string]KernelFunc
}

// New constructs the host platform and registers the built-in kernels
// (kernels.go). handle is the non-owning back-reference into the Runtime
// (§9); it may be nil for standalone unit tests of this package.
func New(handle rt.RuntimeHandle) *Platform {
	p := &Platform{
		handle:  handle,
		allocs:  make(map[uintptr][]byte),
		kernels: make(map[string]KernelFunc),
	}
	registerBuiltins(p)
	return p
}

// Register adds a host-native kernel under (file, name). file is a logical
// grouping label for host kernels, not a filesystem path.
func (p *Platform) Register(file, name string, fn KernelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kernels[key(file, name)] = fn
}

func key(file, name string) string { return file + "::" + name }

func (p *Platform) Tag() deviceid.Tag { return deviceid.Host }

func (p *Platform) DeviceCount() int { return 1 }

func (p *Platform) checkDevice(device int) error {
	if device != 0 {
		return fmt.Errorf("cpu: invalid device index %d (only device 0 exists)", device)
	}
	return nil
}

func (p *Platform) alloc(bytes int64) (uintptr, error) {
	if bytes == 0 {
		return 0, nil
	}
	buf := make([]byte, bytes)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	p.mu.Lock()
	p.allocs[ptr] = buf
	p.mu.Unlock()
	return ptr, nil
}

// Alloc, AllocHost and AllocUnified are identical on the host platform:
// there is only one memory space.
func (p *Platform) Alloc(device int, bytes int64) (uintptr, error) {
	if err := p.checkDevice(device); err != nil {
		return 0, err
	}
	return p.alloc(bytes)
}

func (p *Platform) AllocHost(device int, bytes int64) (uintptr, error) {
	return p.Alloc(device, bytes)
}

func (p *Platform) AllocUnified(device int, bytes int64) (uintptr, error) {
	return p.Alloc(device, bytes)
}

func (p *Platform) release(ptr uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.allocs[ptr]; !ok {
		return fmt.Errorf("cpu: release of unknown pointer")
	}
	delete(p.allocs, ptr)
	return nil
}

func (p *Platform) Release(device int, ptr uintptr) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	return p.release(ptr)
}

func (p *Platform) ReleaseHost(device int, ptr uintptr) error {
	return p.Release(device, ptr)
}

func (p *Platform) bufAt(ptr uintptr) ([]byte, error) {
	p.mu.Lock()
	buf, ok := p.allocs[ptr]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cpu: dereference of unknown/released pointer")
	}
	return buf, nil
}

func (p *Platform) ReadHost(device int, ptr uintptr, offset int64, dst []byte) error {
	buf, err := p.bufAt(ptr)
	if err != nil {
		return err
	}
	if offset < 0 || offset+int64(len(dst)) > int64(len(buf)) {
		return fmt.Errorf("cpu: ReadHost out of bounds")
	}
	copy(dst, buf[offset:])
	return nil
}

func (p *Platform) WriteHost(device int, ptr uintptr, offset int64, src []byte) error {
	buf, err := p.bufAt(ptr)
	if err != nil {
		return err
	}
	if offset < 0 || offset+int64(len(src)) > int64(len(buf)) {
		return fmt.Errorf("cpu: WriteHost out of bounds")
	}
	copy(buf[offset:], src)
	return nil
}

// Copy implements the same-platform fast path directly as a byte copy —
// the host platform's "DMA".
func (p *Platform) Copy(srcDevice int, srcPtr uintptr, srcOffset int64, dstDevice int, dstPtr uintptr, dstOffset int64, bytes int64) error {
	srcBuf, err := p.bufAt(srcPtr)
	if err != nil {
		return fmt.Errorf("copy: src: %w", err)
	}
	dstBuf, err := p.bufAt(dstPtr)
	if err != nil {
		return fmt.Errorf("copy: dst: %w", err)
	}
	if srcOffset < 0 || srcOffset+bytes > int64(len(srcBuf)) {
		return fmt.Errorf("copy: src out of bounds")
	}
	if dstOffset < 0 || dstOffset+bytes > int64(len(dstBuf)) {
		return fmt.Errorf("copy: dst out of bounds")
	}
	copy(dstBuf[dstOffset:dstOffset+bytes], srcBuf[srcOffset:srcOffset+bytes])
	return nil
}

// LoadKernel degenerates to a single name lookup: there is no JIT on the
// host platform, kernels are native Go functions registered at init.
func (p *Platform) LoadKernel(device int, file, name string) (rt.KernelInfo, error) {
	if err := p.checkDevice(device); err != nil {
		return rt.KernelInfo{}, err
	}
	p.mu.Lock()
	_, ok := p.kernels[key(file, name)]
	p.mu.Unlock()
	if !ok {
		return rt.KernelInfo{}, fmt.Errorf("cpu: kernel %s/%s not registered", file, name)
	}
	return rt.KernelInfo{}, nil
}

// Launch resolves the kernel and runs it synchronously: host launches never
// queue, so Synchronize is trivially a no-op once Launch returns.
func (p *Platform) Launch(device int, file, name string, grid, block [3]uint32, args []rt.LaunchArg) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	p.mu.Lock()
	fn, ok := p.kernels[key(file, name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("cpu: kernel %s/%s not registered", file, name)
	}
	return fn(args, grid, block)
}

// Synchronize is a no-op: host launches are synchronous with respect to the
// caller already.
func (p *Platform) Synchronize(device int) error {
	return p.checkDevice(device)
}

func (p *Platform) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocs = make(map[uintptr][]byte)
	return nil
}
