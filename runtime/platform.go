package runtime

import "github.com/openfluke/accelrt/deviceid"

// LaunchArg is one (pointer, size) pair in a kernel argument block, with an
// optional type tag (§3 Kernel argument block). The platforms carry Type
// through but do not read it.
//
// TexRef is optional (§4.3 Textures): when set, it names the texture
// reference the kernel source declares for this argument, and TexWidth/
// TexHeight/TexElemBytes describe the backing memory's shape instead of
// letting the platform infer a byte length from the buffer's allocation
// size. Non-texture arguments leave all four fields zero.
type LaunchArg struct {
	Ptr  uintptr
	Size int
	Type int32

	TexRef       string
	TexWidth     uint32
	TexHeight    uint32
	TexElemBytes uint32
}

// KernelInfo is the tuple a two-level kernel cache resolves to: the
// compiled kernel's segment sizes, needed to size the kernarg buffer and to
// assert the idempotency testable property (§8).
type KernelInfo struct {
	KernargSegmentSize  int
	GroupSegmentSize    int
	PrivateSegmentSize  int
}

// RuntimeHandle is the non-owning back-reference a Platform holds into the
// Runtime that owns it (§9: break the Platform↔Runtime cycle with a
// lookup-only handle, never ownership).
type RuntimeHandle interface {
	ProfilingEnabled() bool
	AddKernelTime(microseconds int64)
}

// Platform is the uniform capability set every backend variant exposes
// (§2, §3): {alloc, release, copy, launch, synchronize, load_kernel,
// compile_source}, modeled as a capability-table interface rather than a
// type switch (§9).
type Platform interface {
	Tag() deviceid.Tag
	DeviceCount() int

	Alloc(device int, bytes int64) (uintptr, error)
	AllocHost(device int, bytes int64) (uintptr, error)
	AllocUnified(device int, bytes int64) (uintptr, error)
	Release(device int, ptr uintptr) error
	ReleaseHost(device int, ptr uintptr) error

	// ReadHost and WriteHost stage bytes between a device allocation and a
	// plain Go byte slice; the registry uses them to mediate cross-platform
	// copies through host memory (§4.1).
	ReadHost(device int, ptr uintptr, offset int64, dst []byte) error
	WriteHost(device int, ptr uintptr, offset int64, src []byte) error

	// Copy is the same-platform fast path; it may use device-side DMA
	// instead of staging through host memory.
	Copy(srcDevice int, srcPtr uintptr, srcOffset int64, dstDevice int, dstPtr uintptr, dstOffset int64, bytes int64) error

	LoadKernel(device int, file, name string) (KernelInfo, error)
	Launch(device int, file, name string, grid, block [3]uint32, args []LaunchArg) error
	Synchronize(device int) error

	// Shutdown destroys executables, queues, and signals in reverse order
	// before shutting the backend down (§3 Lifecycles).
	Shutdown() error
}
