package cuda

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfluke/accelrt/programs"
	rt "github.com/openfluke/accelrt/runtime"
)

type stubHandle struct{ profiling bool }

func (h *stubHandle) ProfilingEnabled() bool           { return h.profiling }
func (h *stubHandle) AddKernelTime(microseconds int64) {}

const scaleKernel = `
@group(0) @binding(0) var<storage, read> src : array<f32>;
@group(0) @binding(1) var<storage, read_write> dst : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&dst)) { return; }
	dst[i] = src[i] * 2.0;
}
`

func newTestPlatform(t *testing.T) (*Platform, func()) {
	t.Helper()
	reg := programs.New()
	p, err := New(&stubHandle{}, reg)
	if err != nil {
		t.Skipf("cuda: no usable device on this host: %v", err)
	}
	return p, func() { require.NoError(t, p.Shutdown()) }
}

func TestDeviceCountIsAlwaysOne(t *testing.T) {
	p, done := newTestPlatform(t)
	defer done()
	require.Equal(t, 1, p.DeviceCount())
}

func TestAllocRejectsNonZeroDevice(t *testing.T) {
	p, done := newTestPlatform(t)
	defer done()
	_, err := p.Alloc(1, 64)
	require.Error(t, err)
}

func TestLaunchScaleKernelCoversNonMultipleOfBlockSize(t *testing.T) {
	p, done := newTestPlatform(t)
	defer done()

	p.programs.RegisterFile("scale.wgsl", scaleKernel)

	const n = 1000 // not a multiple of the 256-wide block — exercises ceil-div
	bytes := int64(n * 4)
	srcPtr, err := p.Alloc(0, bytes)
	require.NoError(t, err)
	dstPtr, err := p.Alloc(0, bytes)
	require.NoError(t, err)
	defer p.Release(0, srcPtr)
	defer p.Release(0, dstPtr)

	src := make([]byte, bytes)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(src[i*4:], math.Float32bits(float32(i)))
	}
	require.NoError(t, p.WriteHost(0, srcPtr, 0, src))

	args := []rt.LaunchArg{{Ptr: srcPtr, Size: int(bytes)}, {Ptr: dstPtr, Size: int(bytes)}}
	require.NoError(t, p.Launch(0, "scale.wgsl", "main", [3]uint32{n, 1, 1}, [3]uint32{256, 1, 1}, args))
	require.NoError(t, p.Synchronize(0))

	// The last element lies past 3*256 = 768, so it is only written when the
	// grid is rounded up to 4 workgroups.
	dst := make([]byte, bytes)
	require.NoError(t, p.ReadHost(0, dstPtr, 0, dst))
	last := math.Float32frombits(binary.LittleEndian.Uint32(dst[(n-1)*4:]))
	require.Equal(t, float32(2*(n-1)), last)
}

func TestBindTextureSkipsWhenKernelDeclaresNoReference(t *testing.T) {
	p, done := newTestPlatform(t)
	defer done()

	p.programs.RegisterFile("scale.wgsl", scaleKernel)
	_, err := p.LoadKernel(0, "scale.wgsl", "main")
	require.NoError(t, err)

	_, ok, err := p.BindTexture("scale.wgsl", "main", "frame", TextureResource{Width: 4, Height: 4, ElemBytes: 4})
	require.NoError(t, err)
	require.False(t, ok)
}

const textureKernel = `
// texref frame binding=0
@group(0) @binding(0) var<storage, read> frame : array<f32>;
@group(0) @binding(1) var<storage, read_write> dst : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&dst)) { return; }
	dst[i] = frame[i];
}
`

func TestLaunchBindsDeclaredTextureReference(t *testing.T) {
	p, done := newTestPlatform(t)
	defer done()

	p.programs.RegisterFile("texture.wgsl", textureKernel)

	const n = 16
	bytes := int64(n * 4)
	framePtr, err := p.Alloc(0, bytes)
	require.NoError(t, err)
	dstPtr, err := p.Alloc(0, bytes)
	require.NoError(t, err)
	defer p.Release(0, framePtr)
	defer p.Release(0, dstPtr)

	require.NoError(t, p.WriteHost(0, framePtr, 0, make([]byte, bytes)))

	args := []rt.LaunchArg{
		{Ptr: framePtr, Size: int(bytes), TexRef: "frame", TexWidth: n, TexHeight: 1, TexElemBytes: 4},
		{Ptr: dstPtr, Size: int(bytes)},
	}
	require.NoError(t, p.Launch(0, "texture.wgsl", "main", [3]uint32{n, 1, 1}, [3]uint32{256, 1, 1}, args))
	require.NoError(t, p.Synchronize(0))
}
