package cpu

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/openfluke/accelrt/deviceid"
	rt "github.com/openfluke/accelrt/runtime"
)

func TestAllocWriteCopyReadRoundTrip(t *testing.T) {
	p := New(nil)
	require.Equal(t, deviceid.Host, p.Tag())
	require.Equal(t, 1, p.DeviceCount())

	const n = 1024
	ptr, err := p.Alloc(0, n*4)
	require.NoError(t, err)
	require.NotZero(t, ptr)

	want := make([]float32, n)
	for i := range want {
		want[i] = float32(i)
	}
	wantBytes := unsafe.Slice((*byte)(unsafe.Pointer(&want[0])), n*4)
	require.NoError(t, p.WriteHost(0, ptr, 0, wantBytes))

	got := make([]byte, n*4)
	require.NoError(t, p.ReadHost(0, ptr, 0, got))
	require.Equal(t, wantBytes, got)

	require.NoError(t, p.Release(0, ptr))
}

func TestZeroSizeAllocAndInvalidDevice(t *testing.T) {
	p := New(nil)
	ptr, err := p.Alloc(0, 0)
	require.NoError(t, err)
	require.Zero(t, ptr)

	_, err = p.Alloc(1, 16)
	require.Error(t, err)
}

func TestLaunchVecAdd(t *testing.T) {
	p := New(nil)
	const n = 8
	a := make([]float32, n)
	b := make([]float32, n)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		a[i] = float32(i)
		b[i] = float32(2 * i)
	}

	args := []rt.LaunchArg{
		{Ptr: uintptr(unsafe.Pointer(&a[0])), Size: n * 4},
		{Ptr: uintptr(unsafe.Pointer(&b[0])), Size: n * 4},
		{Ptr: uintptr(unsafe.Pointer(&out[0])), Size: n * 4},
	}
	require.NoError(t, p.Launch(0, BuiltinFile, "vecadd", [3]uint32{n, 1, 1}, [3]uint32{1, 1, 1}, args))
	require.NoError(t, p.Synchronize(0))

	for i := 0; i < n; i++ {
		require.Equal(t, float32(3*i), out[i])
	}
}

func TestLoadKernelUnknownIsError(t *testing.T) {
	p := New(nil)
	_, err := p.LoadKernel(0, "nope", "nope")
	require.Error(t, err)
}
