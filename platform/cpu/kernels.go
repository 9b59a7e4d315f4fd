package cpu

import (
	"fmt"
	"unsafe"

	rt "github.com/openfluke/accelrt/runtime"
)

// BuiltinFile groups the kernels registered by registerBuiltins, mirroring
// how an IR file groups kernel entry points on the accelerator platforms.
const BuiltinFile = "builtin"

func floatsAt(ptr uintptr, bytes int) []float32 {
	n := bytes / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(ptr)), n)
}

// registerBuiltins installs the small set of host-native reference kernels
// exercised by the property/scenario tests (§8): elementwise vector add and
// a plain copy, standing in for a real JIT-compiled kernel on the host
// platform which has no JIT stage at all.
func registerBuiltins(p *Platform) {
	p.Register(BuiltinFile, "vecadd", func(args []rt.LaunchArg, grid, block [3]uint32) error {
		if len(args) != 3 {
			return fmt.Errorf("vecadd: expected 3 args, got %d", len(args))
		}
		a := floatsAt(args[0].Ptr, args[0].Size)
		b := floatsAt(args[1].Ptr, args[1].Size)
		out := floatsAt(args[2].Ptr, args[2].Size)
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		if len(out) < n {
			n = len(out)
		}
		for i := 0; i < n; i++ {
			out[i] = a[i] + b[i]
		}
		return nil
	})

	p.Register(BuiltinFile, "copy", func(args []rt.LaunchArg, grid, block [3]uint32) error {
		if len(args) != 2 {
			return fmt.Errorf("copy: expected 2 args, got %d", len(args))
		}
		src := floatsAt(args[0].Ptr, args[0].Size)
		dst := floatsAt(args[1].Ptr, args[1].Size)
		n := len(src)
		if len(dst) < n {
			n = len(dst)
		}
		copy(dst[:n], src[:n])
		return nil
	})
}
