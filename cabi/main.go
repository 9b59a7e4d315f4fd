package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"fmt"
	"os"
	"unsafe"

	"go.uber.org/zap"

	"github.com/openfluke/accelrt/deviceid"
	"github.com/openfluke/accelrt/internal/rtlog"
	"github.com/openfluke/accelrt/platform/cpu"
	"github.com/openfluke/accelrt/platform/cuda"
	"github.com/openfluke/accelrt/platform/hsa"
	"github.com/openfluke/accelrt/programs"
	rt "github.com/openfluke/accelrt/runtime"
)

// rtInstance is the process-wide Runtime every exported symbol forwards to.
// It is built once at package init, registering platforms in the fixed
// order host -> hsa -> cuda (§3 Lifecycles); hsa/cuda registration failures
// (no compatible agent/device on this host) are logged and skipped rather
// than aborting the process, since a host-only machine is a valid target.
var rtInstance *rt.Runtime

func init() {
	rtInstance = rt.New(os.Getenv("ACCELRT_PROFILE") == "1")
	rtInstance.Register(cpu.New(rtInstance))

	if p, err := hsa.New(rtInstance, programs.Default); err != nil {
		rtlog.Warn("cabi.init: hsa platform unavailable", zap.Error(err))
	} else {
		rtInstance.Register(p)
	}

	if p, err := cuda.New(rtInstance, programs.Default); err != nil {
		rtlog.Warn("cabi.init: cuda platform unavailable", zap.Error(err))
	} else {
		rtInstance.Register(p)
	}
}

//export accelrt_alloc
func accelrt_alloc(deviceID C.int32_t, bytes C.int64_t) C.uintptr_t {
	ptr, err := rtInstance.Alloc(int32(deviceID), int64(bytes))
	if err != nil {
		rtlog.Warn("accelrt_alloc", zap.Error(err))
		return 0
	}
	return C.uintptr_t(ptr)
}

//export accelrt_alloc_host
func accelrt_alloc_host(deviceID C.int32_t, bytes C.int64_t) C.uintptr_t {
	ptr, err := rtInstance.AllocHost(int32(deviceID), int64(bytes))
	if err != nil {
		rtlog.Warn("accelrt_alloc_host", zap.Error(err))
		return 0
	}
	return C.uintptr_t(ptr)
}

//export accelrt_alloc_unified
func accelrt_alloc_unified(deviceID C.int32_t, bytes C.int64_t) C.uintptr_t {
	ptr, err := rtInstance.AllocUnified(int32(deviceID), int64(bytes))
	if err != nil {
		rtlog.Warn("accelrt_alloc_unified", zap.Error(err))
		return 0
	}
	return C.uintptr_t(ptr)
}

// accelrt_get_device_ptr resolves the device-visible address backing a host
// allocation. This stack's host-visible allocations already live in the
// same handle namespace as the device that allocated them (§3), so the
// device-visible pointer is the host pointer itself; the symbol is kept
// separate so the ABI table stays stable if that stops being true.
//
//export accelrt_get_device_ptr
func accelrt_get_device_ptr(deviceID C.int32_t, hostPtr C.uintptr_t) C.uintptr_t {
	return hostPtr
}

//export accelrt_release
func accelrt_release(deviceID C.int32_t, ptr C.uintptr_t) {
	if err := rtInstance.Release(int32(deviceID), uintptr(ptr)); err != nil {
		rtlog.Warn("accelrt_release", zap.Error(err))
	}
}

//export accelrt_release_host
func accelrt_release_host(deviceID C.int32_t, ptr C.uintptr_t) {
	if err := rtInstance.ReleaseHost(int32(deviceID), uintptr(ptr)); err != nil {
		rtlog.Warn("accelrt_release_host", zap.Error(err))
	}
}

//export accelrt_copy
func accelrt_copy(srcID C.int32_t, srcPtr C.uintptr_t, srcOff C.int64_t, dstID C.int32_t, dstPtr C.uintptr_t, dstOff C.int64_t, bytes C.int64_t) {
	err := rtInstance.Copy(int32(srcID), uintptr(srcPtr), int64(srcOff), int32(dstID), uintptr(dstPtr), int64(dstOff), int64(bytes))
	if err != nil {
		rtlog.Warn("accelrt_copy", zap.Error(err))
	}
}

// accelrt_launch_kernel marshals the C argument arrays into []rt.LaunchArg
// and forwards to the runtime. It holds no dispatch logic of its own (§6:
// "forwarders that hold no logic beyond marshaling").
//
//export accelrt_launch_kernel
func accelrt_launch_kernel(
	deviceID C.int32_t,
	file *C.char, name *C.char,
	gridX, gridY, gridZ C.uint32_t,
	blockX, blockY, blockZ C.uint32_t,
	argPtrs *C.uintptr_t, argSizes *C.int32_t, argTypes *C.int32_t, numArgs C.int32_t,
) {
	n := int(numArgs)
	args := make([]rt.LaunchArg, n)
	if n > 0 {
		ptrSlice := (*[1 << 20]C.uintptr_t)(unsafe.Pointer(argPtrs))[:n:n]
		sizeSlice := (*[1 << 20]C.int32_t)(unsafe.Pointer(argSizes))[:n:n]
		typeSlice := (*[1 << 20]C.int32_t)(unsafe.Pointer(argTypes))[:n:n]
		for i := 0; i < n; i++ {
			args[i] = rt.LaunchArg{
				Ptr:  uintptr(ptrSlice[i]),
				Size: int(sizeSlice[i]),
				Type: int32(typeSlice[i]),
			}
		}
	}

	grid := [3]uint32{uint32(gridX), uint32(gridY), uint32(gridZ)}
	block := [3]uint32{uint32(blockX), uint32(blockY), uint32(blockZ)}

	err := rtInstance.Launch(int32(deviceID), C.GoString(file), C.GoString(name), grid, block, args)
	if err != nil {
		rtlog.Warn("accelrt_launch_kernel", zap.String("file", C.GoString(file)), zap.String("kernel", C.GoString(name)), zap.Error(err))
	}
}

//export accelrt_synchronize
func accelrt_synchronize(deviceID C.int32_t) {
	if err := rtInstance.Synchronize(int32(deviceID)); err != nil {
		rtlog.Warn("accelrt_synchronize", zap.Error(err))
	}
}

//export accelrt_get_kernel_time
func accelrt_get_kernel_time() C.int64_t {
	return C.int64_t(rtInstance.KernelTime())
}

//export accelrt_register_file
func accelrt_register_file(path *C.char, text *C.char) {
	programs.Default.RegisterFile(C.GoString(path), C.GoString(text))
}

//export accelrt_print_int
func accelrt_print_int(v C.int64_t) {
	fmt.Fprintln(os.Stderr, int64(v))
}

//export accelrt_print_float
func accelrt_print_float(v C.double) {
	fmt.Fprintln(os.Stderr, float64(v))
}

// accelrt_encode_device_id is exported so host-language bindings can build
// device ids without reimplementing the encode bit layout (§3).
//
//export accelrt_encode_device_id
func accelrt_encode_device_id(tag C.int32_t, index C.uint32_t) C.int32_t {
	return C.int32_t(deviceid.Encode(deviceid.Tag(tag), uint32(index)))
}

func main() {}
