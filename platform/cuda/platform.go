// Package cuda implements the driver+NVVM-class accelerator Platform
// (§4.3): a single default context on device 0, byte-sized alloc/copy,
// ceiling-division grid computation, and event-based per-launch timing —
// all sharing the two-level cache and buffer bookkeeping in
// platform/accel with the HSA-class platform.
package cuda

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/accelrt/deviceid"
	"github.com/openfluke/accelrt/detector"
	"github.com/openfluke/accelrt/internal/rtconfig"
	"github.com/openfluke/accelrt/internal/rtlog"
	"github.com/openfluke/accelrt/jit"
	"github.com/openfluke/accelrt/platform/accel"
	"github.com/openfluke/accelrt/programs"
	rt "github.com/openfluke/accelrt/runtime"
)

// Platform is the NVVM-class accelerator backend. It holds exactly one
// context (device 0), matching the legacy single-default-context
// restriction (§4.3) — DeviceCount always reports 1.
type Platform struct {
	handle   rt.RuntimeHandle
	cfg      rtconfig.Config
	programs *programs.Registry

	instance *wgpu.Instance
	adapter  *wgpu.Adapter

	dev      *accel.Device
	reaper   *accel.Reaper
	launchMu sync.Mutex
}

// New requests the highest-performance adapter and builds the single
// default context (§4.3 Initialization).
func New(handle rt.RuntimeHandle, progRegistry *programs.Registry) (*Platform, error) {
	cfg := rtconfig.Load()

	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("cuda: wgpu.CreateInstance returned nil")
	}

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
	if err != nil || adapter == nil {
		inst.Release()
		return nil, fmt.Errorf("cuda: no device available: %w", err)
	}

	report, err := detector.DescribeAdapter(adapter)
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("cuda: query driver/compiler version: %w", err)
	}

	wgpuDev, err := adapter.RequestDevice(nil)
	if err != nil || wgpuDev == nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("cuda: create context: %w", err)
	}
	queue := wgpuDev.GetQueue()

	wgx := report.Recommended.WorkgroupX
	if wgx == 0 {
		wgx = 256
	}

	accelDev := accel.NewDevice(0, wgpuDev, queue, report, wgx, cfg.DisableCache, func() { wgpuDev.Release() })
	p := &Platform{
		handle:   handle,
		cfg:      cfg,
		programs: progRegistry,
		instance: inst,
		adapter:  adapter,
		dev:      accelDev,
	}
	p.reaper = accelDev.StartReaper(handle)
	return p, nil
}

func (p *Platform) Tag() deviceid.Tag { return deviceid.CUDA }
func (p *Platform) DeviceCount() int  { return 1 }

func (p *Platform) checkDevice(device int) error {
	if device != 0 {
		return fmt.Errorf("cuda: only the default context (device 0) exists, got %d", device)
	}
	return nil
}

func (p *Platform) Alloc(device int, bytes int64) (uintptr, error) {
	if err := p.checkDevice(device); err != nil {
		return 0, err
	}
	return p.dev.AllocBuffer(bytes, accel.RegionCoarseGrained)
}

func (p *Platform) AllocHost(device int, bytes int64) (uintptr, error) {
	if err := p.checkDevice(device); err != nil {
		return 0, err
	}
	return p.dev.AllocBuffer(bytes, accel.RegionFineGrained)
}

func (p *Platform) AllocUnified(device int, bytes int64) (uintptr, error) {
	if err := p.checkDevice(device); err != nil {
		return 0, err
	}
	return p.dev.AllocBuffer(bytes, accel.RegionFineGrained)
}

func (p *Platform) Release(device int, ptr uintptr) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	if ptr == 0 {
		return nil
	}
	return p.dev.FreeBuffer(ptr)
}

func (p *Platform) ReleaseHost(device int, ptr uintptr) error { return p.Release(device, ptr) }

func (p *Platform) ReadHost(device int, ptr uintptr, offset int64, dst []byte) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	return p.dev.ReadBytes(ptr, offset, dst)
}

func (p *Platform) WriteHost(device int, ptr uintptr, offset int64, src []byte) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	return p.dev.WriteBytes(ptr, offset, src)
}

// Copy is always intra-device here: there is only one context.
func (p *Platform) Copy(srcDevice int, srcPtr uintptr, srcOffset int64, dstDevice int, dstPtr uintptr, dstOffset int64, bytes int64) error {
	if err := p.checkDevice(srcDevice); err != nil {
		return err
	}
	if err := p.checkDevice(dstDevice); err != nil {
		return err
	}
	return p.dev.CopyBuffers(srcPtr, srcOffset, dstPtr, dstOffset, bytes)
}

// resolveProgram mirrors hsa.resolveProgram: the kernel pipeline described
// in §4.3 shares the §4.4 JIT pipeline verbatim, only the ISA-key shape
// differs (`sm_`-prefixed rather than `gfx`-prefixed).
func (p *Platform) resolveProgram(file string) (*accel.CachedProgram, error) {
	if cached, ok := p.dev.LookupProgram(file); ok {
		return cached, nil
	}

	text, err := p.programs.LoadFile(file)
	if err != nil {
		return nil, fmt.Errorf("cuda: load program %q: %w", file, err)
	}

	if filepath.Ext(file) == ".bin" {
		module, err := p.dev.WGPU.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          file,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: text},
		})
		if err != nil {
			return nil, fmt.Errorf("cuda: load native binary %q: %w", file, err)
		}
		return p.dev.StoreProgram(file, &accel.CachedProgram{Module: module, Source: text}), nil
	}
	if ext := filepath.Ext(file); ext != ".wgsl" && ext != ".ir" {
		return nil, fmt.Errorf("cuda: unsupported kernel file extension %q for %q", ext, file)
	}

	isa := p.dev.Caps.ISAString("sm_")
	opts := jit.RuntimeOptions{ISA: isa, DenormalsAreZero: true, OptLevel: 2}
	aux := jit.AuxModules{MathLibPath: p.cfg.MathLibPath, InterfaceLibPath: p.cfg.InterfaceLibPath}
	module, linked, err := jit.Compile(p.dev.WGPU, file, text, opts, aux, p.programs)
	if err != nil {
		return nil, err
	}
	return p.dev.StoreProgram(file, &accel.CachedProgram{Module: module, Source: linked}), nil
}

func (p *Platform) resolveKernel(file, name string) (*accel.CachedKernel, error) {
	if cached, ok := p.dev.LookupKernel(file, name); ok {
		return cached, nil
	}
	prog, err := p.resolveProgram(file)
	if err != nil {
		return nil, err
	}

	pipeline, err := p.dev.WGPU.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   file + "::" + name,
		Compute: wgpu.ProgrammableStageDescriptor{Module: prog.Module, EntryPoint: name},
	})
	if err != nil {
		rtlog.Warn("cuda.load_kernel: pipeline creation failed", zap.String("file", file), zap.String("kernel", name), zap.Error(err))
		return nil, fmt.Errorf("cuda: resolve function %s/%s: %w", file, name, err)
	}

	numArgs := accel.CountBindings(prog.Source)
	candidate := &accel.CachedKernel{
		Pipeline:   pipeline,
		NumBuffers: numArgs,
		Info:       rt.KernelInfo{KernargSegmentSize: numArgs * 8},
	}
	return p.dev.StoreKernel(file, name, candidate), nil
}

func (p *Platform) LoadKernel(device int, file, name string) (rt.KernelInfo, error) {
	if err := p.checkDevice(device); err != nil {
		return rt.KernelInfo{}, err
	}
	k, err := p.resolveKernel(file, name)
	if err != nil {
		return rt.KernelInfo{}, err
	}
	return k.Info, nil
}

// Launch implements §4.3 Launch: ceiling-division grid, the cached
// pipeline, zero shared memory (WGSL has no dynamic shared-memory knob in
// this stack), and event record/synchronize/elapsed-time timing threaded
// into the same kernel-time accumulator the HSA path uses.
func (p *Platform) Launch(device int, file, name string, grid, block [3]uint32, args []rt.LaunchArg) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	k, err := p.resolveKernel(file, name)
	if err != nil {
		return err
	}

	_, packed := accel.PackLayout(args)
	if !accel.CheckKernargFit(packed, k.Info.KernargSegmentSize) {
		rtlog.Warn("cuda.launch_kernel: argument size mismatch",
			zap.String("file", file), zap.String("kernel", name),
			zap.Int("packed", packed), zap.Int("declared", k.Info.KernargSegmentSize))
	}

	entries := make([]wgpu.BindGroupEntry, len(args))
	for i, arg := range args {
		if arg.TexRef != "" {
			entry, ok, err := p.BindTexture(file, name, arg.TexRef, TextureResource{
				Ptr:       arg.Ptr,
				Width:     arg.TexWidth,
				Height:    arg.TexHeight,
				ElemBytes: arg.TexElemBytes,
			})
			if err != nil {
				return fmt.Errorf("cuda: launch arg %d: %w", i, err)
			}
			if ok {
				entry.Binding = uint32(i)
				entries[i] = entry
				continue
			}
		}
		buf, size, err := p.dev.Buffer(arg.Ptr)
		if err != nil {
			return fmt.Errorf("cuda: launch arg %d: %w", i, err)
		}
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: buf, Size: uint64(size)}
	}

	bg, err := p.dev.WGPU.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   name + "_args",
		Layout:  k.BindGroupLayout(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("cuda: CreateBindGroup: %w", err)
	}
	defer bg.Release()

	workgroups := accel.ComputeWorkgroups(grid, block)

	p.launchMu.Lock()
	enc, err := p.dev.WGPU.CreateCommandEncoder(nil)
	if err != nil {
		p.launchMu.Unlock()
		return fmt.Errorf("cuda: CreateCommandEncoder: %w", err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(workgroups[0], workgroups[1], workgroups[2])
	pass.End()

	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		p.launchMu.Unlock()
		return fmt.Errorf("cuda: command encoder Finish: %w", err)
	}

	p.dev.Signal().Increment()
	p.dev.Queue.Submit(cmd)
	cmd.Release()
	p.launchMu.Unlock()

	p.reaper.Submit(&accel.LaunchRecord{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Profiled:  p.handle != nil && p.handle.ProfilingEnabled(),
	})
	return nil
}

func (p *Platform) Synchronize(device int) error {
	if err := p.checkDevice(device); err != nil {
		return err
	}
	p.dev.Signal().WaitEqual(0)
	return nil
}

func (p *Platform) Shutdown() error {
	p.reaper.Stop()
	p.dev.Shutdown()
	if p.adapter != nil {
		p.adapter.Release()
	}
	if p.instance != nil {
		p.instance.Release()
	}
	return nil
}
