package hsa

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

// perAgent bundles one physical agent's device state with its dispatch
// queue and the mutex that serializes packet-reserve + submit so launch
// order on a queue matches submission order on the wgpu queue (§5).
type perAgent struct {
	dev      *accel.Device
	queue    *Queue
	reaper   *accel.Reaper
	launchMu sync.Mutex
}

// Platform is the HSA-class accelerator backend (§4.2): one perAgent per
// enumerated adapter, each with its own cache, signal, and queue.
type Platform struct {
	handle   rt.RuntimeHandle
	cfg      rtconfig.Config
	programs *programs.Registry

	instance *wgpu.Instance
	adapters []*wgpu.Adapter
	agents   []*perAgent
}

// New enumerates every agent the wgpu instance can see and builds a
// perAgent for each (§4.2 "enumerate agents"/"count devices"). Unlike
// detector.EnumerateAll, the instance and adapters built here are kept
// alive for the Platform's lifetime: detector.DescribeAdapter is used
// instead, since a device must be requested from the same adapter object
// that produced its capability report.
func New(handle rt.RuntimeHandle, progRegistry *programs.Registry) (*Platform, error) {
	cfg := rtconfig.Load()

	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("hsa: wgpu.CreateInstance returned nil")
	}

	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		a, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
		if err != nil || a == nil {
			inst.Release()
			return nil, fmt.Errorf("hsa: no agents available: %w", err)
		}
		adapters = []*wgpu.Adapter{a}
	}

	p := &Platform{handle: handle, cfg: cfg, programs: progRegistry, instance: inst, adapters: adapters}

	for i, a := range adapters {
		report, err := detector.DescribeAdapter(a)
		if err != nil {
			rtlog.Warn("hsa.init: describe agent failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		dev, err := a.RequestDevice(nil)
		if err != nil || dev == nil {
			rtlog.Warn("hsa.init: request device failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		queue := dev.GetQueue()

		wgx := report.Recommended.WorkgroupX
		if wgx == 0 {
			wgx = 64
		}

		index := i
		accelDev := accel.NewDevice(index, dev, queue, report, wgx, cfg.DisableCache, func() { dev.Release() })
		reaper := accelDev.StartReaper(handle)
		p.agents = append(p.agents, &perAgent{dev: accelDev, queue: NewQueue(cfg.QueueSize), reaper: reaper})
	}

	if len(p.agents) == 0 {
		for _, a := range adapters {
			a.Release()
		}
		inst.Release()
		return nil, fmt.Errorf("hsa: no agent produced a usable device")
	}
	return p, nil
}

func (p *Platform) Tag() deviceid.Tag { return deviceid.HSA }
func (p *Platform) DeviceCount() int  { return len(p.agents) }

func (p *Platform) agent(device int) (*perAgent, error) {
	if device < 0 || device >= len(p.agents) {
		return nil, fmt.Errorf("hsa: invalid agent index %d", device)
	}
	return p.agents[device], nil
}

func (p *Platform) Alloc(device int, bytes int64) (uintptr, error) {
	a, err := p.agent(device)
	if err != nil {
		return 0, err
	}
	return a.dev.AllocBuffer(bytes, accel.RegionCoarseGrained)
}

func (p *Platform) AllocHost(device int, bytes int64) (uintptr, error) {
	a, err := p.agent(device)
	if err != nil {
		return 0, err
	}
	return a.dev.AllocBuffer(bytes, accel.RegionFineGrained)
}

func (p *Platform) AllocUnified(device int, bytes int64) (uintptr, error) {
	a, err := p.agent(device)
	if err != nil {
		return 0, err
	}
	return a.dev.AllocBuffer(bytes, accel.RegionFineGrained)
}

func (p *Platform) Release(device int, ptr uintptr) error {
	a, err := p.agent(device)
	if err != nil {
		return err
	}
	if ptr == 0 {
		return nil
	}
	return a.dev.FreeBuffer(ptr)
}

func (p *Platform) ReleaseHost(device int, ptr uintptr) error { return p.Release(device, ptr) }

func (p *Platform) ReadHost(device int, ptr uintptr, offset int64, dst []byte) error {
	a, err := p.agent(device)
	if err != nil {
		return err
	}
	return a.dev.ReadBytes(ptr, offset, dst)
}

func (p *Platform) WriteHost(device int, ptr uintptr, offset int64, src []byte) error {
	a, err := p.agent(device)
	if err != nil {
		return err
	}
	return a.dev.WriteBytes(ptr, offset, src)
}

func (p *Platform) Copy(srcDevice int, srcPtr uintptr, srcOffset int64, dstDevice int, dstPtr uintptr, dstOffset int64, bytes int64) error {
	src, err := p.agent(srcDevice)
	if err != nil {
		return err
	}
	if srcDevice == dstDevice {
		return src.dev.CopyBuffers(srcPtr, srcOffset, dstPtr, dstOffset, bytes)
	}
	dst, err := p.agent(dstDevice)
	if err != nil {
		return err
	}
	staging := make([]byte, bytes)
	if err := src.dev.ReadBytes(srcPtr, srcOffset, staging); err != nil {
		return fmt.Errorf("hsa: inter-agent copy read: %w", err)
	}
	return dst.dev.WriteBytes(dstPtr, dstOffset, staging)
}

// resolveProgram implements §4.2 steps 1-4: check the program cache, and on
// a miss either load a native-binary (.bin) file verbatim or run an IR
// (.wgsl/.ir) file through the JIT pipeline, then insert first-writer-wins.
// Any other extension is rejected.
func (p *Platform) resolveProgram(a *perAgent, file string) (*accel.CachedProgram, error) {
	if cached, ok := a.dev.LookupProgram(file); ok {
		return cached, nil
	}

	text, err := p.programs.LoadFile(file)
	if err != nil {
		return nil, fmt.Errorf("hsa: load program %q: %w", file, err)
	}

	ext := filepath.Ext(file)
	if ext == ".bin" {
		// A native binary is loaded verbatim, bypassing the JIT pipeline's
		// link step (§4.4 is for IR sources only).
		module, err := a.dev.WGPU.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          file,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: text},
		})
		if err != nil {
			return nil, fmt.Errorf("hsa: load native binary %q: %w", file, err)
		}
		return a.dev.StoreProgram(file, &accel.CachedProgram{Module: module, Source: text}), nil
	}
	if ext != ".wgsl" && ext != ".ir" {
		return nil, fmt.Errorf("hsa: unsupported kernel file extension %q for %q", ext, file)
	}

	isa := a.dev.Caps.ISAString("gfx")
	opts := jit.RuntimeOptions{ISA: isa, CorrectlyRoundedSqrt: true, OptLevel: 2}
	aux := jit.AuxModules{MathLibPath: p.cfg.MathLibPath, InterfaceLibPath: p.cfg.InterfaceLibPath}
	module, linked, err := jit.Compile(a.dev.WGPU, file, text, opts, aux, p.programs)
	if err != nil {
		return nil, err
	}
	return a.dev.StoreProgram(file, &accel.CachedProgram{Module: module, Source: linked}), nil
}

// resolveKernel implements §4.2 step 5: resolve the program, then build (or
// fetch from cache) the compute pipeline for one entry point within it.
func (p *Platform) resolveKernel(a *perAgent, file, name string) (*accel.CachedKernel, error) {
	if cached, ok := a.dev.LookupKernel(file, name); ok {
		return cached, nil
	}
	prog, err := p.resolveProgram(a, file)
	if err != nil {
		return nil, err
	}

	pipeline, err := a.dev.WGPU.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   file + "::" + name,
		Compute: wgpu.ProgrammableStageDescriptor{Module: prog.Module, EntryPoint: name},
	})
	if err != nil {
		rtlog.Warn("hsa.load_kernel: pipeline creation failed", zap.String("file", file), zap.String("kernel", name), zap.Error(err))
		return nil, fmt.Errorf("hsa: resolve kernel %s/%s: %w", file, name, err)
	}

	numArgs := accel.CountBindings(prog.Source)
	candidate := &accel.CachedKernel{
		Pipeline:   pipeline,
		NumBuffers: numArgs,
		Info:       rt.KernelInfo{KernargSegmentSize: numArgs * 8},
	}
	return a.dev.StoreKernel(file, name, candidate), nil
}

func (p *Platform) LoadKernel(device int, file, name string) (rt.KernelInfo, error) {
	a, err := p.agent(device)
	if err != nil {
		return rt.KernelInfo{}, err
	}
	k, err := p.resolveKernel(a, file, name)
	if err != nil {
		return rt.KernelInfo{}, err
	}
	return k.Info, nil
}

// Launch implements §4.2 steps 6-9: pack a kernarg layout for diagnostics,
// bind each argument to its buffer slot, write and reserve a dispatch
// packet, submit the compute pass, and hand the launch to the reaper.
func (p *Platform) Launch(device int, file, name string, grid, block [3]uint32, args []rt.LaunchArg) error {
	a, err := p.agent(device)
	if err != nil {
		return err
	}
	k, err := p.resolveKernel(a, file, name)
	if err != nil {
		return err
	}

	_, packed := accel.PackLayout(args)
	if !accel.CheckKernargFit(packed, k.Info.KernargSegmentSize) {
		rtlog.Warn("hsa.launch_kernel: kernarg size mismatch",
			zap.String("file", file), zap.String("kernel", name),
			zap.Int("packed", packed), zap.Int("declared", k.Info.KernargSegmentSize))
	}

	entries := make([]wgpu.BindGroupEntry, len(args))
	for i, arg := range args {
		buf, size, err := a.dev.Buffer(arg.Ptr)
		if err != nil {
			return fmt.Errorf("hsa: launch arg %d: %w", i, err)
		}
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: buf, Size: uint64(size)}
	}

	bg, err := a.dev.WGPU.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   name + "_args",
		Layout:  k.BindGroupLayout(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("hsa: CreateBindGroup: %w", err)
	}
	defer bg.Release()

	workgroups := accel.ComputeWorkgroups(grid, block)

	a.launchMu.Lock()
	writeIdx := a.queue.Reserve()
	a.queue.Write(writeIdx, DispatchPacket{
		WorkgroupSize:      block,
		GridSize:           grid,
		GroupSegmentSize:   uint32(k.Info.GroupSegmentSize),
		PrivateSegmentSize: uint32(k.Info.PrivateSegmentSize),
	})

	enc, err := a.dev.WGPU.CreateCommandEncoder(nil)
	if err != nil {
		a.launchMu.Unlock()
		return fmt.Errorf("hsa: CreateCommandEncoder: %w", err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(workgroups[0], workgroups[1], workgroups[2])
	pass.End()

	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		a.launchMu.Unlock()
		return fmt.Errorf("hsa: command encoder Finish: %w", err)
	}

	a.dev.Signal().Increment()
	a.dev.Queue.Submit(cmd)
	cmd.Release()
	a.queue.Doorbell()
	a.launchMu.Unlock()

	a.reaper.Submit(&accel.LaunchRecord{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Profiled:  p.handle != nil && p.handle.ProfilingEnabled(),
	})
	return nil
}

// Synchronize blocks until the agent's signal returns to zero, matching
// hsa_signal_wait_scacquire(..., HSA_SIGNAL_CONDITION_EQ, 0, ...) (§4.2).
func (p *Platform) Synchronize(device int) error {
	a, err := p.agent(device)
	if err != nil {
		return err
	}
	a.dev.Signal().WaitEqual(0)
	return nil
}

// Shutdown tears every agent down in reverse order: reaper, then device
// resources, then the adapter and instance handles that kept it alive
// (§3 Lifecycles).
func (p *Platform) Shutdown() error {
	for i := len(p.agents) - 1; i >= 0; i-- {
		p.agents[i].reaper.Stop()
		p.agents[i].dev.Shutdown()
	}
	for _, a := range p.adapters {
		a.Release()
	}
	if p.instance != nil {
		p.instance.Release()
	}
	return nil
}
