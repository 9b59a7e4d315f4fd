//go:build !wasm

// Package detector probes the available WebGPU adapters and turns their
// capabilities into the static profile/ISA/float_mode flags (§3 Device)
// each accelerator Platform needs at construction time. Adapted from the
// teacher's single-adapter probe into a multi-adapter enumeration the HSA-
// and NVVM-class platforms both use to build their device list.
package detector

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// Report is a portable summary of one adapter/device's capabilities.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm" (best-effort)
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupSizeZ          uint32 `json:"max_compute_workgroup_size_z"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Conservative 1D workgroup that should run everywhere.
	WorkgroupX uint32 `json:"workgroup_x"`
	WorkgroupY uint32 `json:"workgroup_y"`
	WorkgroupZ uint32 `json:"workgroup_z"`

	// Tiling hints for big ops.
	TileX uint32 `json:"tile_x"`
	TileY uint32 `json:"tile_y"`

	// Soft VRAM/heap budget in bytes for staging + temps.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// ISAString synthesizes the device-class ISA string an accelerator
// Platform's JIT pipeline keys its pipeline cache on (§4.4): a `gfx`-shaped
// tag for the HSA-class platform, an `sm_`-shaped tag for the NVVM-class
// platform. wgpu does not expose a real GPU ISA, so the tag is derived
// deterministically from vendor/device id — stable across runs on the same
// machine, which is all the pipeline cache needs.
func (r *Report) ISAString(prefix string) string {
	h := fnv.New32a()
	h.Write([]byte(r.VendorID + r.DeviceID))
	return fmt.Sprintf("%s%03x", prefix, h.Sum32()&0xfff)
}

// DetectJSON runs a probe of the default adapter and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the default (highest-performance) adapter and device.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	return reportFor(adapter)
}

// EnumerateAll probes every adapter the instance can see (§4.2/§4.3
// "enumerate agents"/"count devices") and returns one Report per adapter,
// releasing each adapter once its report is built. The accelerator
// platforms do not call it: they keep their adapters alive and describe
// them with DescribeAdapter.
func EnumerateAll() ([]*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if err != nil || adapter == nil {
			return nil, fmt.Errorf("no adapters available")
		}
		adapters = []*wgpu.Adapter{adapter}
	}

	reports := make([]*Report, 0, len(adapters))
	for _, a := range adapters {
		rep, err := reportFor(a)
		a.Release()
		if err != nil {
			continue
		}
		reports = append(reports, rep)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no adapters produced a usable report")
	}
	return reports, nil
}

// DescribeAdapter builds a Report for an adapter the caller already holds a
// reference to (and intends to keep alive, e.g. to request a device from
// it) — unlike Detect/EnumerateAll, it does not release the adapter.
func DescribeAdapter(adapter *wgpu.Adapter) (*Report, error) {
	return reportFor(adapter)
}

func reportFor(adapter *wgpu.Adapter) (*Report, error) {
	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, featureName(f))
	}

	wgX, wgY, wgZ := chooseWorkgroup(limits)
	tileX, tileY := chooseTile(limits, wgX, wgY, wgZ)

	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv("ACCELRT_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}

	rep := &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     backendName(info.BackendType),
		AdapterType: adapterTypeName(info.AdapterType),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupSizeY:          limits.Limits.MaxComputeWorkgroupSizeY,
			MaxComputeWorkgroupSizeZ:          limits.Limits.MaxComputeWorkgroupSizeZ,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Features: feats,
		Recommended: Recommendations{
			WorkgroupX: wgX, WorkgroupY: wgY, WorkgroupZ: wgZ,
			TileX: tileX, TileY: tileY,
			BudgetBytes: budget,
		},
		Env: pickEnv([]string{"ACCELRT_BUDGET_MB"}),
	}
	return rep, nil
}

/* ---------- helpers ---------- */

func chooseWorkgroup(l wgpu.SupportedLimits) (uint32, uint32, uint32) {
	maxX := l.Limits.MaxComputeWorkgroupSizeX
	maxTot := l.Limits.MaxComputeInvocationsPerWorkgroup

	candidates := []uint32{256, 128, 64, 32, 16, 8, 4, 1}
	for _, c := range candidates {
		if c <= maxX && c <= maxTot {
			return c, 1, 1
		}
	}
	return 1, 1, 1
}

func chooseTile(l wgpu.SupportedLimits, wgX, wgY, wgZ uint32) (uint32, uint32) {
	tx := wgX * 8
	if tx < 1 {
		tx = 1
	}
	if tx > l.Limits.MaxComputeWorkgroupsPerDimension {
		tx = l.Limits.MaxComputeWorkgroupsPerDimension
	}

	ty := uint32(1)
	if wgY > 1 {
		ty = wgY * 8
		if ty > l.Limits.MaxComputeWorkgroupsPerDimension {
			ty = l.Limits.MaxComputeWorkgroupsPerDimension
		}
	}
	return tx, ty
}

func featureName(f wgpu.FeatureName) string     { return f.String() }
func backendName(b wgpu.BackendType) string     { return b.String() }
func adapterTypeName(t wgpu.AdapterType) string { return t.String() }

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
