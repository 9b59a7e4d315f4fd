//go:build js && wasm
// +build js,wasm

package detector

import "encoding/json"

// Report stub for WASM (types defined but not populated)
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
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
	WorkgroupX  uint32 `json:"workgroup_x"`
	WorkgroupY  uint32 `json:"workgroup_y"`
	WorkgroupZ  uint32 `json:"workgroup_z"`
	TileX       uint32 `json:"tile_x"`
	TileY       uint32 `json:"tile_y"`
	BudgetBytes uint64 `json:"budget_bytes"`
}

// Detect returns nil for WASM builds: there is no wgpu adapter to probe
// from inside the browser sandbox this build targets.
func Detect() (*Report, error) {
	return nil, nil
}

// DetectJSON mirrors the native build's error-reporting shape instead of
// silently returning an empty/ok-looking payload, so a caller that branches
// on the JSON can tell "no GPU detection available" from "zero devices".
func DetectJSON() (string, error) {
	empty := map[string]interface{}{
		"error": "GPU detection not available in WASM",
	}
	data, err := json.Marshal(empty)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EnumerateAll returns an empty slice for WASM builds (no GPU detection
// available); kept for API parity with the native build.
func EnumerateAll() ([]*Report, error) {
	return nil, nil
}

// ISAString returns prefix unchanged for WASM builds.
func (r *Report) ISAString(prefix string) string {
	return prefix
}
