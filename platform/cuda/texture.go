package cuda

import (
	"fmt"
	"regexp"

	"github.com/openfluke/webgpu/wgpu"
)

// TextureResource describes one texture-shaped argument's backing memory
// parameterized from the caller's own resource description (§4.3 Textures
// — width, height, and element size passed explicitly, never hard-coded).
// This stack has no real wgpu texture object wired through accel.Device;
// a texture reference is represented as a storage buffer whose bind-group
// entry size is computed from these fields instead of the buffer's full
// allocation size, the same parameterization the reference achieves with
// CUDA_ARRAY_DESCRIPTOR.
type TextureResource struct {
	Ptr       uintptr
	Width     uint32
	Height    uint32
	ElemBytes uint32
}

func (t TextureResource) byteLength() uint64 {
	return uint64(t.Width) * uint64(t.Height) * uint64(t.ElemBytes)
}

var textureRefPattern = regexp.MustCompile(`//\s*texref\s+(\w+)\s+binding=(\d+)`)

// findTextureBinding scans linked kernel source for a texture-reference
// annotation comment of the form "// texref <name> binding=<n>", emitted
// by this stack's kernel authors in place of a real texture-object
// declaration wgpu does not expose to compute shaders the way NVVM's
// texture references do. Absent the annotation the caller skips texture
// binding entirely, matching §4.3's "only required when the kernel
// declares a texture reference with matching name".
func findTextureBinding(source, name string) (binding int, ok bool) {
	for _, m := range textureRefPattern.FindAllStringSubmatch(source, -1) {
		if m[1] == name {
			b := 0
			for _, c := range m[2] {
				b = b*10 + int(c-'0')
			}
			return b, true
		}
	}
	return 0, false
}

// BindTexture resolves a named texture reference in the given kernel's
// linked source and, if present, returns the bind-group entry for it,
// flagged to read as an opaque byte blob (the "integer" element format
// stand-in) at the parameterized address+length described by res. If the
// kernel declares no such reference, ok is false and this step is skipped.
func (p *Platform) BindTexture(file, name, refName string, res TextureResource) (entry wgpu.BindGroupEntry, ok bool, err error) {
	prog, found := p.dev.ProgramSource(file)
	if !found {
		return wgpu.BindGroupEntry{}, false, fmt.Errorf("cuda: BindTexture: program %q not loaded", file)
	}
	binding, found := findTextureBinding(prog.Source, refName)
	if !found {
		return wgpu.BindGroupEntry{}, false, nil
	}
	buf, _, err := p.dev.Buffer(res.Ptr)
	if err != nil {
		return wgpu.BindGroupEntry{}, false, fmt.Errorf("cuda: BindTexture: %w", err)
	}
	return wgpu.BindGroupEntry{Binding: uint32(binding), Buffer: buf, Size: res.byteLength()}, true, nil
}
