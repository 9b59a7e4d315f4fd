package jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfluke/accelrt/programs"
)

func TestLinkOnlyIncludesNeededModules(t *testing.T) {
	reg := programs.New()

	body := `@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let x = rt_sqrt(4.0);
}`
	linked, err := Link(body, RuntimeOptions{ISA: "gfx906"}, AuxModules{}, reg)
	require.NoError(t, err)
	require.Contains(t, linked, "RT_CORRECTLY_ROUNDED_SQRT")
	require.Contains(t, linked, "fn rt_sqrt")
	require.NotContains(t, linked, "fn rt_global_id")
}

func TestLinkIncludesInterfaceModuleWhenReferenced(t *testing.T) {
	reg := programs.New()
	body := `fn main() { let i = rt_global_id(vec3<u32>(0,0,0), vec3<u32>(1,1,1)); }`
	linked, err := Link(body, RuntimeOptions{ISA: "sm_86"}, AuxModules{}, reg)
	require.NoError(t, err)
	require.Contains(t, linked, "fn rt_global_id")
	require.NotContains(t, linked, "fn rt_sqrt")
}

func TestAuxModulePathOverridesBuiltin(t *testing.T) {
	reg := programs.New()
	reg.RegisterFile("custom-math.wgsl", "fn rt_sqrt(x: f32) -> f32 { return x; }\n")

	body := `fn main() { let y = rt_sqrt(9.0); }`
	linked, err := Link(body, RuntimeOptions{}, AuxModules{MathLibPath: "custom-math.wgsl"}, reg)
	require.NoError(t, err)
	require.Contains(t, linked, "return x;")
}

func TestCacheKeyDiffersPerISAAndOptLevel(t *testing.T) {
	a := RuntimeOptions{ISA: "gfx906", OptLevel: 2}
	b := RuntimeOptions{ISA: "gfx906", OptLevel: 3}
	c := RuntimeOptions{ISA: "sm_86", OptLevel: 2}
	require.NotEqual(t, a.CacheKey(), b.CacheKey())
	require.NotEqual(t, a.CacheKey(), c.CacheKey())
}
