package programs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterThenLoadRoundTrips(t *testing.T) {
	r := New()
	r.RegisterFile("kernel.wgsl", "fn main() {}")
	got, err := r.LoadFile("kernel.wgsl")
	require.NoError(t, err)
	require.Equal(t, "fn main() {}", got)
}

func TestLoadFallsBackToFilesystem(t *testing.T) {
	r := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.wgsl")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0o644))

	got, err := r.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "on disk", got)
}

func TestLoadFileConsultsKernelDirPrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kernel.wgsl"), []byte("from kernel dir"), 0o644))
	t.Setenv("ACCELRT_KERNEL_DIR", dir)

	r := New()
	got, err := r.LoadFile("kernel.wgsl")
	require.NoError(t, err)
	require.Equal(t, "from kernel dir", got)
}

func TestStoreFileWritesUnconditionally(t *testing.T) {
	r := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wgsl")
	require.NoError(t, r.StoreFile(path, "stored"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "stored", string(data))
}
