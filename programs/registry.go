// Package programs implements the process-wide program-string registry
// (§4.5): a file-path → in-memory IR text map that lets compiler-emitted
// host code embed IR payloads without touching the filesystem.
package programs

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/openfluke/accelrt/internal/rtconfig"
)

// Registry maps file paths to in-memory IR text. The zero value is usable;
// Default is the process-wide singleton the platforms consult.
type Registry struct {
	mu    sync.RWMutex
	texts map[string]string
}

// Default is the process-wide registry backing accelrt_register_file.
var Default = New()

// New constructs an empty Registry. Tests construct their own instance to
// avoid cross-test pollution of the process-wide Default.
func New() *Registry {
	return &Registry{texts: make(map[string]string)}
}

// RegisterFile stores text under path, overwriting any previous value.
func (r *Registry) RegisterFile(path, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.texts == nil {
		r.texts = make(map[string]string)
	}
	r.texts[path] = text
}

// LoadFile returns the registered text for path if present; otherwise it
// falls back to reading from the filesystem, consulting ACCELRT_KERNEL_DIR
// (§6) as a search-path prefix before the path as given.
func (r *Registry) LoadFile(path string) (string, error) {
	r.mu.RLock()
	text, ok := r.texts[path]
	r.mu.RUnlock()
	if ok {
		return text, nil
	}

	if dir := rtconfig.Load().KernelDir; dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return string(data), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StoreFile writes text to path on disk unconditionally, independent of the
// in-memory registration.
func (r *Registry) StoreFile(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}
