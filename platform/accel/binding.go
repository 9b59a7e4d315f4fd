package accel

import "regexp"

var bindingPattern = regexp.MustCompile(`@binding\((\d+)\)`)

// CountBindings scans linked WGSL source for its highest @binding(N)
// declaration and returns N+1 — the number of storage-buffer arguments the
// compiled kernel expects, standing in for the argument count a real HSA
// kernel's ELF metadata would carry (§3 Kernel argument block). Kernels
// with no binding at all (no buffer arguments) report 0.
func CountBindings(source string) int {
	matches := bindingPattern.FindAllStringSubmatch(source, -1)
	max := -1
	for _, m := range matches {
		n := 0
		for _, c := range m[1] {
			n = n*10 + int(c-'0')
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}
