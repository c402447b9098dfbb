//go:build !amd64

package cachegeom

// cpuidLeaf has no meaning off x86-64; spec.md §6 restricts the platform
// assumption to x86-64, so this only exists to keep the package buildable
// for tooling (vet, lint) on a developer's non-amd64 workstation.
func cpuidLeaf(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) {
	return 0, 0, 0, 0
}
