//go:build amd64

package cachegeom

// cpuidLeaf is implemented in cachegeom_amd64.s.
func cpuidLeaf(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
