package core

import "math/bits"

// ISqrt64 returns floor(sqrt(n))
func ISqrt64(n uint64) uint32 {
	if n < 2 {
		return uint32(n)
	}
	// initial guess from the bit length, always >= the root
	x := uint64(1) << ((bits.Len64(n) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return uint32(x)
		}
		x = y
	}
}
