package layout

import "math/bits"

// IsPow2 reports whether v is a power of two. Zero is not a power of two.
func IsPow2[T Int](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// Log2Floor returns floor(log2(v)) for v > 0.
func Log2Floor[T Int](v T) uint {
	return uint(bits.Len64(uint64(v)) - 1)
}

// Log2Ceil returns ceil(log2(v)) for v > 0.
func Log2Ceil[T Int](v T) uint {
	log := Log2Floor(v)
	if T(1)<<log < v {
		log++
	}
	return log
}

// NextPow2 rounds v up to the next power of two. NextPow2(0) is 1.
//
// pkg/buddy uses it to round a request up to its size class.
func NextPow2[T Int](v T) T {
	if v <= 1 {
		return 1
	}
	return T(1) << Log2Ceil(v)
}
