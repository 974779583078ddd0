package ring

import "github.com/cespare/xxhash/v2"

// position is a 128-bit point on the ring, built from two independent
// 64-bit xxhash digests of the same input. Using two digests instead of one
// keeps the fingerprint function fast (xxhash is non-cryptographic) while
// giving the ring a wide enough space that virtual-node collisions are
// vanishingly rare in practice.
type position struct {
	hi uint64
	lo uint64
}

func hashPosition(s string) position {
	lo := xxhash.Sum64String(s)
	hi := xxhash.Sum64String(s + "\x00hi")
	return position{hi: hi, lo: lo}
}

// less reports whether p sorts strictly before q.
func (p position) less(q position) bool {
	if p.hi != q.hi {
		return p.hi < q.hi
	}
	return p.lo < q.lo
}

// angle maps the position onto [0, 360) purely for visualization; no
// routing decision ever consults it.
func (p position) angle() float64 {
	// Use the high 64 bits as the dominant term; this is a presentation
	// detail only, so a slight bias towards hi is harmless.
	return (float64(p.hi>>32) / float64(1<<32)) * 360.0
}
