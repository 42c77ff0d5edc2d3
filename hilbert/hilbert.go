package hilbert

import (
	"fmt"
	"math/bits"
)

// Curve orders the cells of a grid of 2^M[0] x 2^M[1] x ... patches along a
// Hilbert space filling curve. Every process builds the same Curve from the
// same patch counts, so no communication is needed to agree on the ordering.
type Curve struct {
	M []uint // log2 of the number of patches in each dimension
}

func New(nPatches []int) (c *Curve, err error) {
	if len(nPatches) < 1 || len(nPatches) > 3 {
		err = fmt.Errorf("hilbert curve supports 1 to 3 dimensions, got %d", len(nPatches))
		return
	}
	c = &Curve{M: make([]uint, len(nPatches))}
	for d, n := range nPatches {
		if n < 1 || n&(n-1) != 0 {
			err = fmt.Errorf("number of patches in dimension %d must be a power of 2, got %d", d, n)
			return nil, err
		}
		c.M[d] = uint(bits.TrailingZeros(uint(n)))
	}
	return
}

func (c *Curve) NDim() int { return len(c.M) }

// Size is the total number of patches on the curve.
func (c *Curve) Size() int {
	var total uint
	for _, m := range c.M {
		total += m
	}
	return 1 << total
}

func (c *Curve) Extent(d int) int { return 1 << c.M[d] }

// Index returns the position of the patch at coords along the curve.
func (c *Curve) Index(coords []int) int {
	if len(coords) != len(c.M) {
		panic(fmt.Errorf("hilbert index: %d coordinates for a %d dimensional curve", len(coords), len(c.M)))
	}
	for d, x := range coords {
		if x < 0 || x >= c.Extent(d) {
			panic(fmt.Errorf("hilbert index: coordinate %d = %d outside [0,%d)", d, x, c.Extent(d)))
		}
	}
	return generalIndex(c.M, coords)
}

// Coords is the inverse of Index.
func (c *Curve) Coords(h int) (coords []int) {
	if h < 0 || h >= c.Size() {
		panic(fmt.Errorf("hilbert coords: index %d outside [0,%d)", h, c.Size()))
	}
	coords = make([]int, len(c.M))
	generalCoords(c.M, h, coords)
	return
}

// activeDims lists the dimensions with more than one patch.
func activeDims(m []uint) (active []int) {
	for d, md := range m {
		if md > 0 {
			active = append(active, d)
		}
	}
	return
}

// blockSplit describes a rectangular grid as a grid of cubic blocks of side
// 2^mmin, each one walked with a regular Hilbert curve.
func blockSplit(m []uint, active []int) (mmin uint, blockM []uint, swap bool) {
	mmin = m[active[0]]
	for _, d := range active {
		if m[d] < mmin {
			mmin = m[d]
		}
	}
	blockM = make([]uint, len(m))
	for _, d := range active {
		blockM[d] = m[d] - mmin
	}
	// A 2D curve exits a block along x; blocks stacked along y need the
	// block walked transposed so consecutive blocks stay adjacent.
	swap = len(active) == 2 && blockM[active[0]] == 0 && blockM[active[1]] > 0
	return
}

func generalIndex(m []uint, coords []int) int {
	active := activeDims(m)
	switch len(active) {
	case 0:
		return 0
	case 1:
		return coords[active[0]]
	}
	mmin, blockM, swap := blockSplit(m, active)
	var (
		n     = len(active)
		side  = 1 << mmin
		inner = make([]uint64, n)
		block = make([]int, len(m))
	)
	for i, d := range active {
		inner[i] = uint64(coords[d] & (side - 1))
		block[d] = coords[d] >> mmin
	}
	if swap {
		inner[0], inner[1] = inner[1], inner[0]
	}
	h := cubeIndex(inner, mmin)
	if mmin == m[active[0]] && allEqual(m, active) {
		return h
	}
	return generalIndex(blockM, block)<<(uint(n)*mmin) + h
}

func generalCoords(m []uint, h int, coords []int) {
	active := activeDims(m)
	for d := range coords {
		coords[d] = 0
	}
	switch len(active) {
	case 0:
		return
	case 1:
		coords[active[0]] = h
		return
	}
	mmin, blockM, swap := blockSplit(m, active)
	var (
		n         = len(active)
		cubeBits  = uint(n) * mmin
		innerMask = 1<<cubeBits - 1
	)
	inner := cubeCoords(h&innerMask, n, mmin)
	if swap {
		inner[0], inner[1] = inner[1], inner[0]
	}
	if !allEqual(m, active) {
		generalCoords(blockM, h>>cubeBits, coords)
	}
	for i, d := range active {
		coords[d] = coords[d]<<mmin | int(inner[i])
	}
}

func allEqual(m []uint, active []int) bool {
	for _, d := range active[1:] {
		if m[d] != m[active[0]] {
			return false
		}
	}
	return true
}

// cubeIndex maps a point of the n-cube of side 2^b to its Hilbert index.
func cubeIndex(x []uint64, b uint) int {
	if b == 0 {
		return 0
	}
	axesToTranspose(x, b)
	var h int
	for j := int(b) - 1; j >= 0; j-- {
		for i := range x {
			h = h<<1 | int((x[i]>>uint(j))&1)
		}
	}
	return h
}

func cubeCoords(h, n int, b uint) (x []uint64) {
	x = make([]uint64, n)
	if b == 0 {
		return
	}
	bit := int(b)*n - 1
	for j := int(b) - 1; j >= 0; j-- {
		for i := 0; i < n; i++ {
			x[i] |= uint64((h>>uint(bit))&1) << uint(j)
			bit--
		}
	}
	transposeToAxes(x, b)
	return
}

// axesToTranspose and transposeToAxes are J. Skilling's in-place transforms
// between axis coordinates and the transposed Hilbert index.
func axesToTranspose(x []uint64, b uint) {
	var (
		n = len(x)
		m = uint64(1) << (b - 1)
	)
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}
	for i := 1; i < n; i++ {
		x[i] ^= x[i-1]
	}
	var t uint64
	for q := m; q > 1; q >>= 1 {
		if x[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := 0; i < n; i++ {
		x[i] ^= t
	}
}

func transposeToAxes(x []uint64, b uint) {
	var (
		n    = len(x)
		nMax = uint64(2) << (b - 1)
	)
	t := x[n-1] >> 1
	for i := n - 1; i > 0; i-- {
		x[i] ^= x[i-1]
	}
	x[0] ^= t
	for q := uint64(2); q != nMax; q <<= 1 {
		p := q - 1
		for i := n - 1; i >= 0; i-- {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}
}
