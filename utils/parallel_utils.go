package utils

import (
	"sync"
)

// PartitionMap splits the hindex range [0,NPatches) into NParts contiguous
// ranges whose sizes differ by at most one patch. Parts are ranks when it
// seeds the first ownership map and threads inside ParallelFor.
type PartitionMap struct {
	NPatches int
	NParts   int
	Ranges   [][2]int // first hindex and one past the last hindex of each part
}

func NewPartitionMap(nParts, nPatches int) (pm *PartitionMap) {
	pm = &PartitionMap{
		NPatches: nPatches,
		NParts:   nParts,
		Ranges:   make([][2]int, nParts),
	}
	for part := 0; part < nParts; part++ {
		pm.Ranges[part] = pm.split(part)
	}
	return
}

// HindexRange returns the first hindex of part and one past its last.
func (pm *PartitionMap) HindexRange(part int) (first, end int) {
	return pm.Ranges[part][0], pm.Ranges[part][1]
}

// Count is the number of patches in part, or all of them for part -1.
func (pm *PartitionMap) Count(part int) int {
	if part == -1 {
		return pm.NPatches
	}
	first, end := pm.HindexRange(part)
	return end - first
}

// Counts returns the patch count of every part, the initial patch_count of
// a run.
func (pm *PartitionMap) Counts() (counts []int) {
	counts = make([]int, pm.NParts)
	for part := range counts {
		counts[part] = pm.Count(part)
	}
	return
}

func (pm *PartitionMap) split(part int) (r [2]int) {
	var (
		base  = pm.NPatches / pm.NParts
		extra = pm.NPatches % pm.NParts // the first parts take one more patch
	)
	r[0] = part*base + min(part, extra)
	r[1] = r[0] + base
	if part < extra {
		r[1]++
	}
	return
}

// ParallelFor runs fn(i) for i in [0,n) on up to nThreads goroutines, each
// working a contiguous chunk, and returns once every call has finished.
func ParallelFor(n, nThreads int, fn func(i int)) {
	if nThreads < 1 {
		nThreads = 1
	}
	if nThreads > n {
		nThreads = n
	}
	if nThreads <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var (
		pm = NewPartitionMap(nThreads, n)
		wg = sync.WaitGroup{}
	)
	for np := 0; np < nThreads; np++ {
		wg.Add(1)
		go func(np int) {
			first, end := pm.HindexRange(np)
			for i := first; i < end; i++ {
				fn(i)
			}
			wg.Done()
		}(np)
	}
	wg.Wait()
}

// ParallelForErr is ParallelFor for kernels that can fail; the error of the
// lowest failing index is returned.
func ParallelForErr(n, nThreads int, fn func(i int) error) (err error) {
	errs := make([]error, n)
	ParallelFor(n, nThreads, func(i int) {
		errs[i] = fn(i)
	})
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return
}
