package ownership

import (
	"fmt"
	"sort"
)

// Map assigns a contiguous range of hindices to every rank, in rank order.
// A Map is a value: rebalancing produces a new Map with a higher Version.
type Map struct {
	Version int
	Counts  []int // patch count per rank
	starts  []int // prefix sums, len(Counts)+1
}

func New(counts []int, version int) (m *Map) {
	m = &Map{
		Version: version,
		Counts:  append([]int(nil), counts...),
		starts:  make([]int, len(counts)+1),
	}
	for r, n := range counts {
		if n < 0 {
			panic(fmt.Errorf("ownership map: rank %d has negative patch count %d", r, n))
		}
		m.starts[r+1] = m.starts[r] + n
	}
	return
}

// Validate checks that every rank owns at least one patch. Patch migration
// and the moving window both clone from a patch the rank already holds.
func (m *Map) Validate() error {
	if len(m.Counts) == 0 {
		return fmt.Errorf("ownership map %v has no rank", m)
	}
	for r, n := range m.Counts {
		if n < 1 {
			return fmt.Errorf("ownership map %v: rank %d owns no patch", m, r)
		}
	}
	return nil
}

// Next returns a map with new counts and the following version.
func (m *Map) Next(counts []int) *Map {
	return New(counts, m.Version+1)
}

func (m *Map) NRanks() int { return len(m.Counts) }

func (m *Map) Total() int { return m.starts[len(m.Counts)] }

// Start is the first hindex owned by rank.
func (m *Map) Start(rank int) int { return m.starts[rank] }

// End is one past the last hindex owned by rank.
func (m *Map) End(rank int) int { return m.starts[rank+1] }

func (m *Map) Owns(rank, hindex int) bool {
	return hindex >= m.starts[rank] && hindex < m.starts[rank+1]
}

// RankOf returns the owner of hindex, or -1 when hindex is outside the map.
func (m *Map) RankOf(hindex int) int {
	if hindex < 0 || hindex >= m.Total() {
		return -1
	}
	// first rank whose end is beyond hindex
	return sort.Search(len(m.Counts), func(r int) bool {
		return m.starts[r+1] > hindex
	})
}

func (m *Map) Equal(o *Map) bool {
	if o == nil || len(o.Counts) != len(m.Counts) {
		return false
	}
	for r := range m.Counts {
		if m.Counts[r] != o.Counts[r] {
			return false
		}
	}
	return true
}

func (m *Map) String() string {
	return fmt.Sprintf("v%d %v", m.Version, m.Counts)
}
