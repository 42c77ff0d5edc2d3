package balance

import (
	"fmt"
	"strings"

	"github.com/james-bowman/sparse"

	"github.com/notargets/gopic/ownership"
)

// Traffic counts the patches moving between every pair of ranks when the
// ownership changes from Old to New. Moves[i][j] is the number of patches
// sent by rank i to rank j.
type Traffic struct {
	Old, New *ownership.Map
	Moves    *sparse.CSR
	Moved    int
}

func TrafficReport(old, next *ownership.Map) (tr *Traffic) {
	if old.Total() != next.Total() || old.NRanks() != next.NRanks() {
		panic(fmt.Errorf("traffic between incompatible maps %v and %v", old, next))
	}
	nr := old.NRanks()
	moves := sparse.NewDOK(nr, nr)
	tr = &Traffic{Old: old, New: next}
	for h := 0; h < old.Total(); h++ {
		from, to := old.RankOf(h), next.RankOf(h)
		if from == to {
			continue
		}
		moves.Set(from, to, moves.At(from, to)+1)
		tr.Moved++
	}
	tr.Moves = moves.ToCSR()
	return
}

// Pairs is the number of rank pairs exchanging patches.
func (tr *Traffic) Pairs() int { return tr.Moves.NNZ() }

// NeighborOnly reports whether every move is between adjacent ranks.
func (tr *Traffic) NeighborOnly() (ok bool) {
	ok = true
	tr.Moves.DoNonZero(func(i, j int, v float64) {
		if i-j > 1 || j-i > 1 {
			ok = false
		}
	})
	return
}

func (tr *Traffic) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ownership %v -> %v, %d patches moved\n", tr.Old, tr.New, tr.Moved)
	tr.Moves.DoNonZero(func(i, j int, v float64) {
		fmt.Fprintf(&sb, "\trank %d -> rank %d: %d patches\n", i, j, int(v))
	})
	return sb.String()
}
