package vecpatch

import (
	"fmt"
	"log"

	"github.com/notargets/gopic/balance"
	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/utils"
)

// LoadBalance recomputes the ownership map from the current patch loads and
// migrates patches accordingly.
func (vp *VectorPatch) LoadBalance(t float64) (err error) {
	if err = vp.enter(PhaseIdle); err != nil {
		return
	}
	loads := make([]float64, len(vp.Patches))
	for i, p := range vp.Patches {
		loads[i] = vp.Balance.PatchLoad(p, t)
	}
	next := balance.RecomputePatchCount(vp.Comm, loads, vp.Ownership)
	if vp.isMaster() {
		log.Printf("load balance at t=%g: %s", t, balance.TrafficReport(vp.Ownership, next))
	}
	return vp.Rebalance(next)
}

// Rebalance migrates patches so that the collection matches next.
func (vp *VectorPatch) Rebalance(next *ownership.Map) (err error) {
	if err = vp.enter(PhaseIdle); err != nil {
		return
	}
	if err = checkNext(vp.Ownership, next); err != nil {
		return fmt.Errorf("rank %d: %w", vp.Comm.Rank(), err)
	}
	if err = vp.createPatches(next); err != nil {
		return
	}
	if err = vp.exchangePatches(next); err != nil {
		return
	}
	vp.PatchesHaveMoved()
	return
}

// checkNext rejects the maps the exchange cannot carry out: every rank must
// keep one of its patches and patches only move between adjacent ranks.
// Every rank reaches the same verdict, so no message is left unmatched.
func checkNext(old, next *ownership.Map) (err error) {
	if next.NRanks() != old.NRanks() || next.Total() != old.Total() {
		return fmt.Errorf("ownership map %v does not match %v", next, old)
	}
	if err = next.Validate(); err != nil {
		return
	}
	for r := 0; r < old.NRanks(); r++ {
		if next.End(r) <= old.Start(r) || next.Start(r) >= old.End(r) {
			return fmt.Errorf("ownership %v -> %v: rank %d keeps none of its patches", old, next, r)
		}
	}
	if !balance.TrafficReport(old, next).NeighborOnly() {
		return fmt.Errorf("ownership %v -> %v moves patches past a neighbouring rank", old, next)
	}
	return
}

// createPatches computes the patches to send and receive under next, and
// clones an empty patch for every hindex arriving on this rank.
func (vp *VectorPatch) createPatches(next *ownership.Map) (err error) {
	var (
		rank   = vp.Comm.Rank()
		istart = next.Start(rank)
		iend   = next.End(rank) // one past the last future hindex
		nNow   = len(vp.Patches)
	)
	vp.RefHindex = vp.Patches[0].Hindex
	vp.sendPatchID, vp.recvPatchID, vp.recvPatches = nil, nil, nil
	for h := istart; h < iend; h++ {
		vp.recvPatchID = append(vp.recvPatchID, h)
	}
	for i := 0; i < nNow; i++ {
		if h := vp.RefHindex + i; h < istart || h >= iend {
			vp.sendPatchID = append(vp.sendPatchID, i)
		}
	}
	// drop the hindices already owned, remembering one as the clone template
	existing := -1
	for i := len(vp.recvPatchID) - 1; i >= 0; i-- {
		if h := vp.recvPatchID[i]; h >= vp.RefHindex && h < vp.RefHindex+nNow {
			existing = h
			vp.recvPatchID = append(vp.recvPatchID[:i], vp.recvPatchID[i+1:]...)
		}
	}
	if existing < 0 {
		return fmt.Errorf("rank %d: no patch to clone, owned %d..%d, next %d..%d",
			rank, vp.RefHindex, vp.RefHindex+nNow-1, istart, iend-1)
	}
	template := vp.Patches[existing-vp.RefHindex]
	for _, h := range vp.recvPatchID {
		vp.recvPatches = append(vp.recvPatches, template.CloneEmpty(h, vp.NMoved))
	}
	return
}

// exchangePatches sends the leaving patches and receives the arriving ones.
// Patches leave toward rank-1 until their hindex passes the first future
// hindex of this rank, then toward rank+1; arrivals below the current first
// hindex come from rank-1, the others from rank+1.
func (vp *VectorPatch) exchangePatches(next *ownership.Map) (err error) {
	var (
		c        = vp.Comm
		rank     = c.Rank()
		istart   = next.Start(rank)
		nmessage = vp.Params.NMessage()
		newRank  = rank - 1
		oldRank  = rank - 1
		reqs     []*comm.Request
	)
	encoded := make([][]patch.Message, len(vp.sendPatchID))
	err = utils.ParallelForErr(len(vp.sendPatchID), vp.NThreads, func(k int) (err error) {
		encoded[k], err = vp.Patches[vp.sendPatchID[k]].Messages()
		return
	})
	if err != nil {
		return
	}
	for k, ip := range vp.sendPatchID {
		h := vp.RefHindex + ip
		if h > istart {
			newRank = rank + 1
		}
		for _, m := range encoded[k] {
			reqs = append(reqs, c.Isend(newRank, h*nmessage+m.Offset, m.Payload))
		}
	}
	for i, h := range vp.recvPatchID {
		if h > vp.RefHindex {
			oldRank = rank + 1
		}
		np := vp.recvPatches[i]
		for _, off := range np.MessageOffsets() {
			if err = np.Receive(off, c.Recv(oldRank, h*nmessage+off)); err != nil {
				return
			}
		}
	}
	c.Barrier()
	comm.Waitall(reqs)

	for k := len(vp.sendPatchID) - 1; k >= 0; k-- {
		ip := vp.sendPatchID[k]
		vp.Patches = append(vp.Patches[:ip], vp.Patches[ip+1:]...)
	}
	var before, after []*patch.Patch
	for i, h := range vp.recvPatchID {
		if h > vp.RefHindex {
			after = append(after, vp.recvPatches[i])
		} else {
			before = append(before, vp.recvPatches[i])
		}
	}
	patches := make([]*patch.Patch, 0, len(before)+len(vp.Patches)+len(after))
	patches = append(patches, before...)
	patches = append(patches, vp.Patches...)
	vp.Patches = append(patches, after...)
	vp.recvPatches, vp.recvPatchID, vp.sendPatchID = nil, nil, nil

	vp.Ownership = next
	vp.updateMPIenv()
	for i, p := range vp.Patches {
		if p.Hindex != istart+i {
			return fmt.Errorf("rank %d: after exchange patch %d holds hindex %d, expected %d",
				rank, i, p.Hindex, istart+i)
		}
	}
	return
}
