// Package patchsync synchronises neighbouring patches, locally and across
// ranks: particle migration and ghost layer summation/exchange of fields.
//
// Dimensions are processed one after the other over the full extent of the
// other dimensions (ghosts included), which carries corner contributions
// through two or three hops. Every call completes its sends before
// returning.
package patchsync

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

// Set is the ordered collection of local patches, with
// Patches[i].Hindex == RefHindex+i.
type Set struct {
	Patches   []*patch.Patch
	RefHindex int
	Comm      comm.Communicator
}

// Local returns the local patch with hindex h, or nil.
func (s Set) Local(h int) *patch.Patch {
	i := h - s.RefHindex
	if i < 0 || i >= len(s.Patches) {
		return nil
	}
	p := s.Patches[i]
	if p.Hindex != h {
		panic(fmt.Errorf("patch list out of order: slot %d holds hindex %d, expected %d", i, p.Hindex, h))
	}
	return p
}

func (s Set) nDim() int {
	if len(s.Patches) == 0 {
		return 1
	}
	return s.Patches[0].Params.NDim
}

// tag of a message arriving at patch recv through side of dimension d.
func (s Set) tag(recv, d, side int) int {
	return recv*(2*s.nDim()) + 2*d + side
}

func (s Set) isLocal(p *patch.Patch, d, side int) bool {
	return p.MPINeighbor[d][side] == s.Comm.Rank()
}

// FieldSelector picks the fields of a patch taking part in a sync.
type FieldSelector func(p *patch.Patch) []*patch.Field

// SumFields adds each ghost layer into the interior edge of the neighbour it
// overlaps, then refreshes the ghosts from the neighbours' interiors.
func SumFields(s Set, sel FieldSelector) {
	for d := 0; d < s.nDim(); d++ {
		s.syncDim(d, sel, true)
	}
	ExchangeFields(s, sel)
}

// ExchangeFields copies each neighbour's interior edge into the matching
// ghost layer.
func ExchangeFields(s Set, sel FieldSelector) {
	for d := 0; d < s.nDim(); d++ {
		s.syncDim(d, sel, false)
	}
}

func (s Set) syncDim(d int, sel FieldSelector, sum bool) {
	var (
		reqs  []*comm.Request
		c     = s.Comm
		moves []func()
	)
	// source region on the sender for data headed through side
	source := func(p *patch.Patch, side int) patch.Box {
		if sum {
			return p.EM.GhostSlab(d, side)
		}
		return p.EM.EdgeSlab(d, side)
	}
	// destination region on the receiver for data arriving through side
	dest := func(p *patch.Patch, side int) patch.Box {
		if sum {
			return p.EM.EdgeSlab(d, side)
		}
		return p.EM.GhostSlab(d, side)
	}
	for _, p := range s.Patches {
		for side := 0; side < 2; side++ {
			nb := p.Neighbor[d][side]
			if nb == comm.ProcNull {
				continue
			}
			var slab []float64
			for _, f := range sel(p) {
				slab = append(slab, f.Extract(source(p, side))...)
			}
			if s.isLocal(p, d, side) {
				var (
					q       = s.Local(nb)
					qFields = sel(q)
					qSide   = 1 - side
					vals    = slab
				)
				moves = append(moves, func() {
					insertSlab(qFields, dest(q, qSide), vals, sum)
				})
				continue
			}
			reqs = append(reqs, c.Isend(p.MPINeighbor[d][side], s.tag(nb, d, 1-side), encodeFloats(slab)))
		}
	}
	for _, mv := range moves {
		mv()
	}
	for _, p := range s.Patches {
		for side := 0; side < 2; side++ {
			if p.Neighbor[d][side] == comm.ProcNull || s.isLocal(p, d, side) {
				continue
			}
			vals := decodeFloats(c.Recv(p.MPINeighbor[d][side], s.tag(p.Hindex, d, side)))
			insertSlab(sel(p), dest(p, side), vals, sum)
		}
	}
	comm.Waitall(reqs)
}

func insertSlab(fields []*patch.Field, b patch.Box, vals []float64, add bool) {
	n := b.Size()
	if len(vals) != n*len(fields) {
		panic(fmt.Errorf("ghost slab of %d values for %d fields of %d nodes", len(vals), len(fields), n))
	}
	for i, f := range fields {
		f.Insert(b, vals[i*n:(i+1)*n], add)
	}
}

// SumRhoJ reconciles the total charge and current.
func SumRhoJ(s Set) {
	SumFields(s, func(p *patch.Patch) []*patch.Field {
		return []*patch.Field{p.EM.Jx, p.EM.Jy, p.EM.Jz, p.EM.Rho}
	})
}

// SumRhoJs reconciles the charge and current of species is.
func SumRhoJs(s Set, is int) {
	SumFields(s, func(p *patch.Patch) []*patch.Field {
		em := p.EM
		return []*patch.Field{em.JxS[is], em.JyS[is], em.JzS[is], em.RhoS[is]}
	})
}

func ExchangeE(s Set) {
	ExchangeFields(s, func(p *patch.Patch) []*patch.Field {
		return []*patch.Field{p.EM.Ex, p.EM.Ey, p.EM.Ez}
	})
}

func ExchangeB(s Set) {
	ExchangeFields(s, func(p *patch.Patch) []*patch.Field {
		return []*patch.Field{p.EM.Bx, p.EM.By, p.EM.Bz}
	})
}

func encodeFloats(vals []float64) (b []byte) {
	b = make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return
}

func decodeFloats(b []byte) (vals []float64) {
	vals = make([]float64, len(b)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return
}
