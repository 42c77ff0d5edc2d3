package patch

import (
	"math"
)

// Particles holds macro-particles as a structure of arrays. Chi is nil
// unless the species tracks the quantum parameter.
type Particles struct {
	NDim     int
	Position [3][]float64
	Momentum [3][]float64
	Weight   []float64
	Charge   []float64
	Chi      []float64
	ID       []uint64
}

func NewParticles(nDim int, withChi bool) (p *Particles) {
	p = &Particles{NDim: nDim}
	if withChi {
		p.Chi = []float64{}
	}
	return
}

func (p *Particles) Len() int { return len(p.Weight) }

func (p *Particles) HasChi() bool { return p.Chi != nil }

// Push appends one particle.
func (p *Particles) Push(pos []float64, mom [3]float64, weight, charge, chi float64, id uint64) {
	for d := 0; d < p.NDim; d++ {
		p.Position[d] = append(p.Position[d], pos[d])
	}
	for d := 0; d < 3; d++ {
		p.Momentum[d] = append(p.Momentum[d], mom[d])
	}
	p.Weight = append(p.Weight, weight)
	p.Charge = append(p.Charge, charge)
	if p.Chi != nil {
		p.Chi = append(p.Chi, chi)
	}
	p.ID = append(p.ID, id)
}

// CopyParticle appends particle i of src.
func (p *Particles) CopyParticle(src *Particles, i int) {
	var chi float64
	if src.Chi != nil {
		chi = src.Chi[i]
	}
	pos := make([]float64, p.NDim)
	for d := 0; d < p.NDim; d++ {
		pos[d] = src.Position[d][i]
	}
	p.Push(pos, [3]float64{src.Momentum[0][i], src.Momentum[1][i], src.Momentum[2][i]},
		src.Weight[i], src.Charge[i], chi, src.ID[i])
}

// Append moves all of src at the end of p.
func (p *Particles) Append(src *Particles) {
	if src == nil {
		return
	}
	for d := 0; d < p.NDim; d++ {
		p.Position[d] = append(p.Position[d], src.Position[d]...)
	}
	for d := 0; d < 3; d++ {
		p.Momentum[d] = append(p.Momentum[d], src.Momentum[d]...)
	}
	p.Weight = append(p.Weight, src.Weight...)
	p.Charge = append(p.Charge, src.Charge...)
	if p.Chi != nil {
		if src.Chi != nil {
			p.Chi = append(p.Chi, src.Chi...)
		} else {
			p.Chi = append(p.Chi, make([]float64, src.Len())...)
		}
	}
	p.ID = append(p.ID, src.ID...)
}

// Remove deletes particle i by moving the last particle into its slot.
func (p *Particles) Remove(i int) {
	last := p.Len() - 1
	for d := 0; d < p.NDim; d++ {
		p.Position[d][i] = p.Position[d][last]
		p.Position[d] = p.Position[d][:last]
	}
	for d := 0; d < 3; d++ {
		p.Momentum[d][i] = p.Momentum[d][last]
		p.Momentum[d] = p.Momentum[d][:last]
	}
	p.Weight[i], p.Weight = p.Weight[last], p.Weight[:last]
	p.Charge[i], p.Charge = p.Charge[last], p.Charge[:last]
	if p.Chi != nil {
		p.Chi[i], p.Chi = p.Chi[last], p.Chi[:last]
	}
	p.ID[i], p.ID = p.ID[last], p.ID[:last]
}

func (p *Particles) Clear() {
	for d := 0; d < 3; d++ {
		p.Position[d] = p.Position[d][:0]
		p.Momentum[d] = p.Momentum[d][:0]
	}
	p.Weight = p.Weight[:0]
	p.Charge = p.Charge[:0]
	if p.Chi != nil {
		p.Chi = p.Chi[:0]
	}
	p.ID = p.ID[:0]
}

// ShrinkToFit releases capacity beyond the current length.
func (p *Particles) ShrinkToFit() {
	shrink := func(s []float64) []float64 {
		if s == nil || cap(s) == len(s) {
			return s
		}
		return append(make([]float64, 0, len(s)), s...)
	}
	for d := 0; d < 3; d++ {
		p.Position[d] = shrink(p.Position[d])
		p.Momentum[d] = shrink(p.Momentum[d])
	}
	p.Weight = shrink(p.Weight)
	p.Charge = shrink(p.Charge)
	p.Chi = shrink(p.Chi)
	if cap(p.ID) != len(p.ID) {
		p.ID = append(make([]uint64, 0, len(p.ID)), p.ID...)
	}
}

func (p *Particles) Gamma(i int) float64 {
	px, py, pz := p.Momentum[0][i], p.Momentum[1][i], p.Momentum[2][i]
	return math.Sqrt(1 + px*px + py*py + pz*pz)
}

// Extract removes the particles for which leave returns true and returns
// them in a new container.
func (p *Particles) Extract(leave func(i int) bool) (out *Particles) {
	out = NewParticles(p.NDim, p.HasChi())
	for i := 0; i < p.Len(); {
		if leave(i) {
			out.CopyParticle(p, i)
			p.Remove(i)
			continue
		}
		i++
	}
	return
}
