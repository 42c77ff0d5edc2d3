package patch

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/types"
)

// Patch is one rectangular subdomain: the unit of ownership and migration.
// Neighbours are referenced by hindex and owning rank, never by pointer.
type Patch struct {
	Hindex      int
	Pcoord      [3]int
	Neighbor    [3][2]int // hindex of the neighbour on each side, comm.ProcNull outside the domain
	MPINeighbor [3][2]int // owning rank of each neighbour
	Rank        int
	NMoved      int // cells the moving window had advanced when Pcoord was last set

	Params  *Params
	EM      *ElectroMagn
	Species []*Species

	DebyeLength2 float64

	// staged by the moving window, committed after every patch has been relabeled
	tmpNeighbor    [3][2]int
	tmpMPINeighbor [3][2]int

	rng *rand.Rand
}

// New builds an empty patch (no particles) at hindex.
func New(params *Params, hindex, nMoved int) (p *Patch) {
	p = &Patch{
		Params: params,
		NMoved: nMoved,
		EM:     NewElectroMagn(params),
	}
	p.Species = make([]*Species, len(params.Species))
	for is, sp := range params.Species {
		p.Species[is] = NewSpecies(is, sp, params.NDim)
	}
	p.SetHindex(hindex)
	for d := 0; d < 3; d++ {
		p.MPINeighbor[d] = [2]int{comm.ProcNull, comm.ProcNull}
	}
	p.rng = rand.New(rand.NewSource(params.Seed*1000003 + int64(hindex)*7919 + int64(nMoved)))
	return
}

// CloneEmpty returns a structurally identical patch at hindex without
// particles. Field and species containers are shaped like the receiver's.
func (p *Patch) CloneEmpty(hindex, nMoved int) (c *Patch) {
	c = New(p.Params, hindex, nMoved)
	if p.EM.RhoS != nil {
		c.EM.AllocateSpeciesFields(len(p.Species))
	}
	for is, s := range p.Species {
		c.Species[is].Bound = s.Bound
	}
	c.Rank = p.Rank
	return
}

// SetHindex moves the patch to hindex and recomputes its coordinates and
// neighbour hindices from the curve.
func (p *Patch) SetHindex(hindex int) {
	var (
		params = p.Params
		nDim   = params.NDim
	)
	p.Hindex = hindex
	coords := params.Curve.Coords(hindex)
	p.Pcoord = [3]int{}
	copy(p.Pcoord[:], coords)
	for d := 0; d < 3; d++ {
		for side := 0; side < 2; side++ {
			p.Neighbor[d][side] = comm.ProcNull
			if d >= nDim {
				continue
			}
			c := append([]int(nil), coords...)
			c[d] += 2*side - 1
			if c[d] < 0 || c[d] >= params.NPatches[d] {
				if !params.Periodic(d) {
					continue
				}
				c[d] = (c[d] + params.NPatches[d]) % params.NPatches[d]
			}
			p.Neighbor[d][side] = params.Curve.Index(c)
		}
	}
	p.ResetBounds()
}

// ResetBounds restores the particle boundary conditions implied by the
// current position of the patch.
func (p *Patch) ResetBounds() {
	for _, s := range p.Species {
		s.Bound = s.defaultBounds(p)
	}
}

// UpdateMPIenv resolves the owner of every neighbour through the ownership
// map. Must be called whenever the map or the patch hindex changes.
func (p *Patch) UpdateMPIenv(own *ownership.Map) {
	p.Rank = own.RankOf(p.Hindex)
	for d := 0; d < 3; d++ {
		for side := 0; side < 2; side++ {
			p.MPINeighbor[d][side] = comm.ProcNull
			if h := p.Neighbor[d][side]; h != comm.ProcNull {
				p.MPINeighbor[d][side] = own.RankOf(h)
			}
		}
	}
}

// StageNeighbors records neighbour tables to be committed later.
func (p *Patch) StageNeighbors(neighbor, mpiNeighbor [3][2]int) {
	p.tmpNeighbor, p.tmpMPINeighbor = neighbor, mpiNeighbor
}

func (p *Patch) CommitNeighbors() {
	p.Neighbor, p.MPINeighbor = p.tmpNeighbor, p.tmpMPINeighbor
}

func (p *Patch) isMin(d int) bool { return d < p.Params.NDim && p.Pcoord[d] == 0 }

func (p *Patch) isMax(d int) bool {
	return d < p.Params.NDim && p.Pcoord[d] == p.Params.NPatches[d]-1
}

func (p *Patch) IsXmin() bool { return p.isMin(0) }
func (p *Patch) IsXmax() bool { return p.isMax(0) }
func (p *Patch) IsYmin() bool { return p.isMin(1) }
func (p *Patch) IsYmax() bool { return p.isMax(1) }
func (p *Patch) IsZmin() bool { return p.isMin(2) }
func (p *Patch) IsZmax() bool { return p.isMax(2) }

// IsBoundary reports whether side of dimension d lies on a non periodic
// domain face.
func (p *Patch) IsBoundary(d, side int) bool {
	if d >= p.Params.NDim || p.Params.Periodic(d) {
		return false
	}
	if side == types.Min {
		return p.isMin(d)
	}
	return p.isMax(d)
}

// Min is the physical coordinate of the first interior node along d.
func (p *Patch) Min(d int) float64 {
	if d >= p.Params.NDim {
		return 0
	}
	cells := p.Pcoord[d] * p.Params.NSpace[d]
	if d == 0 {
		cells += p.NMoved
	}
	return float64(cells) * p.Params.CellLength[d]
}

func (p *Patch) Max(d int) float64 {
	if d >= p.Params.NDim {
		return 0
	}
	return p.Min(d) + float64(p.Params.NSpace[d])*p.Params.CellLength[d]
}

// Interior is the box of nodes owned by the patch.
func (p *Patch) Interior() (b Box) {
	for d := 0; d < 3; d++ {
		g := p.Params.Ghost(d)
		b.Lo[d] = g
		b.Hi[d] = g + 1
		if d < p.Params.NDim {
			b.Hi[d] = g + p.Params.NSpace[d]
		}
	}
	return
}

// NodePosition returns the physical position of local node (i,j,k).
func (p *Patch) NodePosition(ijk [3]int) (x []float64) {
	x = make([]float64, p.Params.NDim)
	for d := range x {
		x[d] = p.Min(d) + float64(ijk[d]-p.Params.Ghost(d))*p.Params.CellLength[d]
	}
	return
}

// NodeOf returns the local index of the node nearest to position x along d.
func (p *Patch) NodeOf(d int, x float64) int {
	var (
		dx = p.Params.CellLength[d]
		g  = p.Params.Ghost(d)
		i  = int(math.Floor((x-p.Min(d))/dx+0.5)) + g
	)
	if i < 0 {
		i = 0
	}
	if n := p.Params.NSpace[d] + 2*g; i >= n {
		i = n - 1
	}
	return i
}

// Contains reports whether x lies inside the patch along d.
func (p *Patch) Contains(d int, x float64) bool {
	return x >= p.Min(d) && x < p.Max(d)
}

// PeriodicShift is the position offset to apply to a particle crossing the
// given side when that side wraps around a periodic domain.
func (p *Patch) PeriodicShift(d, side int) float64 {
	if !p.Params.Periodic(d) {
		return 0
	}
	length := float64(p.Params.NPatches[d]*p.Params.NSpace[d]) * p.Params.CellLength[d]
	if side == types.Min && p.isMin(d) {
		return length
	}
	if side == types.Max && p.isMax(d) {
		return -length
	}
	return 0
}

// InitParticles fills every interior cell of the patch with fresh particles
// of every species and returns the kinetic energy created per species.
func (p *Patch) InitParticles() (nrj []float64) {
	nrj = make([]float64, len(p.Species))
	for is, s := range p.Species {
		nrj[is] = s.CreateParticles(p, p.rng)
	}
	return
}

// ComputeNRJ returns the field energy and the kinetic energy of each species.
func (p *Patch) ComputeNRJ() (field float64, species []float64) {
	field = p.EM.ComputeNRJ(p.Interior())
	species = make([]float64, len(p.Species))
	for is, s := range p.Species {
		species[is] = s.ComputeNRJ()
	}
	return
}

// ApplyAntennas adds every antenna current at time t.
func (p *Patch) ApplyAntennas(t float64) {
	for _, a := range p.Params.Antennas {
		var (
			j   = p.EM.FieldByName(a.Field)
			amp = a.Time(t)
		)
		if amp == 0 {
			continue
		}
		p.eachInterior(func(ijk [3]int, idx int) {
			j.Data[idx] += amp * a.Space(p.NodePosition(ijk))
		})
	}
}

// ApplyExternalFields adds the configured static fields to E and B.
func (p *Patch) ApplyExternalFields() {
	for _, ef := range p.Params.ExternalFields {
		f := p.EM.FieldByName(ef.Field)
		p.eachInterior(func(ijk [3]int, idx int) {
			f.Data[idx] += ef.Profile(p.NodePosition(ijk))
		})
	}
}

func (p *Patch) eachInterior(fn func(ijk [3]int, idx int)) {
	b := p.Interior()
	f := p.EM.Ex
	for i := b.Lo[0]; i < b.Hi[0]; i++ {
		for j := b.Lo[1]; j < b.Hi[1]; j++ {
			for k := b.Lo[2]; k < b.Hi[2]; k++ {
				fn([3]int{i, j, k}, f.Index(i, j, k))
			}
		}
	}
}

func (p *Patch) String() string {
	return fmt.Sprintf("patch %d %v rank %d", p.Hindex, p.Pcoord[:p.Params.NDim], p.Rank)
}
