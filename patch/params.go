package patch

import (
	"fmt"
	"math"

	"github.com/notargets/gopic/hilbert"
	"github.com/notargets/gopic/profiles"
	"github.com/notargets/gopic/types"
)

// MaxLasers is the number of laser slots reserved per patch in message tags.
const MaxLasers = 4

// Params is the geometry and physics setup shared by every patch of a run.
type Params struct {
	NDim       int
	NPatches   [3]int // patches per dimension, powers of 2, 1 beyond NDim
	NSpace     [3]int // cells per patch
	CellLength [3]float64
	Timestep   float64
	SimTime    float64
	EMBC       [3][2]types.EMBC
	Seed       int64

	Species        []*SpeciesParams
	Lasers         []*LaserParams
	Antennas       []*AntennaParams
	ExternalFields []*ExternalFieldParams
	Collisions     []*CollisionParams
	NProbes        int

	Curve *hilbert.Curve
}

type SpeciesParams struct {
	Name         string
	Mass, Charge float64
	NPartPerCell int
	Density      profiles.Space
	Temperature  [3]float64
	MeanVelocity [3]float64
	IsTest       bool
	TimeFrozen   float64
	BC           [3][2]types.PartBC
	TrackEvery   int
	Chi          bool // carry the quantum parameter array
}

// LaserParams describes a plane wave injected through the Xmin boundary.
type LaserParams struct {
	A0, Omega float64
	Envelope  profiles.Time
	Component int // 1 for Ey, 2 for Ez
}

// AntennaParams adds amplitude*Space(x)*Time(t) to one current component.
type AntennaParams struct {
	Field string // Jx, Jy or Jz
	Space profiles.Space
	Time  profiles.Time
}

type ExternalFieldParams struct {
	Field   string // Ex .. Bz
	Profile profiles.Space
}

type CollisionParams struct {
	Species     []int
	Strength    float64
	DebyeLength bool
	Every       int
}

// Init validates the geometry and builds the Hilbert curve.
func (p *Params) Init() (err error) {
	if p.NDim < 1 || p.NDim > 3 {
		return fmt.Errorf("number of dimensions must be 1, 2 or 3, got %d", p.NDim)
	}
	for d := 0; d < 3; d++ {
		if d >= p.NDim {
			p.NPatches[d], p.NSpace[d], p.CellLength[d] = 1, 1, 1
			continue
		}
		if p.NSpace[d] < 1 {
			return fmt.Errorf("dimension %d: patches need at least one cell, got %d", d, p.NSpace[d])
		}
		if p.CellLength[d] <= 0 {
			return fmt.Errorf("dimension %d: cell length must be positive, got %g", d, p.CellLength[d])
		}
		for side := 0; side < 2; side++ {
			if (p.EMBC[d][side] == types.EMBC_Periodic) != (p.EMBC[d][1-side] == types.EMBC_Periodic) {
				return fmt.Errorf("dimension %d: periodic boundary must be set on both sides", d)
			}
		}
	}
	if p.Timestep <= 0 {
		return fmt.Errorf("timestep must be positive, got %g", p.Timestep)
	}
	if p.Curve, err = hilbert.New(p.NPatches[:p.NDim]); err != nil {
		return
	}
	for _, l := range p.Lasers {
		if l.Component != 1 && l.Component != 2 {
			return fmt.Errorf("laser component must be 1 (Ey) or 2 (Ez), got %d", l.Component)
		}
	}
	if len(p.Lasers) > MaxLasers {
		return fmt.Errorf("at most %d lasers are supported, got %d", MaxLasers, len(p.Lasers))
	}
	for _, c := range p.Collisions {
		for _, is := range c.Species {
			if is < 0 || is >= len(p.Species) {
				return fmt.Errorf("collisions reference unknown species %d", is)
			}
		}
	}
	return
}

func (p *Params) TotalPatches() int { return p.Curve.Size() }

// Ghost is the ghost layer width along d.
func (p *Params) Ghost(d int) int {
	if d < p.NDim {
		return 1
	}
	return 0
}

// FieldDims are the node counts of a patch field, ghosts included.
func (p *Params) FieldDims() (dims [3]int) {
	for d := 0; d < 3; d++ {
		dims[d] = 1
		if d < p.NDim {
			dims[d] = p.NSpace[d] + 2*p.Ghost(d)
		}
	}
	return
}

func (p *Params) CellsPerPatch() (n int) {
	n = 1
	for d := 0; d < p.NDim; d++ {
		n *= p.NSpace[d]
	}
	return
}

func (p *Params) CellVolume() (v float64) {
	v = 1
	for d := 0; d < p.NDim; d++ {
		v *= p.CellLength[d]
	}
	return
}

func (p *Params) SimLength() (l []float64) {
	l = make([]float64, p.NDim)
	for d := range l {
		l[d] = float64(p.NPatches[d]*p.NSpace[d]) * p.CellLength[d]
	}
	return
}

func (p *Params) Periodic(d int) bool {
	return d < p.NDim && p.EMBC[d][0] == types.EMBC_Periodic
}

// NMessage is the tag multiplier of patch messages: tag = hindex*NMessage + offset.
func (p *Params) NMessage() int {
	return 2*len(p.Species) + (2+p.NDim)*p.NProbes + 9 + len(p.Antennas) + 4*MaxLasers
}

// CFL returns the Courant number of the explicit field solver.
func (p *Params) CFL() float64 {
	var s float64
	for d := 0; d < p.NDim; d++ {
		s += 1 / (p.CellLength[d] * p.CellLength[d])
	}
	return p.Timestep * math.Sqrt(s)
}
