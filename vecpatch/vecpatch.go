// Package vecpatch holds the ordered collection of patches owned by one rank
// and drives them through a timestep. Every exported operation is collective:
// all ranks call it in the same order.
package vecpatch

import (
	"fmt"
	"log"

	"github.com/notargets/gopic/balance"
	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/diagnostics"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/patchsync"
	"github.com/notargets/gopic/utils"
)

// Phase is the position of the collection within a timestep.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDynamics
	PhaseDensities
	PhaseFields
)

var phaseNames = map[Phase]string{
	PhaseIdle:      "idle",
	PhaseDynamics:  "dynamics",
	PhaseDensities: "densities",
	PhaseFields:    "fields",
}

func (p Phase) String() string { return phaseNames[p] }

// allowed predecessors of each phase
var phaseOrder = map[Phase][]Phase{
	PhaseIdle:      {PhaseIdle, PhaseFields},
	PhaseDynamics:  {PhaseIdle, PhaseFields},
	PhaseDensities: {PhaseDynamics},
	PhaseFields:    {PhaseDensities},
}

type PoissonConfig struct {
	MaxIteration int     `json:"poisson_max_iteration"`
	MaxError     float64 `json:"poisson_max_error"`
}

// Mover reports whether the moving window shifts the domain at time t.
type Mover interface {
	IsMoving(t float64) bool
}

// VectorPatch is the patch collection of one rank. Patches[i].Hindex is
// RefHindex+i at every phase boundary.
type VectorPatch struct {
	Patches   []*patch.Patch
	RefHindex int
	Comm      comm.Communicator
	Ownership *ownership.Map
	Params    *patch.Params
	NThreads  int
	NMoved    int // moving window displacement in cells, applied to created patches

	Balance   balance.Config
	Poisson   PoissonConfig
	Diags     []diagnostics.Diagnostic
	Colliders []patch.Collider
	Window    Mover // nil when the domain never moves

	phase    Phase
	diagFlag bool

	// rebalancing state, valid between createPatches and exchangePatches
	sendPatchID []int // local indices of the patches leaving
	recvPatchID []int // hindices of the patches arriving
	recvPatches []*patch.Patch

	fieldLists map[string][]*patch.Field
}

// New builds the empty patches that own assigns to the rank of c.
func New(c comm.Communicator, params *patch.Params, own *ownership.Map) (vp *VectorPatch) {
	if own.NRanks() != c.Size() || own.Total() != params.TotalPatches() {
		panic(fmt.Errorf("ownership map %v does not fit %d ranks and %d patches",
			own, c.Size(), params.TotalPatches()))
	}
	if err := own.Validate(); err != nil {
		panic(err)
	}
	vp = &VectorPatch{
		Comm:      c,
		Params:    params,
		Ownership: own,
		RefHindex: own.Start(c.Rank()),
		NThreads:  1,
		Balance:   balance.DefaultConfig(),
		Poisson:   PoissonConfig{MaxIteration: 50000, MaxError: 1e-14},
		Colliders: patch.NewColliders(params),
	}
	for h := own.Start(c.Rank()); h < own.End(c.Rank()); h++ {
		vp.Patches = append(vp.Patches, patch.New(params, h, 0))
	}
	vp.updateMPIenv()
	return
}

func (vp *VectorPatch) Size() int { return len(vp.Patches) }

func (vp *VectorPatch) Phase() Phase { return vp.phase }

// Set is the view of the collection used by the synchronisation layer.
func (vp *VectorPatch) Set() patchsync.Set {
	return patchsync.Set{Patches: vp.Patches, RefHindex: vp.RefHindex, Comm: vp.Comm}
}

func (vp *VectorPatch) isMaster() bool { return vp.Comm.Rank() == 0 }

func (vp *VectorPatch) enter(next Phase) error {
	for _, prev := range phaseOrder[next] {
		if vp.phase == prev {
			vp.phase = next
			return nil
		}
	}
	return fmt.Errorf("rank %d: phase %s entered from %s", vp.Comm.Rank(), next, vp.phase)
}

func (vp *VectorPatch) expect(ph Phase, op string) error {
	if vp.phase != ph {
		return fmt.Errorf("rank %d: %s needs phase %s, current phase is %s", vp.Comm.Rank(), op, ph, vp.phase)
	}
	return nil
}

func (vp *VectorPatch) parallel(fn func(p *patch.Patch)) {
	utils.ParallelFor(len(vp.Patches), vp.NThreads, func(i int) { fn(vp.Patches[i]) })
}

// InitParticles fills every patch from the species profiles.
func (vp *VectorPatch) InitParticles() {
	vp.parallel(func(p *patch.Patch) { p.InitParticles() })
}

func (vp *VectorPatch) ApplyExternalFields() {
	vp.parallel(func(p *patch.Patch) { p.ApplyExternalFields() })
}

func (vp *VectorPatch) needsRhoJsNow(step int) bool {
	for _, d := range vp.Diags {
		if d.NeedsRhoJs(step) {
			return true
		}
	}
	return false
}

// Dynamics pushes the particles of every patch, then migrates the particles
// that left their patch. No exchange starts before every push is done.
func (vp *VectorPatch) Dynamics(step int, t float64) (err error) {
	if err = vp.enter(PhaseDynamics); err != nil {
		return
	}
	vp.diagFlag = vp.needsRhoJsNow(step)
	var (
		diagFlag = vp.diagFlag
		moving   = vp.Window != nil && vp.Window.IsMoving(t)
	)
	// frozen species still deposit while the window moves
	vp.parallel(func(p *patch.Patch) {
		if diagFlag {
			p.EM.AllocateSpeciesFields(len(p.Species))
		}
		p.EM.RestartRhoJ()
		for _, s := range p.Species {
			if !s.IsFrozen(t) || diagFlag || moving {
				s.Dynamics(p, t, diagFlag)
			}
		}
	})
	set := vp.Set()
	for is, sp := range vp.Params.Species {
		if t < sp.TimeFrozen {
			continue
		}
		if err = patchsync.ExchangeParticles(set, is); err != nil {
			return
		}
	}
	if step%10 == 0 {
		vp.parallel(func(p *patch.Patch) {
			for _, s := range p.Species {
				s.CleanParticlesOverhead()
			}
		})
	}
	return
}

// SumDensities reconciles the charge and current deposited in ghost nodes.
func (vp *VectorPatch) SumDensities(step int) (err error) {
	if err = vp.enter(PhaseDensities); err != nil {
		return
	}
	if vp.diagFlag {
		vp.parallel(func(p *patch.Patch) { p.EM.ComputeTotalRhoJ() })
	}
	set := vp.Set()
	patchsync.SumRhoJ(set)
	if vp.diagFlag {
		for is, sp := range vp.Params.Species {
			if !sp.IsTest {
				patchsync.SumRhoJs(set, is)
			}
		}
	}
	return
}

// ApplyAntennas adds the antenna currents once the densities are summed.
func (vp *VectorPatch) ApplyAntennas(t float64) (err error) {
	if err = vp.expect(PhaseDensities, "antennas"); err != nil {
		return
	}
	vp.parallel(func(p *patch.Patch) { p.ApplyAntennas(t) })
	return
}

// SolveMaxwell advances E then B with the synchronized current.
func (vp *VectorPatch) SolveMaxwell(step int, t float64) (err error) {
	if err = vp.enter(PhaseFields); err != nil {
		return
	}
	set := vp.Set()
	vp.parallel(func(p *patch.Patch) {
		p.EM.SaveMagneticFields()
		p.EM.SolveAmpere(p.Interior())
		p.EM.ApplyBoundaryE(p, t)
	})
	patchsync.ExchangeE(set)
	vp.parallel(func(p *patch.Patch) {
		p.EM.SolveFaraday(p.Interior())
		p.EM.ApplyBoundaryB(p, t)
	})
	patchsync.ExchangeB(set)
	vp.parallel(func(p *patch.Patch) { p.EM.CenterMagneticFields() })
	return
}

// ApplyCollisions runs the collision operators before the push.
func (vp *VectorPatch) ApplyCollisions(step int) (err error) {
	if len(vp.Colliders) == 0 {
		return
	}
	if vp.phase != PhaseIdle && vp.phase != PhaseFields {
		return fmt.Errorf("rank %d: collisions during phase %s", vp.Comm.Rank(), vp.phase)
	}
	for _, c := range vp.Colliders {
		if c.NeedsDebyeLength() {
			vp.parallel(func(p *patch.Patch) { p.ComputeDebyeLength() })
			break
		}
	}
	vp.parallel(func(p *patch.Patch) {
		for _, c := range vp.Colliders {
			c.Collide(p, step)
		}
	})
	return
}

// RunAllDiags runs the diagnostics due at step, then releases the per
// species densities.
func (vp *VectorPatch) RunAllDiags(step int) (err error) {
	if err = vp.expect(PhaseFields, "diagnostics"); err != nil {
		return
	}
	for _, d := range vp.Diags {
		if !d.Prepare(step) {
			continue
		}
		if err = d.Run(step, vp.Patches, vp.Comm); err != nil {
			return
		}
		if err = d.Write(step); err != nil {
			return
		}
	}
	if vp.diagFlag {
		vp.diagFlag = false
		vp.parallel(func(p *patch.Patch) { p.EM.RestartRhoJs() })
	}
	return
}

func (vp *VectorPatch) CloseAllDiags() (err error) {
	for _, d := range vp.Diags {
		if e := d.Close(); e != nil && err == nil {
			err = e
		}
	}
	return
}

// PatchesHaveMoved tells the diagnostics that hold patch lookups to
// rebuild them.
func (vp *VectorPatch) PatchesHaveMoved() {
	for _, d := range vp.Diags {
		if m, ok := d.(diagnostics.PatchMover); ok {
			m.PatchesHaveMoved()
		}
	}
}

// MoveProbes shifts the diagnostics positioned in the window frame.
func (vp *VectorPatch) MoveProbes(xMoved float64) {
	for _, d := range vp.Diags {
		if m, ok := d.(diagnostics.WindowFollower); ok {
			m.MoveProbes(xMoved)
		}
	}
}

// AssignIDs labels the particles that have no identifier yet, for every
// diagnostic that tracks them.
func (vp *VectorPatch) AssignIDs() {
	for _, d := range vp.Diags {
		if a, ok := d.(diagnostics.IDAssigner); ok {
			a.AssignIDs(vp.Patches, vp.Comm)
		}
	}
}

// ComputeNRJ returns the global field energy and kinetic energy per species.
func (vp *VectorPatch) ComputeNRJ() (field float64, species []float64) {
	local := make([]float64, 1+len(vp.Params.Species))
	for _, p := range vp.Patches {
		f, s := p.ComputeNRJ()
		local[0] += f
		for is, e := range s {
			local[1+is] += e
		}
	}
	g := comm.AllreduceSumSlice(vp.Comm, local)
	return g[0], g[1:]
}

// NParticles is the global number of particles of each species.
func (vp *VectorPatch) NParticles() (n []int) {
	n = make([]int, len(vp.Params.Species))
	for is := range n {
		var local int
		for _, p := range vp.Patches {
			local += p.Species[is].Particles.Len()
		}
		n[is] = comm.AllreduceSumInt(vp.Comm, local)
	}
	return
}

// IsRhoNull reports whether the charge density vanishes everywhere.
func (vp *VectorPatch) IsRhoNull() bool {
	var norm2 float64
	for i, rho := range vp.FieldList("Rho") {
		norm2 += rho.SumSquares(vp.Patches[i].Interior())
	}
	return comm.AllreduceSum(vp.Comm, norm2) <= 0
}

// CheckMemory logs the memory used by every rank and returns the largest.
func (vp *VectorPatch) CheckMemory() (maxAlloc float64) {
	mu := utils.GetMemUsage()
	all := comm.AllgatherFloat64s(vp.Comm, []float64{mu.Alloc})
	for _, a := range all {
		maxAlloc = max(maxAlloc, a)
	}
	if vp.isMaster() {
		log.Printf("memory: %s on rank 0, max %.1f MiB over %d ranks\n", mu, maxAlloc, len(all))
	}
	return
}

func (vp *VectorPatch) updateMPIenv() {
	for _, p := range vp.Patches {
		p.UpdateMPIenv(vp.Ownership)
	}
	if len(vp.Patches) > 0 {
		vp.RefHindex = vp.Patches[0].Hindex
	}
	vp.updateFieldList()
}

// updateFieldList rebuilds the per name field lists, in patch order.
func (vp *VectorPatch) updateFieldList() {
	vp.fieldLists = make(map[string][]*patch.Field)
	for _, p := range vp.Patches {
		for _, name := range []string{"Ex", "Ey", "Ez", "Bx", "By", "Bz", "Jx", "Jy", "Jz", "Rho"} {
			vp.fieldLists[name] = append(vp.fieldLists[name], p.EM.FieldByName(name))
		}
	}
}

// FieldList returns the named field of every patch, in patch order.
func (vp *VectorPatch) FieldList(name string) []*patch.Field {
	return vp.fieldLists[name]
}

// Refresh recomputes neighbour ranks and field lists after the patch list
// changed.
func (vp *VectorPatch) Refresh() {
	vp.updateMPIenv()
	vp.checkOrder()
}

func (vp *VectorPatch) checkOrder() {
	for i, p := range vp.Patches {
		if p.Hindex != vp.RefHindex+i {
			panic(fmt.Errorf("rank %d: patch %d holds hindex %d, expected %d",
				vp.Comm.Rank(), i, p.Hindex, vp.RefHindex+i))
		}
	}
}
