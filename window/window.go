// Package window shifts the simulated domain along x, one patch width per
// advance, retiring the patches leaving at Xmin and creating new ones at
// Xmax. The ownership map is unchanged: every rank keeps its hindices while
// the content of each slot moves one patch to the left.
package window

import (
	"fmt"
	"log"
	"math"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/types"
	"github.com/notargets/gopic/vecpatch"
)

type Config struct {
	TimeStart float64 `json:"time_start"`
	VelocityX float64 `json:"velocity_x"`
}

// SimWindow is the moving window state, identical on every rank.
type SimWindow struct {
	Active    bool
	TimeStart float64
	VelocityX float64
	XMoved    float64 // distance travelled
	NMoved    int     // cells travelled

	params *patch.Params
}

// New returns an inactive window when cfg is nil.
func New(params *patch.Params, cfg *Config) (w *SimWindow, err error) {
	w = &SimWindow{TimeStart: math.MaxFloat64, VelocityX: 1, params: params}
	if cfg == nil {
		return
	}
	if cfg.VelocityX != 0 && params.Periodic(0) {
		return nil, fmt.Errorf("moving window needs a non periodic x boundary")
	}
	w.Active, w.TimeStart, w.VelocityX = true, cfg.TimeStart, cfg.VelocityX
	return
}

// IsMoving reports whether the window lags behind its trajectory at time t.
func (w *SimWindow) IsMoving(t float64) bool {
	return w.Active && (t-w.TimeStart)*w.VelocityX > w.XMoved
}

// Operate advances the window by one patch width when it is due. The call
// is collective.
func (w *SimWindow) Operate(vp *vecpatch.VectorPatch, t float64) (err error) {
	if !w.IsMoving(t) {
		return
	}
	if ph := vp.Phase(); ph != vecpatch.PhaseIdle && ph != vecpatch.PhaseFields {
		return fmt.Errorf("rank %d: window shift during phase %s", vp.Comm.Rank(), ph)
	}
	var (
		c        = vp.Comm
		me       = c.Rank()
		params   = w.params
		nmessage = params.NMessage()
		old      = vp.Patches
		n        = len(old)
		h0       = old[0].Hindex
		slots    = make([]*patch.Patch, n)
		toCreate []int
		retired  []*patch.Patch
		moved    []*patch.Patch
		reqs     []*comm.Request
	)
	if w.NMoved == 0 && me == 0 {
		log.Printf("window starts moving at t=%g\n", t)
	}
	w.XMoved += float64(params.NSpace[0]) * params.CellLength[0]
	w.NMoved += params.NSpace[0]

	for _, p := range old {
		p.EM.LaserDisabled()
	}
	// stage every relabeling from the tables as they were before the shift
	for i, p := range old {
		if p.MPINeighbor[0][types.Max] != me {
			toCreate = append(toCreate, i)
		}
		left := p.MPINeighbor[0][types.Min]
		if left != me {
			if left != comm.ProcNull {
				var msgs []patch.Message
				if msgs, err = p.Messages(); err != nil {
					return
				}
				dst := p.Neighbor[0][types.Min]
				for _, m := range msgs {
					reqs = append(reqs, c.Isend(left, dst*nmessage+m.Offset, m.Payload))
				}
			} else {
				retired = append(retired, p)
			}
			continue
		}
		target := old[p.Neighbor[0][types.Min]-h0]
		neighbor, mpiNeighbor := target.Neighbor, target.MPINeighbor
		neighbor[0][types.Max], mpiNeighbor[0][types.Max] = p.Hindex, me
		p.StageNeighbors(neighbor, mpiNeighbor)
		moved = append(moved, p)
	}
	for _, p := range moved {
		if p.IsXmax() {
			for _, s := range p.Species {
				s.DisableXmax()
			}
		}
		p.Pcoord[0]--
		p.Hindex = p.Neighbor[0][types.Min]
		p.NMoved = w.NMoved
		p.CommitNeighbors()
		slots[p.Hindex-h0] = p
	}

	template := old[0]
	var fresh bool
	for _, i := range toCreate {
		np := template.CloneEmpty(h0+i, w.NMoved)
		np.UpdateMPIenv(vp.Ownership)
		if right := np.MPINeighbor[0][types.Max]; right != comm.ProcNull {
			for _, off := range np.MessageOffsets() {
				if err = np.Receive(off, c.Recv(right, np.Hindex*nmessage+off)); err != nil {
					return
				}
			}
		} else {
			for is, e := range np.InitParticles() {
				np.Species[is].Scalars.NRJNew += e
			}
			np.ApplyExternalFields()
			fresh = true
		}
		np.ResetBounds()
		np.EM.LaserDisabled()
		slots[i] = np
	}
	comm.Waitall(reqs)

	vp.Patches = slots
	vp.NMoved = w.NMoved
	vp.Refresh()
	for _, p := range vp.Patches {
		if p.IsXmin() {
			for _, s := range p.Species {
				s.SetXminBoundaryCondition()
			}
		}
	}
	w.retire(vp.Patches[0], retired)

	if comm.AllreduceSumInt(c, boolToInt(fresh)) > 0 {
		vp.AssignIDs()
	}
	vp.MoveProbes(w.XMoved)
	vp.PatchesHaveMoved()
	return
}

// retire books the energy and the accumulated counters of the patches
// leaving the domain into keeper.
func (w *SimWindow) retire(keeper *patch.Patch, retired []*patch.Patch) {
	for _, p := range retired {
		field, species := p.ComputeNRJ()
		keeper.EM.Scalars.NRJLostMW += field + p.EM.Scalars.NRJLostMW
		for side := 0; side < 2; side++ {
			for d := 0; d < 3; d++ {
				keeper.EM.Scalars.Poynting[side][d] += p.EM.Scalars.Poynting[side][d]
			}
		}
		for is, s := range p.Species {
			ks := &keeper.Species[is].Scalars
			ks.NRJLostMW += species[is] + s.Scalars.NRJLostMW
			ks.NRJLostBC += s.Scalars.NRJLostBC
			ks.NRJNew += s.Scalars.NRJNew
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
