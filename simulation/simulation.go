// Package simulation runs the time loop of one rank.
package simulation

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/notargets/gopic/InputParameters"
	"github.com/notargets/gopic/balance"
	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/diagnostics"
	"github.com/notargets/gopic/ownership"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/utils"
	"github.com/notargets/gopic/vecpatch"
	"github.com/notargets/gopic/window"
)

type Options struct {
	NThreads int
	// Open creates the named diagnostic output. It is only called on rank 0;
	// nil discards every output.
	Open func(name string) (io.Writer, error)
	// MaxSteps caps the number of steps when positive.
	MaxSteps int
}

// Summary is the state of the run after the last step, identical on every
// rank.
type Summary struct {
	Steps       int
	Time        float64
	FieldNRJ    float64
	KineticNRJ  []float64
	LostNRJ     float64 // boundaries and moving window, fields and particles
	NewNRJ      float64 // injected at the moving window edge
	NParticles  []int
	PatchCounts []int
	XMoved      float64
}

// Run builds the patch collection of rank c from ip and advances it to the
// end of the simulated time.
func Run(c comm.Communicator, ip *InputParameters.Parameters, opts Options) (sum Summary, err error) {
	var params *patch.Params
	if params, err = ip.ToParams(); err != nil {
		return
	}
	var (
		total  = params.TotalPatches()
		master = c.Rank() == 0
	)
	if total < c.Size() {
		return sum, fmt.Errorf("%d patches cannot be spread over %d ranks", total, c.Size())
	}
	own := ownership.New(utils.NewPartitionMap(c.Size(), total).Counts(), 0)
	vp := vecpatch.New(c, params, own)
	vp.NThreads = max(1, opts.NThreads)
	vp.Poisson = vecpatch.PoissonConfig{MaxIteration: ip.Main.PoissonMaxIt, MaxError: ip.Main.PoissonMaxErr}
	vp.Balance = balance.Config{}
	if ip.LoadBalancing != nil {
		vp.Balance = *ip.LoadBalancing
	}
	if vp.Diags, err = buildDiags(ip, params, master, opts.Open); err != nil {
		return
	}
	defer func() {
		if e := vp.CloseAllDiags(); e != nil && err == nil {
			err = e
		}
	}()
	var win *window.SimWindow
	if win, err = window.New(params, ip.MovingWindow); err != nil {
		return
	}
	vp.Window = win

	vp.InitParticles()
	vp.ApplyExternalFields()
	if ip.Main.SolvePoisson {
		if err = vp.InitFields(); err != nil {
			return
		}
	}
	if vp.Balance.InitialBalance && c.Size() > 1 {
		if err = vp.LoadBalance(0); err != nil {
			return
		}
	}
	vp.AssignIDs()
	if master {
		log.Printf("%d patches over %d ranks, initial ownership %s\n", total, c.Size(), vp.Ownership)
	}

	nSteps := int(math.Round(params.SimTime / params.Timestep))
	if opts.MaxSteps > 0 && opts.MaxSteps < nSteps {
		nSteps = opts.MaxSteps
	}
	var t float64
	for step := 1; step <= nSteps; step++ {
		t = float64(step) * params.Timestep
		if err = vp.ApplyCollisions(step); err != nil {
			return
		}
		if err = vp.Dynamics(step, t); err != nil {
			return
		}
		if err = vp.SumDensities(step); err != nil {
			return
		}
		if err = vp.ApplyAntennas(t); err != nil {
			return
		}
		if err = vp.SolveMaxwell(step, t); err != nil {
			return
		}
		if err = vp.RunAllDiags(step); err != nil {
			return
		}
		if vp.Balance.IsDue(step) {
			if err = vp.LoadBalance(t); err != nil {
				return
			}
		}
		if err = win.Operate(vp, t); err != nil {
			return
		}
		if step%ip.Main.PrintEvery == 0 {
			field, kinetic := vp.ComputeNRJ()
			if utils.IsNan(append([]float64{field}, kinetic...)) {
				return sum, fmt.Errorf("energy is not a number at step %d: field %g, kinetic %v", step, field, kinetic)
			}
			if master {
				log.Printf("step %d, t=%8.4f, Uelm=%g, Ukin=%v\n", step, t, field, kinetic)
			}
			vp.CheckMemory()
		}
	}

	sum = summarize(vp, nSteps, t)
	sum.XMoved = win.XMoved
	return
}

func summarize(vp *vecpatch.VectorPatch, steps int, t float64) (sum Summary) {
	sum.Steps, sum.Time = steps, t
	sum.FieldNRJ, sum.KineticNRJ = vp.ComputeNRJ()
	sum.NParticles = vp.NParticles()
	sum.PatchCounts = append([]int(nil), vp.Ownership.Counts...)
	var local [2]float64
	for _, p := range vp.Patches {
		local[0] += p.EM.Scalars.NRJLostMW
		for _, s := range p.Species {
			local[0] += s.Scalars.NRJLostBC + s.Scalars.NRJLostMW
			local[1] += s.Scalars.NRJNew
		}
	}
	g := comm.AllreduceSumSlice(vp.Comm, local[:])
	sum.LostNRJ, sum.NewNRJ = g[0], g[1]
	return
}

// buildDiags creates the configured diagnostics. Only the master rank gets
// writers.
func buildDiags(ip *InputParameters.Parameters, params *patch.Params, master bool,
	open func(string) (io.Writer, error)) (diags []diagnostics.Diagnostic, err error) {
	writer := func(name string) (w io.Writer, err error) {
		if !master || open == nil {
			return
		}
		if w, err = open(name); err != nil {
			err = fmt.Errorf("opening diagnostic output %s: %w", name, err)
		}
		return
	}
	var w io.Writer
	if sc := ip.Diagnostics.Scalars; sc != nil {
		if w, err = writer(orDefault(sc.Output, "scalars.txt")); err != nil {
			return
		}
		diags = append(diags, diagnostics.NewScalars(params, sc.Every, w))
	}
	for i, pr := range ip.Diagnostics.Probes {
		if w, err = writer(orDefault(pr.Output, fmt.Sprintf("probe%d.txt", i))); err != nil {
			return
		}
		var d *diagnostics.Probes
		if d, err = diagnostics.NewProbes(params, pr.Every, pr.Points, pr.Fields, w); err != nil {
			return
		}
		diags = append(diags, d)
	}
	for i, pc := range ip.Diagnostics.Particles {
		if w, err = writer(fmt.Sprintf("particles%d.txt", i)); err != nil {
			return
		}
		var d *diagnostics.ParticleBinning
		if d, err = diagnostics.NewParticleBinning(params, pc, w); err != nil {
			return
		}
		diags = append(diags, d)
	}
	for is, sp := range ip.Species {
		if sp.TrackEvery <= 0 {
			continue
		}
		if w, err = writer(orDefault(sp.TrackOutput, "track_"+sp.Name+".txt")); err != nil {
			return
		}
		var d *diagnostics.Track
		if d, err = diagnostics.NewTrack(params, is, sp.TrackEvery, w); err != nil {
			return
		}
		diags = append(diags, d)
	}
	return
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
