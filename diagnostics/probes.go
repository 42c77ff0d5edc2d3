package diagnostics

import (
	"fmt"
	"io"
	"strings"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

var probeFields = []string{"Ex", "Ey", "Ez", "Bx", "By", "Bz", "Jx", "Jy", "Jz", "Rho"}

// Probes samples fields at fixed points of the moving window frame, at the
// node nearest to each point.
type Probes struct {
	output
	Every  int
	Points [][]float64 // relative to the window origin
	Fields []string

	resolve   []func(p *patch.Patch) *patch.Field
	perSpecie bool
	origin    float64
	located   []int // index in the local patch list holding each point, -1 elsewhere
	stale     bool
	last      []float64
}

// NewProbes validates the field names: the totals of probeFields, or a per
// species density written <field>_<species name> (Rho_electron, Jx_ion).
func NewProbes(params *patch.Params, every int, points [][]float64, fields []string, w io.Writer) (pr *Probes, err error) {
	pr = &Probes{
		output: output{w},
		Every:  every,
		Points: points,
		Fields: fields,
		stale:  true,
	}
	for i, pt := range points {
		if len(pt) != params.NDim {
			return nil, fmt.Errorf("probe point %d has %d coordinates in a %dD simulation", i, len(pt), params.NDim)
		}
	}
	if len(fields) == 0 {
		pr.Fields = probeFields
	}
	for _, name := range pr.Fields {
		var fn func(p *patch.Patch) *patch.Field
		if fn, err = pr.resolver(params, name); err != nil {
			return nil, err
		}
		pr.resolve = append(pr.resolve, fn)
	}
	return
}

func (pr *Probes) resolver(params *patch.Params, name string) (func(p *patch.Patch) *patch.Field, error) {
	for _, f := range probeFields {
		if f == name {
			return func(p *patch.Patch) *patch.Field { return p.EM.FieldByName(name) }, nil
		}
	}
	base, specie, found := strings.Cut(name, "_")
	if found {
		for is, sp := range params.Species {
			if sp.Name != specie {
				continue
			}
			var pick func(em *patch.ElectroMagn) []*patch.Field
			switch base {
			case "Rho":
				pick = func(em *patch.ElectroMagn) []*patch.Field { return em.RhoS }
			case "Jx":
				pick = func(em *patch.ElectroMagn) []*patch.Field { return em.JxS }
			case "Jy":
				pick = func(em *patch.ElectroMagn) []*patch.Field { return em.JyS }
			case "Jz":
				pick = func(em *patch.ElectroMagn) []*patch.Field { return em.JzS }
			default:
				continue
			}
			pr.perSpecie = true
			return func(p *patch.Patch) *patch.Field {
				if fs := pick(p.EM); is < len(fs) {
					return fs[is]
				}
				return nil
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown probe field %q", name)
}

func (pr *Probes) Prepare(step int) bool { return isDue(step, pr.Every) }

func (pr *Probes) NeedsRhoJs(step int) bool { return pr.perSpecie && pr.Prepare(step) }

func (pr *Probes) PatchesHaveMoved() { pr.stale = true }

func (pr *Probes) MoveProbes(xMoved float64) {
	pr.origin = xMoved
	pr.stale = true
}

// Position is the current absolute position of probe point i.
func (pr *Probes) Position(i int) (x []float64) {
	x = append([]float64(nil), pr.Points[i]...)
	x[0] += pr.origin
	return
}

func (pr *Probes) locate(patches []*patch.Patch) {
	pr.located = make([]int, len(pr.Points))
	for i := range pr.Points {
		pr.located[i] = -1
		x := pr.Position(i)
	search:
		for ip, p := range patches {
			for d := range x {
				if !p.Contains(d, x[d]) {
					continue search
				}
			}
			pr.located[i] = ip
			break
		}
	}
	pr.stale = false
}

func (pr *Probes) Run(step int, patches []*patch.Patch, c comm.Communicator) error {
	if pr.stale {
		pr.locate(patches)
	}
	var (
		nf    = len(pr.resolve)
		local = make([]float64, len(pr.Points)*nf)
	)
	for i, ip := range pr.located {
		if ip < 0 {
			continue
		}
		var (
			p   = patches[ip]
			x   = pr.Position(i)
			ijk [3]int
		)
		for d := range x {
			ijk[d] = p.NodeOf(d, x[d])
		}
		for k, fn := range pr.resolve {
			f := fn(p)
			if f == nil {
				continue
			}
			local[i*nf+k] = f.At(ijk[0], ijk[1], ijk[2])
		}
	}
	pr.last = comm.AllreduceSumSlice(c, local)
	return nil
}

// Last returns the values of the last run, point major.
func (pr *Probes) Last() []float64 { return pr.last }

func (pr *Probes) Write(step int) (err error) {
	if err = pr.printf("%d", step); err != nil {
		return
	}
	for _, v := range pr.last {
		if err = pr.printf("\t%.8e", v); err != nil {
			return
		}
	}
	return pr.printf("\n")
}
