package diagnostics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

type AxisConfig struct {
	Type     string   `json:"type"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	NBins    int      `json:"nbins"`
	Keywords []string `json:"keywords,omitempty"`
}

type ParticlesConfig struct {
	Output      string       `json:"output"`
	Every       int          `json:"every"`
	TimeAverage int          `json:"time_average"`
	Species     []string     `json:"species"`
	Axes        []AxisConfig `json:"axes"`
}

type axis struct {
	AxisConfig
	q                       quantity
	logscale, edgeInclusive bool
}

// bin returns the bin of value v, or -1 when v falls outside an axis that
// is not edge inclusive.
func (a *axis) bin(v float64) int {
	lo, hi := a.Min, a.Max
	if a.logscale {
		v, lo, hi = math.Log10(v), math.Log10(lo), math.Log10(hi)
	}
	if math.IsNaN(v) {
		return -1
	}
	var (
		n = float64(a.NBins)
		f = math.Floor((v - lo) * n / (hi - lo))
	)
	switch {
	case f >= 0 && f < n:
		return int(f)
	case !a.edgeInclusive:
		return -1
	case f < 0:
		return 0
	}
	return a.NBins - 1
}

// ParticleBinning deposits a quantity of the particles of some species on a
// grid of up to three axes, summed over all ranks.
type ParticleBinning struct {
	output
	ParticlesConfig

	species []int
	axes    []*axis
	out     quantity
	sum     []float64
	reduced []float64
}

func NewParticleBinning(params *patch.Params, cfg ParticlesConfig, w io.Writer) (pb *ParticleBinning, err error) {
	pb = &ParticleBinning{output: output{w}, ParticlesConfig: cfg}
	if cfg.Every < 1 {
		return nil, fmt.Errorf("particle diagnostic: every must be positive, got %d", cfg.Every)
	}
	if pb.TimeAverage < 1 {
		pb.TimeAverage = 1
	}
	if pb.TimeAverage > cfg.Every {
		return nil, fmt.Errorf("particle diagnostic: time_average %d cannot be larger than every %d",
			cfg.TimeAverage, cfg.Every)
	}
	var ok bool
	if pb.out, ok = outputQuantities[cfg.Output]; !ok {
		return nil, fmt.Errorf("particle diagnostic: unknown output %q, expected one of %s",
			cfg.Output, keys(outputQuantities))
	}
	if len(cfg.Species) == 0 {
		return nil, fmt.Errorf("particle diagnostic: species required")
	}
	for _, name := range cfg.Species {
		is := -1
		for i, sp := range params.Species {
			if sp.Name == name {
				is = i
			}
		}
		if is < 0 {
			return nil, fmt.Errorf("particle diagnostic: unknown species %q", name)
		}
		pb.species = append(pb.species, is)
	}
	if len(cfg.Axes) == 0 || len(cfg.Axes) > 3 {
		return nil, fmt.Errorf("particle diagnostic: between 1 and 3 axes required, got %d", len(cfg.Axes))
	}
	size := 1
	for ia, ac := range cfg.Axes {
		a := &axis{AxisConfig: ac}
		if a.q, ok = axisQuantities[ac.Type]; !ok {
			return nil, fmt.Errorf("particle diagnostic: axis %d: unknown type %q, expected one of %s",
				ia, ac.Type, keys(axisQuantities))
		}
		if (ac.Type == "y" && params.NDim < 2) || (ac.Type == "z" && params.NDim < 3) {
			return nil, fmt.Errorf("particle diagnostic: axis %s cannot exist in %dD", ac.Type, params.NDim)
		}
		if ac.NBins < 1 || ac.Max <= ac.Min {
			return nil, fmt.Errorf("particle diagnostic: axis %d: need nbins > 0 and max > min", ia)
		}
		for _, kw := range ac.Keywords {
			switch {
			case logscaleKeywords[kw]:
				a.logscale = true
			case edgeKeywords[kw]:
				a.edgeInclusive = true
			default:
				return nil, fmt.Errorf("particle diagnostic: axis %d: keyword %q not understood", ia, kw)
			}
		}
		if a.logscale && ac.Min <= 0 {
			return nil, fmt.Errorf("particle diagnostic: axis %d: logscale needs a positive min", ia)
		}
		pb.axes = append(pb.axes, a)
		size *= ac.NBins
	}
	pb.sum = make([]float64, size)
	return
}

func keys[V any](m map[string]V) string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return strings.Join(ks, " ")
}

func (pb *ParticleBinning) Prepare(step int) bool {
	return step%pb.Every < pb.TimeAverage
}

func (pb *ParticleBinning) NeedsRhoJs(step int) bool { return false }

// Size is the total number of bins.
func (pb *ParticleBinning) Size() int { return len(pb.sum) }

func (pb *ParticleBinning) Run(step int, patches []*patch.Patch, c comm.Communicator) error {
	if step%pb.Every == 0 {
		clear(pb.sum)
	}
	for _, p := range patches {
		for _, is := range pb.species {
			var (
				s  = p.Species[is]
				ps = s.Particles
				m  = s.Params.Mass
			)
		particles:
			for i := 0; i < ps.Len(); i++ {
				ind := 0
				for _, a := range pb.axes {
					b := a.bin(a.q(m, ps, i))
					if b < 0 {
						continue particles
					}
					ind = ind*a.NBins + b
				}
				pb.sum[ind] += pb.out(m, ps, i)
			}
		}
	}
	pb.reduced = nil
	if step%pb.Every == pb.TimeAverage-1 {
		pb.reduced = comm.AllreduceSumSlice(c, pb.sum)
		for i := range pb.reduced {
			pb.reduced[i] /= float64(pb.TimeAverage)
		}
	}
	return nil
}

// Histogram returns the reduced and time averaged bins of the last written
// step, or nil while averaging.
func (pb *ParticleBinning) Histogram() []float64 { return pb.reduced }

func (pb *ParticleBinning) Write(step int) (err error) {
	if pb.reduced == nil {
		return
	}
	if err = pb.printf("%d", step); err != nil {
		return
	}
	for _, v := range pb.reduced {
		if err = pb.printf("\t%.8e", v); err != nil {
			return
		}
	}
	return pb.printf("\n")
}
