package profiles

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Spec is the input-file description of a profile: a type name plus named
// parameters. Points and Values are used by the polygonal profiles.
type Spec struct {
	Type   string             `yaml:"Type"`
	Params map[string]float64 `yaml:"Params"`
	Points []float64          `yaml:"Points"`
	Values []float64          `yaml:"Values"`
}

// Space is a profile over the physical position of a point.
type Space func(x []float64) float64

// Time is a profile over simulation time.
type Time func(t float64) float64

func (s Spec) param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

func (s Spec) checkParams(allowed ...string) error {
	for name := range s.Params {
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			sort.Strings(allowed)
			return fmt.Errorf("profile %q: unknown parameter %q, expected one of %v", s.Type, name, allowed)
		}
	}
	return nil
}

var axes = []string{"x", "y", "z"}

// NewSpace builds a space profile. simLength supplies the defaults that
// depend on the box size; its length fixes the dimensionality.
func NewSpace(s Spec, simLength []float64) (f Space, err error) {
	nDim := len(simLength)
	switch strings.ToLower(s.Type) {
	case "", "constant":
		if err = s.checkParams("value", "xvacuum", "yvacuum", "zvacuum"); err != nil {
			return
		}
		var (
			value  = s.param("value", 1)
			vacuum = make([]float64, nDim)
		)
		for d := 0; d < nDim; d++ {
			vacuum[d] = s.param(axes[d]+"vacuum", math.Inf(-1))
		}
		f = func(x []float64) float64 {
			for d := 0; d < nDim; d++ {
				if x[d] < vacuum[d] {
					return 0
				}
			}
			return value
		}
	case "trapezoidal":
		var allowed = []string{"max"}
		for d := 0; d < 3; d++ {
			for _, p := range []string{"vacuum", "plateau", "slope1", "slope2"} {
				allowed = append(allowed, axes[d]+p)
			}
		}
		if err = s.checkParams(allowed...); err != nil {
			return
		}
		var (
			max    = s.param("max", 1)
			shapes = make([]func(float64) float64, nDim)
		)
		for d := 0; d < nDim; d++ {
			vacuum := s.param(axes[d]+"vacuum", 0)
			shapes[d] = trapeze(vacuum,
				s.param(axes[d]+"plateau", simLength[d]-vacuum),
				s.param(axes[d]+"slope1", 0),
				s.param(axes[d]+"slope2", 0))
		}
		f = product(max, shapes)
	case "gaussian":
		var allowed = []string{"max"}
		for d := 0; d < 3; d++ {
			for _, p := range []string{"vacuum", "length", "fwhm", "center", "order"} {
				allowed = append(allowed, axes[d]+p)
			}
		}
		if err = s.checkParams(allowed...); err != nil {
			return
		}
		var (
			max    = s.param("max", 1)
			shapes = make([]func(float64) float64, nDim)
		)
		for d := 0; d < nDim; d++ {
			var (
				a      = axes[d]
				vacuum = s.param(a+"vacuum", 0)
				length = s.param(a+"length", math.Inf(1))
				fwhm   = s.param(a+"fwhm", (simLength[d]-vacuum)/3)
				center = s.param(a+"center", vacuum+(simLength[d]-vacuum)/2)
				order  = s.param(a+"order", 2)
			)
			shapes[d] = gauss(vacuum, length, fwhm, center, order)
		}
		f = product(max, shapes)
	case "polygonal":
		if err = s.checkParams(); err != nil {
			return
		}
		var p func(float64) float64
		if p, err = polygon(s.Points, s.Values, "polygonal"); err != nil {
			return
		}
		f = func(x []float64) float64 { return p(x[0]) }
	case "cosine":
		if err = s.checkParams("base", "amplitude", "xvacuum", "xlength", "phi", "xnumber"); err != nil {
			return
		}
		var (
			base      = s.param("base", 0)
			amplitude = s.param("amplitude", 1)
			vacuum    = s.param("xvacuum", 0)
			length    = s.param("xlength", simLength[0]-vacuum)
			phi       = s.param("phi", 0)
			number    = s.param("xnumber", 1)
		)
		k := 2 * math.Pi * number / length
		f = func(x []float64) float64 {
			if x[0] < vacuum || x[0] >= vacuum+length {
				return 0
			}
			return base + amplitude*math.Cos(phi+k*(x[0]-vacuum))
		}
	default:
		err = fmt.Errorf("unknown space profile %q", s.Type)
	}
	return
}

// NewTime builds a time profile; simTime supplies duration defaults.
func NewTime(s Spec, simTime float64) (f Time, err error) {
	switch strings.ToLower(s.Type) {
	case "", "tconstant":
		if err = s.checkParams("start"); err != nil {
			return
		}
		start := s.param("start", 0)
		f = func(t float64) float64 {
			if t >= start {
				return 1
			}
			return 0
		}
	case "ttrapezoidal":
		if err = s.checkParams("start", "plateau", "slope1", "slope2"); err != nil {
			return
		}
		start := s.param("start", 0)
		tr := trapeze(start, s.param("plateau", simTime-start), s.param("slope1", 0), s.param("slope2", 0))
		f = func(t float64) float64 { return tr(t) }
	case "tgaussian":
		if err = s.checkParams("start", "duration", "fwhm", "center", "order"); err != nil {
			return
		}
		var (
			start    = s.param("start", 0)
			duration = s.param("duration", simTime-start)
			fwhm     = s.param("fwhm", (simTime-start)/3)
			center   = s.param("center", start+(simTime-start)/2)
			order    = s.param("order", 2)
		)
		g := gauss(start, duration, fwhm, center, order)
		f = func(t float64) float64 { return g(t) }
	case "tpolygonal":
		if err = s.checkParams(); err != nil {
			return
		}
		var (
			points, values = s.Points, s.Values
			p              func(float64) float64
		)
		if len(points) == 0 {
			points, values = []float64{0, simTime}, []float64{1, 1}
		}
		if p, err = polygon(points, values, "tpolygonal"); err != nil {
			return
		}
		f = func(t float64) float64 { return p(t) }
	case "tcosine":
		if err = s.checkParams("base", "amplitude", "start", "duration", "phi", "freq"); err != nil {
			return
		}
		var (
			base      = s.param("base", 0)
			amplitude = s.param("amplitude", 1)
			start     = s.param("start", 0)
			duration  = s.param("duration", simTime-start)
			phi       = s.param("phi", 0)
			freq      = s.param("freq", 1)
		)
		f = func(t float64) float64 {
			if t < start || t >= start+duration {
				return 0
			}
			return base + amplitude*math.Cos(phi+freq*(t-start))
		}
	case "tpolynomial":
		var (
			t0     = s.param("t0", 0)
			orders []int
			coeffs = make(map[int]float64)
		)
		for name, c := range s.Params {
			if name == "t0" {
				continue
			}
			var order int
			if _, e := fmt.Sscanf(name, "order%d", &order); e != nil || order < 0 {
				err = fmt.Errorf("profile tpolynomial: parameter %q must be t0 or order<N>", name)
				return
			}
			coeffs[order] = c
			orders = append(orders, order)
		}
		sort.Ints(orders)
		f = func(t float64) (r float64) {
			dt := t - t0
			for _, o := range orders {
				r += coeffs[o] * math.Pow(dt, float64(o))
			}
			return
		}
	default:
		err = fmt.Errorf("unknown time profile %q", s.Type)
	}
	return
}

func product(max float64, shapes []func(float64) float64) Space {
	return func(x []float64) float64 {
		v := max
		for d, sh := range shapes {
			v *= sh(x[d])
		}
		return v
	}
}

func trapeze(vacuum, plateau, slope1, slope2 float64) func(float64) float64 {
	return func(x float64) float64 {
		switch {
		case x < vacuum:
			return 0
		case x < vacuum+slope1:
			return (x - vacuum) / slope1
		case x < vacuum+slope1+plateau:
			return 1
		case x < vacuum+slope1+plateau+slope2:
			return 1 - (x-(vacuum+slope1+plateau))/slope2
		}
		return 0
	}
}

func gauss(vacuum, length, fwhm, center, order float64) func(float64) float64 {
	sigma := math.Pow(0.5*fwhm, order) / math.Ln2
	return func(x float64) float64 {
		if order == 0 {
			return 1
		}
		if x < vacuum || x >= vacuum+length {
			return 0
		}
		return math.Exp(-math.Pow(math.Abs(x-center), order) / sigma)
	}
}

func polygon(points, values []float64, name string) (f func(float64) float64, err error) {
	if len(points) != len(values) || len(points) < 2 {
		err = fmt.Errorf("profile %s needs at least two points and one value per point, got %d points and %d values",
			name, len(points), len(values))
		return
	}
	slopes := make([]float64, len(points)-1)
	for i := 1; i < len(points); i++ {
		if points[i] < points[i-1] {
			err = fmt.Errorf("profile %s: points must be increasing", name)
			return
		}
		if points[i] != points[i-1] {
			slopes[i-1] = (values[i] - values[i-1]) / (points[i] - points[i-1])
		}
	}
	f = func(x float64) float64 {
		if x < points[0] {
			return 0
		}
		for i := 1; i < len(points); i++ {
			if x < points[i] {
				return values[i-1] + slopes[i-1]*(x-points[i-1])
			}
		}
		return 0
	}
	return
}
