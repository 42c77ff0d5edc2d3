package diagnostics

import (
	"math"

	"github.com/notargets/gopic/patch"
)

// quantity is a per particle scalar of a species of mass m.
type quantity func(m float64, ps *patch.Particles, i int) float64

func momentum(ps *patch.Particles, i int) (px, py, pz float64) {
	return ps.Momentum[0][i], ps.Momentum[1][i], ps.Momentum[2][i]
}

func p2(ps *patch.Particles, i int) float64 {
	px, py, pz := momentum(ps, i)
	return px*px + py*py + pz*pz
}

func position(d int) quantity {
	return func(_ float64, ps *patch.Particles, i int) float64 { return ps.Position[d][i] }
}

func velocity(c int) quantity {
	return func(_ float64, ps *patch.Particles, i int) float64 {
		return ps.Momentum[c][i] / math.Sqrt(1+p2(ps, i))
	}
}

func massMomentum(c int) quantity {
	return func(m float64, ps *patch.Particles, i int) float64 { return m * ps.Momentum[c][i] }
}

// axisQuantities are the binning axes by name. Position axes beyond the
// simulation dimension are rejected when the diagnostic is built.
var axisQuantities = map[string]quantity{
	"x":  position(0),
	"y":  position(1),
	"z":  position(2),
	"px": massMomentum(0),
	"py": massMomentum(1),
	"pz": massMomentum(2),
	"p": func(m float64, ps *patch.Particles, i int) float64 {
		return m * math.Sqrt(p2(ps, i))
	},
	"gamma": func(_ float64, ps *patch.Particles, i int) float64 {
		return math.Sqrt(1 + p2(ps, i))
	},
	"ekin": func(m float64, ps *patch.Particles, i int) float64 {
		return m * (math.Sqrt(1+p2(ps, i)) - 1)
	},
	"vx": velocity(0),
	"vy": velocity(1),
	"vz": velocity(2),
	"v": func(_ float64, ps *patch.Particles, i int) float64 {
		pp := p2(ps, i)
		return math.Sqrt(pp / (1 + pp))
	},
	"vperp2": func(_ float64, ps *patch.Particles, i int) float64 {
		_, py, pz := momentum(ps, i)
		return (py*py + pz*pz) / (1 + p2(ps, i))
	},
	"charge": func(_ float64, ps *patch.Particles, i int) float64 { return ps.Charge[i] },
	"chi": func(_ float64, ps *patch.Particles, i int) float64 {
		if ps.Chi == nil {
			return 0
		}
		return ps.Chi[i]
	},
}

func current(c int) quantity {
	return func(_ float64, ps *patch.Particles, i int) float64 {
		return ps.Weight[i] * ps.Charge[i] * ps.Momentum[c][i] / math.Sqrt(1+p2(ps, i))
	}
}

func momentumDensity(c int) quantity {
	return func(m float64, ps *patch.Particles, i int) float64 {
		return m * ps.Weight[i] * ps.Momentum[c][i]
	}
}

func pressure(a, b int) quantity {
	return func(m float64, ps *patch.Particles, i int) float64 {
		return m * ps.Weight[i] * ps.Momentum[a][i] * ps.Momentum[b][i] / math.Sqrt(1+p2(ps, i))
	}
}

// outputQuantities are the deposited quantities by name: exactly one is
// selected per diagnostic.
var outputQuantities = map[string]quantity{
	"density": func(_ float64, ps *patch.Particles, i int) float64 { return ps.Weight[i] },
	"charge_density": func(_ float64, ps *patch.Particles, i int) float64 {
		return ps.Weight[i] * ps.Charge[i]
	},
	"jx_density": current(0),
	"jy_density": current(1),
	"jz_density": current(2),
	"p_density": func(m float64, ps *patch.Particles, i int) float64 {
		return m * ps.Weight[i] * math.Sqrt(p2(ps, i))
	},
	"px_density":  momentumDensity(0),
	"py_density":  momentumDensity(1),
	"pz_density":  momentumDensity(2),
	"pressure_xx": pressure(0, 0),
	"pressure_yy": pressure(1, 1),
	"pressure_zz": pressure(2, 2),
	"pressure_xy": pressure(0, 1),
	"pressure_xz": pressure(0, 2),
	"pressure_yz": pressure(1, 2),
}

var (
	logscaleKeywords = map[string]bool{"logscale": true, "log_scale": true, "log": true}
	edgeKeywords     = map[string]bool{"edges": true, "edge": true, "edge_inclusive": true, "edges_inclusive": true}
)
