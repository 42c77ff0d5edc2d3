package InputParameters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/notargets/gopic/balance"
	"github.com/notargets/gopic/diagnostics"
	"github.com/notargets/gopic/patch"
	"github.com/notargets/gopic/profiles"
	"github.com/notargets/gopic/types"
	"github.com/notargets/gopic/window"
)

// Parameters obtained from the YAML input file
type Parameters struct {
	Main           MainParams            `json:"Main"`
	Species        []SpeciesParams       `json:"Species"`
	Lasers         []LaserParams         `json:"Lasers,omitempty"`
	Antennas       []AntennaParams       `json:"Antennas,omitempty"`
	ExternalFields []ExternalFieldParams `json:"ExternalFields,omitempty"`
	MovingWindow   *window.Config        `json:"MovingWindow,omitempty"`
	LoadBalancing  *balance.Config       `json:"LoadBalancing,omitempty"`
	Collisions     []CollisionParams     `json:"Collisions,omitempty"`
	Diagnostics    DiagnosticsParams     `json:"Diagnostics"`
}

// MainParams describes the grid, the time stepping and the field solver.
type MainParams struct {
	Title         string      `json:"title"`
	Geometry      string      `json:"geometry"`
	NPatches      []int       `json:"number_of_patches"`
	NSpace        []int       `json:"n_space"` // cells per patch
	CellLength    []float64   `json:"cell_length"`
	Timestep      float64     `json:"timestep"`
	SimTime       float64     `json:"sim_time"`
	EMBC          [][2]string `json:"bc_em_type"` // [xmin, xmax], [ymin, ymax], ...
	RandomSeed    int64       `json:"random_seed"`
	PrintEvery    int         `json:"print_every"`
	SolvePoisson  bool        `json:"solve_poisson"`
	PoissonMaxIt  int         `json:"poisson_max_iteration"`
	PoissonMaxErr float64     `json:"poisson_max_error"`
}

// SpeciesParams describes one particle species and how it is loaded.
type SpeciesParams struct {
	Name         string        `json:"species_type"`
	Mass         float64       `json:"mass"`
	Charge       float64       `json:"charge"`
	NPartPerCell int           `json:"n_part_per_cell"`
	Density      profiles.Spec `json:"density"`
	Temperature  [3]float64    `json:"temperature"`
	MeanVelocity [3]float64    `json:"mean_velocity"`
	IsTest       bool          `json:"is_test"`
	TimeFrozen   float64       `json:"time_frozen"`
	BC           [][2]string   `json:"bc_part_type"`
	TrackEvery   int           `json:"track_every"`
	TrackOutput  string        `json:"track_output"`
	Chi          bool          `json:"chi"`
}

// LaserParams is a plane wave injected through the Xmin face.
type LaserParams struct {
	A0        float64       `json:"a0"`
	Omega     float64       `json:"omega"`
	Envelope  profiles.Spec `json:"time_envelope"`
	Component string        `json:"polarisation"` // "y" or "z"
}

type AntennaParams struct {
	Field string        `json:"field"`
	Space profiles.Spec `json:"space_profile"`
	Time  profiles.Spec `json:"time_profile"`
}

type ExternalFieldParams struct {
	Field   string        `json:"field"`
	Profile profiles.Spec `json:"profile"`
}

type CollisionParams struct {
	Species     []string `json:"species"`
	Strength    float64  `json:"strength"`
	DebyeLength bool     `json:"debye_length"`
	Every       int      `json:"every"`
}

type ScalarsParams struct {
	Every  int    `json:"every"`
	Output string `json:"output"`
}

// ProbeParams lists sample points, relative to the window origin.
type ProbeParams struct {
	Every  int         `json:"every"`
	Points [][]float64 `json:"points"`
	Fields []string    `json:"fields"`
	Output string      `json:"output"`
}

// DiagnosticsParams groups the outputs written while the run advances.
type DiagnosticsParams struct {
	Scalars   *ScalarsParams                `json:"Scalars,omitempty"`
	Probes    []ProbeParams                 `json:"Probes,omitempty"`
	Particles []diagnostics.ParticlesConfig `json:"Particles,omitempty"`
}

var (
	currentNames = map[string]bool{"Jx": true, "Jy": true, "Jz": true}
	fieldNames   = map[string]bool{"Ex": true, "Ey": true, "Ez": true, "Bx": true, "By": true, "Bz": true}
	components   = map[string]int{"y": 1, "ey": 1, "z": 2, "ez": 2}
)

// Parse reads the namelist. Blocks left out keep their defaults; a present
// LoadBalancing block starts from balance.DefaultConfig.
func (ip *Parameters) Parse(data []byte) (err error) {
	var blocks map[string]any
	if err = yaml.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	ip.Main.PrintEvery = 10
	ip.Main.PoissonMaxIt, ip.Main.PoissonMaxErr = 50000, 1e-14
	if _, ok := blocks["LoadBalancing"]; ok {
		lb := balance.DefaultConfig()
		ip.LoadBalancing = &lb
	}
	if err = yaml.Unmarshal(data, ip); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return
}

func (ip *Parameters) Print() {
	m := ip.Main
	fmt.Printf("\"%s\"\t\t= Title\n", m.Title)
	fmt.Printf("[%s]\t\t\t= Geometry\n", m.Geometry)
	fmt.Printf("%v\t\t\t= Number of patches\n", m.NPatches)
	fmt.Printf("%v\t\t\t= Cells per patch\n", m.NSpace)
	fmt.Printf("%v\t\t\t= Cell length\n", m.CellLength)
	fmt.Printf("%8.5f\t\t= Timestep\n", m.Timestep)
	fmt.Printf("%8.5f\t\t= Simulation time\n", m.SimTime)
	fmt.Printf("%v\t= EM boundary conditions\n", m.EMBC)
	for _, s := range ip.Species {
		fmt.Printf("Species[%s] = mass %g, charge %g, %d particles per cell, density %s\n",
			s.Name, s.Mass, s.Charge, s.NPartPerCell, specName(s.Density))
	}
	for i, l := range ip.Lasers {
		fmt.Printf("Lasers[%d] = a0 %g, omega %g, polarisation %s\n", i, l.A0, l.Omega, l.Component)
	}
	for i, a := range ip.Antennas {
		fmt.Printf("Antennas[%d] = %s, space %s, time %s\n", i, a.Field, specName(a.Space), specName(a.Time))
	}
	if w := ip.MovingWindow; w != nil {
		fmt.Printf("MovingWindow = velocity_x %g, time_start %g\n", w.VelocityX, w.TimeStart)
	}
	if lb := ip.LoadBalancing; lb != nil {
		fmt.Printf("LoadBalancing = every %d, initial %t, cell_load %g, frozen_particle_load %g\n",
			lb.Every, lb.InitialBalance, lb.CellLoad, lb.FrozenParticleLoad)
	}
	keys := make([]string, 0, 3)
	if ip.Diagnostics.Scalars != nil {
		keys = append(keys, "Scalars")
	}
	if len(ip.Diagnostics.Probes) > 0 {
		keys = append(keys, fmt.Sprintf("Probes(%d)", len(ip.Diagnostics.Probes)))
	}
	if len(ip.Diagnostics.Particles) > 0 {
		keys = append(keys, fmt.Sprintf("Particles(%d)", len(ip.Diagnostics.Particles)))
	}
	sort.Strings(keys)
	fmt.Printf("Diagnostics = %v\n", keys)
}

func specName(s profiles.Spec) string {
	if s.Type == "" {
		return "constant"
	}
	return s.Type
}

// Validate checks everything ToParams and the diagnostics constructors would
// reject, without building a run.
func (ip *Parameters) Validate() (err error) {
	var params *patch.Params
	if params, err = ip.ToParams(); err != nil {
		return
	}
	if ip.Main.SimTime < 0 {
		return fmt.Errorf("simulation time must not be negative, got %g", ip.Main.SimTime)
	}
	if ip.Main.PrintEvery < 1 {
		return fmt.Errorf("print_every must be positive, got %d", ip.Main.PrintEvery)
	}
	if lb := ip.LoadBalancing; lb != nil {
		if err = lb.Validate(); err != nil {
			return
		}
	}
	if _, err = window.New(params, ip.MovingWindow); err != nil {
		return
	}
	for _, pr := range ip.Diagnostics.Probes {
		if _, err = diagnostics.NewProbes(params, pr.Every, pr.Points, pr.Fields, nil); err != nil {
			return
		}
	}
	for _, pc := range ip.Diagnostics.Particles {
		if _, err = diagnostics.NewParticleBinning(params, pc, nil); err != nil {
			return
		}
	}
	return
}

// ToParams converts the namelist into run parameters.
func (ip *Parameters) ToParams() (params *patch.Params, err error) {
	m := ip.Main
	geom := types.Geometry1D
	if m.Geometry != "" {
		if geom, err = types.NewGeometry(m.Geometry); err != nil {
			return
		}
	}
	nDim := geom.NDim()
	if len(m.NPatches) != nDim || len(m.NSpace) != nDim || len(m.CellLength) != nDim || len(m.EMBC) != nDim {
		return nil, fmt.Errorf("geometry %s needs %d values for number_of_patches, n_space, cell_length and bc_em_type, got %d, %d, %d, %d",
			geom, nDim, len(m.NPatches), len(m.NSpace), len(m.CellLength), len(m.EMBC))
	}
	params = &patch.Params{
		NDim:     nDim,
		Timestep: m.Timestep,
		SimTime:  m.SimTime,
		Seed:     m.RandomSeed,
		NProbes:  len(ip.Diagnostics.Probes),
	}
	for d := 0; d < nDim; d++ {
		params.NPatches[d], params.NSpace[d], params.CellLength[d] = m.NPatches[d], m.NSpace[d], m.CellLength[d]
		for side := 0; side < 2; side++ {
			if params.EMBC[d][side], err = types.NewEMBC(m.EMBC[d][side]); err != nil {
				return nil, fmt.Errorf("bc_em_type: %w", err)
			}
		}
	}
	simLength := make([]float64, nDim)
	for d := range simLength {
		simLength[d] = float64(m.NPatches[d]*m.NSpace[d]) * m.CellLength[d]
	}

	index := make(map[string]int)
	for is, s := range ip.Species {
		if _, dup := index[s.Name]; dup || s.Name == "" {
			return nil, fmt.Errorf("species %d: name %q is empty or already used", is, s.Name)
		}
		index[s.Name] = is
		sp := &patch.SpeciesParams{
			Name: s.Name, Mass: s.Mass, Charge: s.Charge, NPartPerCell: s.NPartPerCell,
			Temperature: s.Temperature, MeanVelocity: s.MeanVelocity, IsTest: s.IsTest,
			TimeFrozen: s.TimeFrozen, TrackEvery: s.TrackEvery, Chi: s.Chi,
		}
		if sp.Density, err = profiles.NewSpace(s.Density, simLength); err != nil {
			return nil, fmt.Errorf("species %s density: %w", s.Name, err)
		}
		if len(s.BC) != nDim {
			return nil, fmt.Errorf("species %s: bc_part_type needs %d entries, got %d", s.Name, nDim, len(s.BC))
		}
		for d := 0; d < nDim; d++ {
			for side := 0; side < 2; side++ {
				if sp.BC[d][side], err = types.NewPartBC(s.BC[d][side]); err != nil {
					return nil, fmt.Errorf("species %s: %w", s.Name, err)
				}
				if (sp.BC[d][side] == types.PartBC_Periodic) != (params.EMBC[d][side] == types.EMBC_Periodic) {
					return nil, fmt.Errorf("species %s: dimension %d is periodic for fields or particles only", s.Name, d)
				}
			}
		}
		params.Species = append(params.Species, sp)
	}
	for i, l := range ip.Lasers {
		lp := &patch.LaserParams{A0: l.A0, Omega: l.Omega}
		var ok bool
		if lp.Component, ok = components[strings.ToLower(l.Component)]; !ok {
			return nil, fmt.Errorf("laser %d: unknown polarisation %q, expected y or z", i, l.Component)
		}
		if lp.Envelope, err = profiles.NewTime(l.Envelope, m.SimTime); err != nil {
			return nil, fmt.Errorf("laser %d: %w", i, err)
		}
		params.Lasers = append(params.Lasers, lp)
	}
	for i, a := range ip.Antennas {
		if !currentNames[a.Field] {
			return nil, fmt.Errorf("antenna %d: field must be Jx, Jy or Jz, got %q", i, a.Field)
		}
		ap := &patch.AntennaParams{Field: a.Field}
		if ap.Space, err = profiles.NewSpace(a.Space, simLength); err != nil {
			return nil, fmt.Errorf("antenna %d: %w", i, err)
		}
		if ap.Time, err = profiles.NewTime(a.Time, m.SimTime); err != nil {
			return nil, fmt.Errorf("antenna %d: %w", i, err)
		}
		params.Antennas = append(params.Antennas, ap)
	}
	for i, e := range ip.ExternalFields {
		if !fieldNames[e.Field] {
			return nil, fmt.Errorf("external field %d: unknown field %q", i, e.Field)
		}
		ep := &patch.ExternalFieldParams{Field: e.Field}
		if ep.Profile, err = profiles.NewSpace(e.Profile, simLength); err != nil {
			return nil, fmt.Errorf("external field %d: %w", i, err)
		}
		params.ExternalFields = append(params.ExternalFields, ep)
	}
	for i, c := range ip.Collisions {
		cp := &patch.CollisionParams{Strength: c.Strength, DebyeLength: c.DebyeLength, Every: c.Every}
		for _, name := range c.Species {
			is, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("collisions %d: unknown species %q", i, name)
			}
			cp.Species = append(cp.Species, is)
		}
		params.Collisions = append(params.Collisions, cp)
	}
	if err = params.Init(); err != nil {
		return nil, err
	}
	return
}
