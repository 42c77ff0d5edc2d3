package diagnostics

import (
	"fmt"
	"io"
	"sort"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

// TrackRecord is the state of one tracked particle.
type TrackRecord struct {
	ID       uint64
	Position [3]float64
	Momentum [3]float64
	Weight   float64
}

// Track gives every particle of a species a globally unique, non zero ID
// and records all of them every Every steps.
type Track struct {
	output
	Species int
	Every   int

	nextID  uint64 // identical on every rank
	records []TrackRecord
}

func NewTrack(params *patch.Params, species, every int, w io.Writer) (tr *Track, err error) {
	if species < 0 || species >= len(params.Species) {
		return nil, fmt.Errorf("track diagnostic: unknown species %d", species)
	}
	if every < 1 {
		return nil, fmt.Errorf("track diagnostic: every must be positive, got %d", every)
	}
	return &Track{output: output{w}, Species: species, Every: every, nextID: 1}, nil
}

func (tr *Track) Prepare(step int) bool { return isDue(step, tr.Every) }

func (tr *Track) NeedsRhoJs(step int) bool { return false }

// AssignIDs numbers the particles still carrying ID 0, ranks in order. It is
// collective and must run before the first Run and after particles are
// created.
func (tr *Track) AssignIDs(patches []*patch.Patch, c comm.Communicator) {
	var local int
	for _, p := range patches {
		for _, id := range p.Species[tr.Species].Particles.ID {
			if id == 0 {
				local++
			}
		}
	}
	counts := comm.AllgatherInt(c, local)
	id := tr.nextID
	for r := 0; r < c.Rank(); r++ {
		id += uint64(counts[r])
	}
	for _, n := range counts {
		tr.nextID += uint64(n)
	}
	for _, p := range patches {
		ps := p.Species[tr.Species].Particles
		for i := range ps.ID {
			if ps.ID[i] == 0 {
				ps.ID[i] = id
				id++
			}
		}
	}
}

func (tr *Track) Run(step int, patches []*patch.Patch, c comm.Communicator) error {
	tr.AssignIDs(patches, c)
	var local []TrackRecord
	for _, p := range patches {
		ps := p.Species[tr.Species].Particles
		for i := 0; i < ps.Len(); i++ {
			rec := TrackRecord{ID: ps.ID[i], Weight: ps.Weight[i]}
			for d := 0; d < ps.NDim; d++ {
				rec.Position[d] = ps.Position[d][i]
			}
			for k := 0; k < 3; k++ {
				rec.Momentum[k] = ps.Momentum[k][i]
			}
			local = append(local, rec)
		}
	}
	tr.records = tr.records[:0]
	for _, v := range c.Allgather(local) {
		tr.records = append(tr.records, v.([]TrackRecord)...)
	}
	sort.Slice(tr.records, func(i, j int) bool { return tr.records[i].ID < tr.records[j].ID })
	return nil
}

// Records returns the particles of the last run sorted by ID.
func (tr *Track) Records() []TrackRecord { return tr.records }

func (tr *Track) Write(step int) (err error) {
	for _, r := range tr.records {
		if err = tr.printf("%d\t%d\t%.8e\t%.8e\t%.8e\t%.8e\t%.8e\t%.8e\t%.8e\n", step, r.ID,
			r.Position[0], r.Position[1], r.Position[2],
			r.Momentum[0], r.Momentum[1], r.Momentum[2], r.Weight); err != nil {
			return
		}
	}
	return
}
