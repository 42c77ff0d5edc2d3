// Package diagnostics gathers reduced quantities from the patches of every
// rank. Each Diagnostic is driven by the patch collection: Prepare decides
// whether the step is one it acts on, Run reduces over local patches and
// ranks, Write emits the result on the rank holding an output.
package diagnostics

import (
	"fmt"
	"io"

	"github.com/notargets/gopic/comm"
	"github.com/notargets/gopic/patch"
)

// Diagnostic calls are collective: every rank calls Prepare, and Run when
// Prepare returned true, on the same steps.
type Diagnostic interface {
	Prepare(step int) bool
	Run(step int, patches []*patch.Patch, c comm.Communicator) error
	Write(step int) error
	// NeedsRhoJs reports whether per species densities must be deposited
	// during step.
	NeedsRhoJs(step int) bool
	Close() error
}

// PatchMover is implemented by diagnostics holding patch dependent
// lookups, which become stale after a rebalance or a window shift.
type PatchMover interface {
	PatchesHaveMoved()
}

// WindowFollower is implemented by diagnostics positioned relative to the
// moving window.
type WindowFollower interface {
	MoveProbes(xMoved float64)
}

// IDAssigner is implemented by diagnostics that label particles. The call
// is collective.
type IDAssigner interface {
	AssignIDs(patches []*patch.Patch, c comm.Communicator)
}

func isDue(step, every int) bool {
	return every > 0 && step%every == 0
}

// output is the optional destination of a diagnostic; only one rank holds
// a non nil writer.
type output struct {
	w io.Writer
}

func (o output) printf(format string, args ...any) (err error) {
	if o.w == nil {
		return
	}
	if _, err = fmt.Fprintf(o.w, format, args...); err != nil {
		return fmt.Errorf("writing diagnostic: %w", err)
	}
	return
}

func (o output) Close() error {
	if c, ok := o.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
