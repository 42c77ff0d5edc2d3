package types

import (
	"fmt"
	"strings"
)

// EMBC is the electromagnetic boundary condition on one side of the domain.
type EMBC uint8

const (
	EMBC_None EMBC = iota
	EMBC_SilverMuller
	EMBC_Reflective
	EMBC_Periodic
)

var EMBCNameMap = map[string]EMBC{
	"silver-muller": EMBC_SilverMuller,
	"silvermuller":  EMBC_SilverMuller,
	"reflective":    EMBC_Reflective,
	"conductor":     EMBC_Reflective,
	"periodic":      EMBC_Periodic,
}

var embcNames = map[EMBC]string{
	EMBC_None:         "none",
	EMBC_SilverMuller: "silver-muller",
	EMBC_Reflective:   "reflective",
	EMBC_Periodic:     "periodic",
}

func (bc EMBC) String() string { return embcNames[bc] }

func NewEMBC(label string) (bc EMBC, err error) {
	var ok bool
	if bc, ok = EMBCNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown electromagnetic boundary condition %q", label)
	}
	return
}

// PartBC is the particle boundary condition on one side of the domain.
type PartBC uint8

const (
	PartBC_None PartBC = iota
	PartBC_Supp        // particle removed, energy recorded as lost
	PartBC_Refl
	PartBC_Periodic
	PartBC_Stop
)

var PartBCNameMap = map[string]PartBC{
	"supp":       PartBC_Supp,
	"remove":     PartBC_Supp,
	"refl":       PartBC_Refl,
	"reflective": PartBC_Refl,
	"periodic":   PartBC_Periodic,
	"stop":       PartBC_Stop,
}

var partbcNames = map[PartBC]string{
	PartBC_None:     "none",
	PartBC_Supp:     "supp",
	PartBC_Refl:     "refl",
	PartBC_Periodic: "periodic",
	PartBC_Stop:     "stop",
}

func (bc PartBC) String() string { return partbcNames[bc] }

func NewPartBC(label string) (bc PartBC, err error) {
	var ok bool
	if bc, ok = PartBCNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown particle boundary condition %q", label)
	}
	return
}

// Geometry is the dimensionality of the simulation, named as in input files.
type Geometry uint8

const (
	Geometry1D Geometry = iota + 1
	Geometry2D
	Geometry3D
)

var GeometryNameMap = map[string]Geometry{
	"1d3v": Geometry1D,
	"1d":   Geometry1D,
	"2d3v": Geometry2D,
	"2d":   Geometry2D,
	"3d3v": Geometry3D,
	"3d":   Geometry3D,
}

func (g Geometry) NDim() int { return int(g) }

func (g Geometry) String() string { return fmt.Sprintf("%dd3v", int(g)) }

func NewGeometry(label string) (g Geometry, err error) {
	var ok bool
	if g, ok = GeometryNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown geometry %q, expected one of 1d3v, 2d3v, 3d3v", label)
	}
	return
}

// Side indexes the two faces of a patch or of the domain along a dimension.
const (
	Min = 0
	Max = 1
)
