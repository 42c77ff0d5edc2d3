package patch

import (
	"gonum.org/v1/gonum/floats"
)

// Field is a scalar grid component stored as a flat row-major array over
// three dimensions; unused dimensions have extent 1.
type Field struct {
	Name string
	Dims [3]int
	Data []float64
}

func NewField(name string, dims [3]int) *Field {
	return &Field{
		Name: name,
		Dims: dims,
		Data: make([]float64, dims[0]*dims[1]*dims[2]),
	}
}

func (f *Field) Index(i, j, k int) int {
	return (i*f.Dims[1]+j)*f.Dims[2] + k
}

// Stride is the flat index distance between neighbouring nodes along d.
func (f *Field) Stride(d int) int {
	switch d {
	case 0:
		return f.Dims[1] * f.Dims[2]
	case 1:
		return f.Dims[2]
	}
	return 1
}

func (f *Field) At(i, j, k int) float64 { return f.Data[f.Index(i, j, k)] }

func (f *Field) Set(i, j, k int, v float64) { f.Data[f.Index(i, j, k)] = v }

func (f *Field) Add(i, j, k int, v float64) { f.Data[f.Index(i, j, k)] += v }

func (f *Field) Zero() {
	for i := range f.Data {
		f.Data[i] = 0
	}
}

func (f *Field) CopyFrom(o *Field) { copy(f.Data, o.Data) }

func (f *Field) Copy() *Field {
	c := NewField(f.Name, f.Dims)
	copy(c.Data, f.Data)
	return c
}

// Box is a half open index range [Lo, Hi) over the three dimensions.
type Box struct {
	Lo, Hi [3]int
}

func (b Box) Size() int {
	n := 1
	for d := 0; d < 3; d++ {
		n *= b.Hi[d] - b.Lo[d]
	}
	return n
}

// Each calls fn with the flat index of every node of b.
func (f *Field) Each(b Box, fn func(idx int)) {
	for i := b.Lo[0]; i < b.Hi[0]; i++ {
		for j := b.Lo[1]; j < b.Hi[1]; j++ {
			for k := b.Lo[2]; k < b.Hi[2]; k++ {
				fn(f.Index(i, j, k))
			}
		}
	}
}

// Extract copies the values of b into a new slice, in Each order.
func (f *Field) Extract(b Box) (vals []float64) {
	vals = make([]float64, 0, b.Size())
	f.Each(b, func(idx int) { vals = append(vals, f.Data[idx]) })
	return
}

// Insert writes vals over b; with add set the values are accumulated.
func (f *Field) Insert(b Box, vals []float64, add bool) {
	n := 0
	f.Each(b, func(idx int) {
		if add {
			f.Data[idx] += vals[n]
		} else {
			f.Data[idx] = vals[n]
		}
		n++
	})
}

// SumSquares returns the sum of squared values over b.
func (f *Field) SumSquares(b Box) float64 {
	v := f.Extract(b)
	return floats.Dot(v, v)
}
