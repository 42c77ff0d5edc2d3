package comm

import (
	"fmt"
)

// ProcNull is the rank of a neighbour outside the domain. Sends to it
// complete immediately and receives from it return nothing.
const ProcNull = -2

// Communicator is the message passing layer seen by a single rank. Point to
// point messages are matched on (source, tag) in posting order. Collective
// calls must be entered by every rank in the same order.
type Communicator interface {
	Rank() int
	Size() int
	// Isend posts data for dest. The returned Request completes once the
	// receiver has consumed the message; callers must Wait on it before
	// reusing or freeing anything the payload was built from.
	Isend(dest, tag int, data []byte) *Request
	// Recv blocks until a message from src with tag arrives.
	Recv(src, tag int) []byte
	// Allgather returns every rank's value, indexed by rank.
	Allgather(v any) []any
	Barrier()
	// Abort terminates the computation on every rank.
	Abort(err error)
}

type Request struct {
	done chan struct{}
	w    *World
}

func completedRequest() *Request {
	r := &Request{done: make(chan struct{})}
	close(r.done)
	return r
}

func (r *Request) Wait() {
	if r.w == nil {
		<-r.done
		return
	}
	select {
	case <-r.done:
	case <-r.w.abortCh:
		panic(r.w.abortErr())
	}
}

func Waitall(reqs []*Request) {
	for _, r := range reqs {
		if r != nil {
			r.Wait()
		}
	}
}

func Bcast(c Communicator, root int, data []byte) []byte {
	var v any
	if c.Rank() == root {
		v = data
	}
	all := c.Allgather(v)
	b, _ := all[root].([]byte)
	return b
}

func AllreduceSum(c Communicator, x float64) (sum float64) {
	for _, v := range c.Allgather(x) {
		sum += v.(float64)
	}
	return
}

func AllreduceSumInt(c Communicator, x int) (sum int) {
	for _, v := range c.Allgather(x) {
		sum += v.(int)
	}
	return
}

func AllreduceMax(c Communicator, x float64) (max float64) {
	for i, v := range c.Allgather(x) {
		if f := v.(float64); i == 0 || f > max {
			max = f
		}
	}
	return
}

// AllreduceSumSlice sums x element-wise over all ranks.
func AllreduceSumSlice(c Communicator, x []float64) (sum []float64) {
	sum = make([]float64, len(x))
	for r, v := range c.Allgather(x) {
		xs := v.([]float64)
		if len(xs) != len(x) {
			panic(fmt.Errorf("allreduce: rank %d contributed %d values, expected %d", r, len(xs), len(x)))
		}
		for i, f := range xs {
			sum[i] += f
		}
	}
	return
}

func AllgatherInt(c Communicator, x int) (all []int) {
	vals := c.Allgather(x)
	all = make([]int, len(vals))
	for i, v := range vals {
		all[i] = v.(int)
	}
	return
}

// AllgatherFloat64s concatenates every rank's slice in rank order.
func AllgatherFloat64s(c Communicator, x []float64) (all []float64) {
	for _, v := range c.Allgather(x) {
		all = append(all, v.([]float64)...)
	}
	return
}
