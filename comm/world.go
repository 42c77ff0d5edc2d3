package comm

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var ErrAborted = errors.New("computation aborted")

type msgKey struct {
	src, dst, tag int
}

type envelope struct {
	data []byte
	done chan struct{}
}

// World connects Size ranks living in the same process, one goroutine per
// rank. It plays the role of the MPI runtime.
type World struct {
	size   int
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[msgKey][]*envelope

	gen     int
	arrived int
	slots   []any
	result  []any

	abortOnce sync.Once
	abortCh   chan struct{}
	aborted   error
}

func NewWorld(size int) (w *World) {
	if size < 1 {
		panic(fmt.Errorf("world size must be positive, got %d", size))
	}
	w = &World{
		size:    size,
		queues:  make(map[msgKey][]*envelope),
		slots:   make([]any, size),
		abortCh: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return
}

func (w *World) Size() int { return w.size }

// Comm returns the endpoint of rank.
func (w *World) Comm(rank int) Communicator {
	if rank < 0 || rank >= w.size {
		panic(fmt.Errorf("rank %d outside world of size %d", rank, w.size))
	}
	return &rankComm{w: w, rank: rank}
}

// Run executes fn on every rank concurrently and waits for all of them. The
// first rank to fail aborts the others; its error is returned.
func (w *World) Run(fn func(c Communicator) error) (err error) {
	var (
		wg   sync.WaitGroup
		errs = make([]error, w.size)
	)
	for rank := 0; rank < w.size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if e, ok := r.(error); ok && errors.Is(e, ErrAborted) {
						errs[rank] = e
						return
					}
					errs[rank] = fmt.Errorf("rank %d panic: %v\n%s", rank, r, debug.Stack())
					w.Abort(errs[rank])
				}
			}()
			if e := fn(w.Comm(rank)); e != nil {
				errs[rank] = fmt.Errorf("rank %d: %w", rank, e)
				w.Abort(errs[rank])
			}
		}(rank)
	}
	wg.Wait()
	if w.aborted != nil {
		return w.aborted
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Run is a shorthand for NewWorld(size).Run(fn).
func Run(size int, fn func(c Communicator) error) error {
	return NewWorld(size).Run(fn)
}

func (w *World) Abort(err error) {
	w.abortOnce.Do(func() {
		w.mu.Lock()
		w.aborted = err
		close(w.abortCh)
		w.cond.Broadcast()
		w.mu.Unlock()
	})
}

func (w *World) abortErr() error {
	return fmt.Errorf("%w: %v", ErrAborted, w.aborted)
}

// checkAbort must be called with mu held.
func (w *World) checkAbort() {
	if w.aborted != nil {
		err := w.abortErr()
		w.mu.Unlock()
		panic(err)
	}
}

type rankComm struct {
	w    *World
	rank int
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.w.size }

func (c *rankComm) Abort(err error) { c.w.Abort(err) }

func (c *rankComm) Isend(dest, tag int, data []byte) *Request {
	if dest == ProcNull {
		return completedRequest()
	}
	w := c.w
	if dest < 0 || dest >= w.size {
		panic(fmt.Errorf("rank %d: send to invalid rank %d", c.rank, dest))
	}
	env := &envelope{data: data, done: make(chan struct{})}
	w.mu.Lock()
	w.checkAbort()
	key := msgKey{src: c.rank, dst: dest, tag: tag}
	w.queues[key] = append(w.queues[key], env)
	w.cond.Broadcast()
	w.mu.Unlock()
	return &Request{done: env.done, w: w}
}

func (c *rankComm) Recv(src, tag int) []byte {
	if src == ProcNull {
		return nil
	}
	w := c.w
	key := msgKey{src: src, dst: c.rank, tag: tag}
	w.mu.Lock()
	for {
		w.checkAbort()
		if q := w.queues[key]; len(q) > 0 {
			env := q[0]
			if len(q) == 1 {
				delete(w.queues, key)
			} else {
				w.queues[key] = q[1:]
			}
			w.mu.Unlock()
			close(env.done)
			return env.data
		}
		w.cond.Wait()
	}
}

func (c *rankComm) Allgather(v any) []any {
	w := c.w
	w.mu.Lock()
	w.checkAbort()
	myGen := w.gen
	w.slots[c.rank] = v
	w.arrived++
	if w.arrived == w.size {
		w.result = w.slots
		w.slots = make([]any, w.size)
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
	} else {
		for w.gen == myGen {
			w.checkAbort()
			w.cond.Wait()
		}
	}
	out := make([]any, w.size)
	copy(out, w.result)
	w.mu.Unlock()
	return out
}

func (c *rankComm) Barrier() {
	c.Allgather(nil)
}
