package comm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorld(t *testing.T) {
	{ // Test collectives return identical values on every rank
		var (
			sums  [4]float64
			ints  [4]int
			maxes [4]float64
			gath  [4][]int
		)
		err := Run(4, func(c Communicator) error {
			r := c.Rank()
			sums[r] = AllreduceSum(c, float64(r+1))
			ints[r] = AllreduceSumInt(c, r)
			maxes[r] = AllreduceMax(c, float64(r*r))
			gath[r] = AllgatherInt(c, 10*r)
			c.Barrier()
			return nil
		})
		require.NoError(t, err)
		for r := 0; r < 4; r++ {
			assert.Equal(t, 10., sums[r])
			assert.Equal(t, 6, ints[r])
			assert.Equal(t, 9., maxes[r])
			assert.Equal(t, []int{0, 10, 20, 30}, gath[r])
		}
	}
	{ // Test slice reductions and broadcast
		var (
			sums [3][]float64
			cat  [3][]float64
			bc   [3][]byte
		)
		err := Run(3, func(c Communicator) error {
			r := c.Rank()
			sums[r] = AllreduceSumSlice(c, []float64{1, float64(r)})
			cat[r] = AllgatherFloat64s(c, []float64{float64(r), float64(r)})
			var payload []byte
			if r == 1 {
				payload = []byte("hello")
			}
			bc[r] = Bcast(c, 1, payload)
			return nil
		})
		require.NoError(t, err)
		for r := 0; r < 3; r++ {
			assert.Equal(t, []float64{3, 3}, sums[r])
			assert.Equal(t, []float64{0, 0, 1, 1, 2, 2}, cat[r])
			assert.Equal(t, "hello", string(bc[r]))
		}
	}
	{ // Test point to point messages keep posting order per tag
		var got []string
		err := Run(2, func(c Communicator) error {
			if c.Rank() == 0 {
				var reqs []*Request
				for i := 0; i < 5; i++ {
					reqs = append(reqs, c.Isend(1, 7, []byte(fmt.Sprintf("m%d", i))))
				}
				reqs = append(reqs, c.Isend(1, 3, []byte("other")))
				Waitall(reqs)
				return nil
			}
			got = append(got, string(c.Recv(0, 3)))
			for i := 0; i < 5; i++ {
				got = append(got, string(c.Recv(0, 7)))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"other", "m0", "m1", "m2", "m3", "m4"}, got)
	}
	{ // Test ProcNull endpoints are no-ops
		err := Run(1, func(c Communicator) error {
			c.Isend(ProcNull, 1, []byte("x")).Wait()
			assert.Nil(t, c.Recv(ProcNull, 1))
			return nil
		})
		require.NoError(t, err)
	}
	{ // Test a failing rank aborts ranks blocked in collectives and receives
		var unwound int32
		boom := errors.New("boom")
		err := Run(3, func(c Communicator) error {
			switch c.Rank() {
			case 0:
				return boom
			case 1:
				defer atomic.AddInt32(&unwound, 1)
				c.Barrier()
			case 2:
				defer atomic.AddInt32(&unwound, 1)
				c.Recv(0, 99)
			}
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, int32(2), atomic.LoadInt32(&unwound))
	}
	{ // Test a panicking rank is reported as an error
		err := Run(2, func(c Communicator) error {
			if c.Rank() == 1 {
				panic(fmt.Errorf("invariant broken"))
			}
			c.Barrier()
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invariant broken")
	}
}
