package pending

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableBasic(t *testing.T) {
	requireT := require.New(t)

	table := NewTable()
	c1 := NewCall(5)
	table.Append(c1)

	c, exists := table.FindBySequence(5)
	requireT.True(exists)
	requireT.Same(c1, c)

	_, exists = table.FindBySequence(55)
	requireT.False(exists)

	table.Remove(c1)
	_, exists = table.FindBySequence(5)
	requireT.False(exists)
	requireT.Zero(table.Size())
}

func TestTableMultipleCalls(t *testing.T) {
	requireT := require.New(t)

	table := NewTable()
	c2 := NewCall(10)
	c3 := NewCall(11)
	table.Append(c2)
	table.Append(c3)
	requireT.Equal(2, table.Size())

	c, exists := table.FindBySequence(11)
	requireT.True(exists)
	requireT.Same(c3, c)

	c, exists = table.FindBySequence(10)
	requireT.True(exists)
	requireT.Same(c2, c)

	// Removing unknown call is a no-op.
	table.Remove(NewCall(10))
	requireT.Equal(2, table.Size())

	table.Remove(c2)
	requireT.Equal(1, table.Size())
	c, exists = table.FindBySequence(11)
	requireT.True(exists)
	requireT.Same(c3, c)
}

func TestCallSignaledOnce(t *testing.T) {
	requireT := require.New(t)

	c := NewCall(1)
	requireT.Nil(c.Response())

	response := []byte{1, 2, 3}
	requireT.True(c.Signal(response))
	requireT.False(c.Signal([]byte{4}))

	response[0] = 9
	requireT.Equal([]byte{1, 2, 3}, c.Response())

	select {
	case <-c.Done():
	default:
		requireT.Fail("call not signaled")
	}
}

func TestTableConcurrent(t *testing.T) {
	requireT := require.New(t)

	const workers = 16

	table := NewTable()
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := range 200 {
				c := NewCall(uint32(i*1000 + j + 1))
				table.Append(c)
				found, exists := table.FindBySequence(c.Sequence())
				if !exists || found != c {
					panic("call not found")
				}
				table.Remove(c)
			}
		}()
	}
	wg.Wait()

	requireT.Zero(table.Size())
}
