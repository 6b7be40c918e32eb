package id_test

import (
	"sync"
	"testing"

	"github.com/uberscott/mechtron/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeq_NeverRepeats(t *testing.T) {
	s := id.NewSeq(7)
	seen := make(map[id.Id]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := s.Next()
			mu.Lock()
			defer mu.Unlock()
			require.False(t, seen[got], "id %v minted twice", got)
			seen[got] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
}

func TestId_OrderingAndEquality(t *testing.T) {
	a := id.Id{Seq: 1, Index: 5}
	b := id.Id{Seq: 1, Index: 6}
	c := id.Id{Seq: 2, Index: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(id.Id{Seq: 1, Index: 5}))
	assert.False(t, a.Equal(b))
}

func TestId_IsNeutron(t *testing.T) {
	assert.True(t, id.Id{Seq: 3, Index: 0}.IsNeutron())
	assert.False(t, id.Id{Seq: 3, Index: 1}.IsNeutron())
}

func TestSeq_Rebase(t *testing.T) {
	s := id.NewSeq(0)
	first := s.Next()
	assert.Equal(t, int64(0), first.Seq)

	s.Rebase(9)
	next := s.Next()
	assert.Equal(t, int64(9), next.Seq)
	assert.Equal(t, first.Index+1, next.Index)
}
