package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/ir"
)

func TestClock_StartsAtOne(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_ConcurrentWorkersNeverShareSeq(t *testing.T) {
	c := NewClock()
	const workers = 16
	const perWorker = 250

	var wg sync.WaitGroup
	seqs := make(chan int64, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool, workers*perWorker)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d handed out twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), c.Current())
}

// Transitions and node results interleave on one clock, so the ledger
// can order them against each other.
func TestClock_SharedByResolverAndReports(t *testing.T) {
	c := NewClock()
	r := NewChainResolver([]ir.ChainSpec{{
		Zone:            "zone",
		Certificate:     "cert",
		DomainName:      "domain",
		AliasRecord:     "alias",
		BasePathMapping: "mapping",
		API:             "api/stage/dev",
	}}, c)

	require.NoError(t, r.Begin("zone"))
	nodeSeq := c.Next()
	require.NoError(t, r.Confirm("zone"))
	r.Fail("cert", errors.New("boom"))

	ts := r.Transitions()
	require.NotEmpty(t, ts)
	assert.Equal(t, int64(1), ts[0].Seq)
	assert.Equal(t, int64(2), nodeSeq)
	assert.Equal(t, int64(3), ts[1].Seq)
	for i := 1; i < len(ts); i++ {
		assert.Less(t, ts[i-1].Seq, ts[i].Seq)
	}
	assert.Equal(t, ts[len(ts)-1].Seq, c.Current())
}
