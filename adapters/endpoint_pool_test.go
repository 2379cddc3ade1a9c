package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointPool_Empty(t *testing.T) {
	_, err := NewEndpointPool(nil)
	assert.Error(t, err)
}

func TestEndpointPool_RotatePicksDifferent(t *testing.T) {
	p := newPool(t, "a", "b", "c")
	assert.Equal(t, "a", p.Current())
	for i := 0; i < 50; i++ {
		before := p.Current()
		after := p.Rotate()
		assert.NotEqual(t, before, after)
		assert.Equal(t, after, p.Current())
	}

	single := newPool(t, "only")
	assert.Equal(t, "only", single.Rotate())
}

func TestEndpointPool_CandidatesPreferredFirst(t *testing.T) {
	p := newPool(t, "a", "b", "c")
	p.SetCurrent("c")
	assert.Equal(t, []string{"c", "a", "b"}, p.Candidates())

	p.SetCurrent("unknown")
	assert.Equal(t, "c", p.Current())
}

func TestEndpointPool_PickDifferent(t *testing.T) {
	p := newPool(t, "a", "b", "c")
	tried := map[string]bool{"a": true}
	for len(tried) < 3 {
		next, ok := p.PickDifferent(tried)
		require.True(t, ok)
		assert.False(t, tried[next])
		assert.Equal(t, next, p.Current())
		tried[next] = true
	}
	_, ok := p.PickDifferent(tried)
	assert.False(t, ok)
}
