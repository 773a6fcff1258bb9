package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID     int            `json:"id"`
	Params map[string]any `json:"params"`
}

func entries(n int) []entry {
	out := make([]entry, n)
	for i := range out {
		out[i] = entry{ID: i, Params: map[string]any{"amount": float64(i * 1000), "note": fmt.Sprint("n", i)}}
	}
	return out
}

func TestRoot_EmptyAndSingle(t *testing.T) {
	assert.Equal(t, "", NewLedger().Root())

	l, err := Build(entries(1))
	require.NoError(t, err)
	leaf, err := LeafHash(entries(1)[0])
	require.NoError(t, err)
	assert.Len(t, l.Root(), 64)
	assert.Equal(t, fmt.Sprintf("%x", leaf), l.Root())
}

func TestRoot_IgnoresKeyOrder(t *testing.T) {
	a, err := LeafHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	b, err := LeafHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRoot_DetectsTampering(t *testing.T) {
	items := entries(5)
	l, err := Build(items)
	require.NoError(t, err)
	root := l.Root()

	items[3].Params["amount"] = 1.0
	tampered, err := Build(items)
	require.NoError(t, err)
	assert.NotEqual(t, root, tampered.Root())
}

func TestProof_EveryLeafVerifies(t *testing.T) {
	for n := 1; n <= 9; n++ {
		items := entries(n)
		l, err := Build(items)
		require.NoError(t, err)
		root := l.Root()

		for i, item := range items {
			proof, err := l.Proof(i)
			require.NoError(t, err)
			ok, err := VerifyInclusion(item, proof, root)
			require.NoError(t, err)
			assert.True(t, ok, "n=%d leaf=%d", n, i)
		}
	}
}

func TestProof_RejectsWrongLeaf(t *testing.T) {
	items := entries(4)
	l, err := Build(items)
	require.NoError(t, err)

	proof, err := l.Proof(1)
	require.NoError(t, err)
	ok, err := VerifyInclusion(items[2], proof, l.Root())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Proof(4)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
