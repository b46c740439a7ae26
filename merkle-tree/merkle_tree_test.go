package merkle_tree

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTreeRootIsDeterministic(t *testing.T) {
	a := NewTree(8)
	b := NewTree(8)
	rootA := a.RootValue()
	rootB := b.RootValue()
	assert.Zero(t, rootA.Cmp(&rootB))

	c := NewTree(9)
	rootC := c.RootValue()
	assert.NotZero(t, rootA.Cmp(&rootC), "height changes the empty root")
}

func TestUpdateChangesRoot(t *testing.T) {
	tree := NewTree(8)
	emptyRoot := tree.RootValue()

	tree.Update(0, *big.NewInt(42))
	updatedRoot := tree.RootValue()
	assert.NotZero(t, emptyRoot.Cmp(&updatedRoot))

	// Same leaf at a different index yields a different root.
	other := NewTree(8)
	other.Update(1, *big.NewInt(42))
	otherRoot := other.RootValue()
	assert.NotZero(t, updatedRoot.Cmp(&otherRoot))
}

func TestUpdateIsOrderIndependentAcrossIndices(t *testing.T) {
	a := NewTree(8)
	a.Update(0, *big.NewInt(1))
	a.Update(3, *big.NewInt(2))

	b := NewTree(8)
	b.Update(3, *big.NewInt(2))
	b.Update(0, *big.NewInt(1))

	rootA := a.RootValue()
	rootB := b.RootValue()
	assert.Zero(t, rootA.Cmp(&rootB))
}

func TestRootOverLeaves(t *testing.T) {
	leaves := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}

	root, err := RootOverLeaves(8, leaves)
	require.NoError(t, err)
	require.NotNil(t, root)

	again, err := RootOverLeaves(8, leaves)
	require.NoError(t, err)
	assert.Zero(t, root.Cmp(again))

	// Matches building the tree by hand.
	tree := NewTree(8)
	for i, leaf := range leaves {
		tree.Update(i, *leaf)
	}
	manual := tree.RootValue()
	assert.Zero(t, root.Cmp(&manual))
}

func TestRootOverLeavesRejectsBadInput(t *testing.T) {
	_, err := RootOverLeaves(0, nil)
	assert.Error(t, err)

	_, err = RootOverLeaves(-3, nil)
	assert.Error(t, err)

	tooMany := make([]*big.Int, 3)
	for i := range tooMany {
		tooMany[i] = big.NewInt(int64(i))
	}
	_, err = RootOverLeaves(1, tooMany)
	assert.Error(t, err)
}
