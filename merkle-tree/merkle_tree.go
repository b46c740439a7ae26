package merkle_tree

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Sparse Poseidon Merkle tree. Empty subtrees share precomputed hashes, so a
// height-20 tree with a handful of leaves stays cheap to build.

type PoseidonNode interface {
	depth() int
	Value() big.Int
	withValue(index int, val big.Int) PoseidonNode
}

func indexIsLeft(index int, depth int) bool {
	return index&(1<<(depth-1)) == 0
}

type PoseidonFullNode struct {
	dep   int
	val   big.Int
	Left  PoseidonNode
	Right PoseidonNode
}

func (node *PoseidonFullNode) depth() int {
	return node.dep
}

func (node *PoseidonFullNode) Value() big.Int {
	return node.val
}

func (node *PoseidonFullNode) initHash() {
	leftVal := node.Left.Value()
	rightVal := node.Right.Value()
	newVal, _ := poseidon.Hash([]*big.Int{&leftVal, &rightVal})
	node.val = *newVal
}

func (node *PoseidonFullNode) withValue(index int, val big.Int) PoseidonNode {
	result := PoseidonFullNode{
		dep:   node.depth(),
		Left:  node.Left,
		Right: node.Right,
	}
	if node.depth() == 0 {
		result.val = val
	} else {
		if indexIsLeft(index, node.depth()) {
			result.Left = node.Left.withValue(index, val)
		} else {
			result.Right = node.Right.withValue(index, val)
		}
		result.initHash()
	}
	return &result
}

type PoseidonEmptyNode struct {
	dep             int
	emptyTreeValues []big.Int
}

func (node *PoseidonEmptyNode) depth() int {
	return node.dep
}

func (node *PoseidonEmptyNode) Value() big.Int {
	return node.emptyTreeValues[node.depth()]
}

func (node *PoseidonEmptyNode) withValue(index int, val big.Int) PoseidonNode {
	result := PoseidonFullNode{
		dep: node.depth(),
	}
	if node.depth() == 0 {
		result.val = val
	} else {
		emptyChild := PoseidonEmptyNode{dep: node.depth() - 1, emptyTreeValues: node.emptyTreeValues}
		initializedChild := emptyChild.withValue(index, val)
		if indexIsLeft(index, node.depth()) {
			result.Left = initializedChild
			result.Right = &emptyChild
		} else {
			result.Left = &emptyChild
			result.Right = initializedChild
		}
		result.initHash()
	}
	return &result
}

type PoseidonTree struct {
	Root PoseidonNode
}

func NewTree(depth int) PoseidonTree {
	initHashes := make([]big.Int, depth+1)
	for i := 1; i <= depth; i++ {
		val, _ := poseidon.Hash([]*big.Int{&initHashes[i-1], &initHashes[i-1]})
		initHashes[i] = *val
	}
	return PoseidonTree{Root: &PoseidonEmptyNode{dep: depth, emptyTreeValues: initHashes}}
}

func (tree *PoseidonTree) Update(index int, value big.Int) {
	tree.Root = tree.Root.withValue(index, value)
}

func (tree *PoseidonTree) RootValue() big.Int {
	return tree.Root.Value()
}

// RootOverLeaves builds a fresh tree of the given height, inserts the leaves
// starting at index 0, and returns the resulting root. Used to derive a state
// root locally from compressed account hashes when the indexer cannot serve a
// validity proof.
func RootOverLeaves(height int, leaves []*big.Int) (*big.Int, error) {
	if height <= 0 {
		return nil, fmt.Errorf("tree height must be positive, got %d", height)
	}
	if len(leaves) > 1<<height {
		return nil, fmt.Errorf("%d leaves do not fit in a height-%d tree", len(leaves), height)
	}
	tree := NewTree(height)
	for i, leaf := range leaves {
		tree.Update(i, *leaf)
	}
	root := tree.RootValue()
	return &root, nil
}
