package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRoot_Deterministic(t *testing.T) {
	data := bytes.Repeat([]byte("strategy"), 100)

	root := ComputeRoot(data)
	assert.Equal(t, root, ComputeRoot(data))
	assert.True(t, ValidRootHash(root))
	assert.NotEqual(t, root, ComputeRoot(append(data, '!')))
}

func TestChunk(t *testing.T) {
	assert.Len(t, Chunk(nil), 1)
	assert.Len(t, Chunk(make([]byte, ChunkSize)), 1)
	assert.Len(t, Chunk(make([]byte, ChunkSize+1)), 2)
	assert.Len(t, Chunk(make([]byte, 5*ChunkSize)), 5)
}

func TestTree_ProofsVerify(t *testing.T) {
	// 5 chunks exercises an unbalanced split
	data := bytes.Repeat([]byte{0xAB}, 4*ChunkSize+17)
	tree := BuildTree(data)
	require.Equal(t, 5, tree.NumChunks())

	segments, err := tree.Segments()
	require.NoError(t, err)

	for _, seg := range segments {
		assert.True(t, VerifyProof(tree.Root(), seg.Data, seg.Proof), "segment %d", seg.Index)
	}
}

// distinctChunks returns n full chunks, each filled with a different byte
func distinctChunks(n int) []byte {
	data := make([]byte, 0, n*ChunkSize)
	for i := 0; i < n; i++ {
		data = append(data, bytes.Repeat([]byte{byte('a' + i)}, ChunkSize)...)
	}
	return data
}

func TestVerifyProof_RejectsTampering(t *testing.T) {
	data := distinctChunks(3)
	tree := BuildTree(data)
	chunk1 := data[ChunkSize : 2*ChunkSize]

	proof, err := tree.Proof(1)
	require.NoError(t, err)
	require.True(t, VerifyProof(tree.Root(), chunk1, proof))

	tampered := bytes.Repeat([]byte("y"), ChunkSize)
	assert.False(t, VerifyProof(tree.Root(), tampered, proof))

	moved := proof
	moved.Index = 2
	assert.False(t, VerifyProof(tree.Root(), chunk1, moved))

	resized := proof
	resized.Leaves = 4
	assert.False(t, VerifyProof(tree.Root(), chunk1, resized))

	bad := Proof{Index: 0, Leaves: 3, Siblings: []string{"zz"}}
	assert.False(t, VerifyProof(tree.Root(), data[:ChunkSize], bad))
}

func TestComputeRoot_DuplicatedLastChunkChangesRoot(t *testing.T) {
	x := distinctChunks(3)
	y := append(append([]byte{}, x...), x[2*ChunkSize:]...)

	assert.NotEqual(t, ComputeRoot(x), ComputeRoot(y))

	same := bytes.Repeat([]byte("x"), 3*ChunkSize)
	assert.NotEqual(t, ComputeRoot(same), ComputeRoot(append(same, same[:ChunkSize]...)))
}

func TestTree_SingleChunkRootIsLeaf(t *testing.T) {
	tree := BuildTree([]byte("small"))
	proof, err := tree.Proof(0)
	require.NoError(t, err)

	assert.Empty(t, proof.Siblings)
	assert.Equal(t, 1, proof.Leaves)
	assert.True(t, VerifyProof(tree.Root(), []byte("small"), proof))
}

func TestTree_ProofOutOfRange(t *testing.T) {
	tree := BuildTree([]byte("small"))
	_, err := tree.Proof(1)
	assert.Error(t, err)
	_, err = tree.Proof(-1)
	assert.Error(t, err)
}

func TestValidRootHash(t *testing.T) {
	assert.False(t, ValidRootHash("0x1234"))
	assert.False(t, ValidRootHash("1234567890123456789012345678901234567890123456789012345678901234"))
	assert.False(t, ValidRootHash("0xZZ34567890123456789012345678901234567890123456789012345678901234"))
	assert.True(t, ValidRootHash(ComputeRoot([]byte("a"))))
}
