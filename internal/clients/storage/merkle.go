package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// ChunkSize is the leaf size of the content Merkle tree
const ChunkSize = 256

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

var rootHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// ValidRootHash reports whether s is a 0x-prefixed lowercase 32-byte hex digest
func ValidRootHash(s string) bool {
	return rootHashPattern.MatchString(s)
}

// Proof is the inclusion path of one chunk, leaf to root. Leaves is the
// size of the tree the path was taken from.
type Proof struct {
	Index    int      `json:"index" msgpack:"index"`
	Leaves   int      `json:"leaves" msgpack:"leaves"`
	Siblings []string `json:"siblings" msgpack:"siblings"`
}

// Segment is one chunk of a stored file with its inclusion proof
type Segment struct {
	Index int    `json:"index" msgpack:"index"`
	Data  []byte `json:"data" msgpack:"data"`
	Proof Proof  `json:"proof" msgpack:"proof"`
}

// Tree is an RFC 6962 Merkle tree over 256-byte chunks. Leaves are
// SHA-256(0x00 || chunk), inner nodes SHA-256(0x01 || left || right). A
// range of n > 1 leaves splits at the largest power of two below n, so a
// node without a sibling is carried up unhashed.
type Tree struct {
	chunks [][]byte
	leaves [][32]byte
	nodes  map[[2]int][32]byte
	root   [32]byte
}

// Chunk splits data into ChunkSize pieces. Empty data yields one empty chunk.
func Chunk(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(data); start += ChunkSize {
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// BuildTree computes the full tree for data
func BuildTree(data []byte) *Tree {
	chunks := Chunk(data)
	t := &Tree{
		chunks: chunks,
		leaves: make([][32]byte, len(chunks)),
		nodes:  make(map[[2]int][32]byte),
	}
	for i, c := range chunks {
		t.leaves[i] = hashLeaf(c)
	}
	t.root = t.subtree(0, len(chunks))
	return t
}

// ComputeRoot returns the 0x-prefixed root hash of data
func ComputeRoot(data []byte) string {
	return BuildTree(data).Root()
}

// Root returns the 0x-prefixed root hash
func (t *Tree) Root() string {
	return "0x" + hex.EncodeToString(t.root[:])
}

// NumChunks returns the number of leaves
func (t *Tree) NumChunks() int {
	return len(t.chunks)
}

// subtree returns the hash over leaves [lo, hi)
func (t *Tree) subtree(lo, hi int) [32]byte {
	if hi-lo == 1 {
		return t.leaves[lo]
	}
	key := [2]int{lo, hi}
	if h, ok := t.nodes[key]; ok {
		return h
	}
	k := splitPoint(hi - lo)
	h := hashPair(t.subtree(lo, lo+k), t.subtree(lo+k, hi))
	t.nodes[key] = h
	return h
}

// path returns the siblings of leaf index within [lo, hi), leaf first
func (t *Tree) path(index, lo, hi int) []string {
	if hi-lo <= 1 {
		return nil
	}
	k := splitPoint(hi - lo)
	if index < lo+k {
		sibling := t.subtree(lo+k, hi)
		return append(t.path(index, lo, lo+k), hex.EncodeToString(sibling[:]))
	}
	sibling := t.subtree(lo, lo+k)
	return append(t.path(index, lo+k, hi), hex.EncodeToString(sibling[:]))
}

// Proof returns the inclusion proof of chunk index
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= len(t.chunks) {
		return Proof{}, fmt.Errorf("chunk index %d out of range [0,%d)", index, len(t.chunks))
	}
	return Proof{
		Index:    index,
		Leaves:   len(t.chunks),
		Siblings: t.path(index, 0, len(t.chunks)),
	}, nil
}

// Segments returns every chunk with its proof
func (t *Tree) Segments() ([]Segment, error) {
	segments := make([]Segment, len(t.chunks))
	for i, c := range t.chunks {
		proof, err := t.Proof(i)
		if err != nil {
			return nil, err
		}
		segments[i] = Segment{Index: i, Data: c, Proof: proof}
	}
	return segments, nil
}

// VerifyProof checks that chunk sits at proof.Index of a proof.Leaves sized
// tree under root (RFC 9162 section 2.1.3.2).
func VerifyProof(root string, chunk []byte, proof Proof) bool {
	if proof.Index < 0 || proof.Index >= proof.Leaves {
		return false
	}

	fn, sn := proof.Index, proof.Leaves-1
	current := hashLeaf(chunk)
	for _, s := range proof.Siblings {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != sha256.Size || sn == 0 {
			return false
		}
		var sibling [32]byte
		copy(sibling[:], raw)

		if fn%2 == 1 || fn == sn {
			current = hashPair(sibling, current)
			for fn%2 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			current = hashPair(current, sibling)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return false
	}
	return strings.EqualFold(root, "0x"+hex.EncodeToString(current[:]))
}

// splitPoint returns the largest power of two below n, for n > 1
func splitPoint(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

func hashLeaf(chunk []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(chunk)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashPair(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
