package storage

import (
	"context"
	"errors"
	"time"
)

// ErrFileNotFound is returned by backends when no file has the requested root
var ErrFileNotFound = errors.New("file not found")

// FileInfo describes a stored file as reported by a backend
type FileInfo struct {
	RootHash    string    `json:"root_hash" msgpack:"root_hash"`
	Size        int64     `json:"size" msgpack:"size"`
	TxReference string    `json:"tx_reference" msgpack:"tx_reference"`
	Submitter   string    `json:"submitter" msgpack:"submitter"`
	Finalized   bool      `json:"finalized" msgpack:"finalized"`
	UploadedAt  time.Time `json:"uploaded_at" msgpack:"uploaded_at"`
}

// Submission is a signed upload request
type Submission struct {
	RootHash  string
	Data      []byte
	Submitter string
	Signature string
}

// Backend defines the indexer / storage node the client talks to.
// Backends compute the root of what they store and report it back.
type Backend interface {
	// FileInfo returns ErrFileNotFound when root is unknown
	FileInfo(ctx context.Context, root string) (*FileInfo, error)

	// Put stores data; storing the same content twice returns the existing record
	Put(ctx context.Context, sub Submission) (*FileInfo, error)

	// Get returns the raw file content
	Get(ctx context.Context, root string) ([]byte, error)

	// Segments returns the file as chunks with inclusion proofs
	Segments(ctx context.Context, root string) ([]Segment, error)
}

// submissionTxReference derives the reference of the submission that stored root
func submissionTxReference(root, submitter string) string {
	return ComputeRoot([]byte("submission:" + root + ":" + submitter))
}
