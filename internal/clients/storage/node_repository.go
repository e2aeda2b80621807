package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// NodeRepository is a storage node backed by a sqlite database
type NodeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewNodeRepository creates a storage node over db (schema: storage)
func NewNodeRepository(db *sql.DB, log zerolog.Logger) *NodeRepository {
	return &NodeRepository{
		db:  db,
		log: log.With().Str("repo", "storage_node").Logger(),
	}
}

// FileInfo returns metadata for root
func (r *NodeRepository) FileInfo(ctx context.Context, root string) (*FileInfo, error) {
	var info FileInfo
	var finalized int
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT root_hash, size, tx_reference, submitter, finalized, created_at
		FROM files WHERE root_hash = ?
	`, root).Scan(&info.RootHash, &info.Size, &info.TxReference, &info.Submitter, &finalized, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file %s: %w", root, err)
	}
	info.Finalized = finalized == 1
	info.UploadedAt = time.Unix(createdAt, 0).UTC()
	return &info, nil
}

// Put stores the submission under the root computed by the node
func (r *NodeRepository) Put(ctx context.Context, sub Submission) (*FileInfo, error) {
	root := ComputeRoot(sub.Data)
	if sub.RootHash != "" && sub.RootHash != root {
		r.log.Warn().
			Str("claimed", sub.RootHash).
			Str("computed", root).
			Msg("Submission root does not match content")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO files (root_hash, size, data, tx_reference, submitter, signature, finalized, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, root, len(sub.Data), sub.Data, submissionTxReference(root, sub.Submitter), sub.Submitter, sub.Signature, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to store file %s: %w", root, err)
	}

	return r.FileInfo(ctx, root)
}

// Get returns the raw content of root
func (r *NodeRepository) Get(ctx context.Context, root string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM files WHERE root_hash = ?`, root).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", root, err)
	}
	return data, nil
}

// Segments returns the content of root with inclusion proofs
func (r *NodeRepository) Segments(ctx context.Context, root string) ([]Segment, error) {
	data, err := r.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	return BuildTree(data).Segments()
}

// Count returns the number of stored files
func (r *NodeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}
