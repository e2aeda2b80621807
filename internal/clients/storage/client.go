// Package storage uploads and downloads content-addressed blobs keyed by their Merkle root.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Guard serializes signature-requiring wallet operations
type Guard interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Client computes roots locally and talks to a storage Backend
type Client struct {
	backend Backend
	signer  domain.Signer
	guard   Guard
	log     zerolog.Logger
}

// NewClient creates a storage client bound to one wallet session
func NewClient(backend Backend, signer domain.Signer, guard Guard, log zerolog.Logger) *Client {
	return &Client{
		backend: backend,
		signer:  signer,
		guard:   guard,
		log:     log.With().Str("client", "storage").Logger(),
	}
}

// Upload stores data and returns its storage record. Uploading content that
// already exists returns the existing record without a new submission.
func (c *Client) Upload(ctx context.Context, data []byte) (*domain.StorageRecord, error) {
	root := ComputeRoot(data)

	existing, err := c.backend.FileInfo(ctx, root)
	switch {
	case err == nil && existing.Finalized:
		c.log.Debug().Str("root", root).Msg("Content already stored, reusing record")
		return &domain.StorageRecord{
			RootHash:    root,
			TxReference: existing.TxReference,
			Size:        existing.Size,
			Reused:      true,
		}, nil
	case err != nil && !errors.Is(err, ErrFileNotFound):
		return nil, c.storageError(err, domain.ReasonStorageUpload, "failed to query file info")
	}

	var info *FileInfo
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		sig, err := c.signer.SignMessage(ctx, []byte("arena-storage-submit:"+root))
		if err != nil {
			return err
		}
		info, err = c.backend.Put(ctx, Submission{
			RootHash:  root,
			Data:      data,
			Submitter: c.signer.Address(),
			Signature: sig,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserRejected) {
			return nil, domain.WrapError(domain.KindStorage, domain.ReasonUserRejectedSignature, err, "storage submission was not signed")
		}
		return nil, c.storageError(err, domain.ReasonStorageUpload, "upload failed")
	}

	// Never trust a remote-reported root without comparing it to ours
	if info.RootHash != root {
		return nil, domain.NewError(domain.KindStorage, domain.ReasonRootMismatch,
			"backend reported root %s, expected %s", info.RootHash, root)
	}

	c.log.Info().
		Str("root", root).
		Str("tx_reference", info.TxReference).
		Int("size", len(data)).
		Msg("Uploaded content")

	return &domain.StorageRecord{
		RootHash:    root,
		TxReference: info.TxReference,
		Size:        int64(len(data)),
	}, nil
}

// Download fetches the content under root. With requireProof every segment
// proof and the reassembled root are checked against root.
func (c *Client) Download(ctx context.Context, root string, requireProof bool) ([]byte, error) {
	if !ValidRootHash(root) {
		return nil, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "invalid root hash %q", root)
	}

	if !requireProof {
		data, err := c.backend.Get(ctx, root)
		if err != nil {
			return nil, c.storageError(err, domain.ReasonStorageUpload, "download failed")
		}
		return data, nil
	}

	segments, err := c.backend.Segments(ctx, root)
	if err != nil {
		return nil, c.storageError(err, domain.ReasonStorageUpload, "download failed")
	}
	if len(segments) == 0 {
		return nil, domain.NewError(domain.KindStorage, domain.ReasonProofInvalid, "no segments returned for %s", root)
	}

	var buf bytes.Buffer
	for i, seg := range segments {
		if seg.Proof.Leaves != len(segments) {
			return nil, domain.NewError(domain.KindStorage, domain.ReasonProofInvalid,
				"segment %d proves a %d-leaf tree, got %d segments", i, seg.Proof.Leaves, len(segments))
		}
		if seg.Index != i || seg.Proof.Index != i {
			return nil, domain.NewError(domain.KindStorage, domain.ReasonProofInvalid, "segment %d out of order", i)
		}
		if !VerifyProof(root, seg.Data, seg.Proof) {
			return nil, domain.NewError(domain.KindStorage, domain.ReasonProofInvalid, "segment %d failed proof verification", i)
		}
		buf.Write(seg.Data)
	}

	data := buf.Bytes()
	if got := ComputeRoot(data); got != root {
		return nil, domain.NewError(domain.KindStorage, domain.ReasonProofInvalid, "reassembled root %s does not match %s", got, root)
	}
	return data, nil
}

// Exists reports whether root is stored
func (c *Client) Exists(ctx context.Context, root string) (bool, error) {
	_, err := c.backend.FileInfo(ctx, root)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	return false, c.storageError(err, domain.ReasonStorageUpload, "failed to query file info")
}

func (c *Client) storageError(err error, reason domain.Reason, msg string) error {
	if errors.Is(err, ErrFileNotFound) {
		return domain.WrapError(domain.KindStorage, domain.ReasonNotFound, err, msg)
	}
	return domain.FromContext(fmt.Errorf("%s: %w", msg, err), domain.KindStorage, reason, "storage")
}
