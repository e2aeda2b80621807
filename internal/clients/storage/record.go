package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
)

// StrategyRecord is the blob stored for every strategy run
type StrategyRecord struct {
	AgentID   uint64                 `json:"agent_id"`
	User      string                 `json:"user"`
	Provider  string                 `json:"provider"`
	Prompt    string                 `json:"prompt"`
	Config    domain.StrategyConfig  `json:"config"`
	Inference domain.InferenceResult `json:"inference"`
	Timestamp time.Time              `json:"timestamp"`
}

// EncodeStrategyRecord serializes a record. Struct field order keeps the encoding stable.
func EncodeStrategyRecord(r *StrategyRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode strategy record: %w", err)
	}
	return data, nil
}

// DecodeStrategyRecord parses a stored record
func DecodeStrategyRecord(data []byte) (*StrategyRecord, error) {
	var r StrategyRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode strategy record: %w", err)
	}
	return &r, nil
}

// UploadStrategyRecord encodes and uploads a record
func (c *Client) UploadStrategyRecord(ctx context.Context, r *StrategyRecord) (*domain.StorageRecord, error) {
	data, err := EncodeStrategyRecord(r)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, domain.ReasonStorageUpload, err, "encode")
	}
	return c.Upload(ctx, data)
}

// FetchStrategyRecord downloads a record with proof verification
func (c *Client) FetchStrategyRecord(ctx context.Context, root string) (*StrategyRecord, error) {
	data, err := c.Download(ctx, root, true)
	if err != nil {
		return nil, err
	}
	r, err := DecodeStrategyRecord(data)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, domain.ReasonProofInvalid, err, "stored content is not a strategy record")
	}
	return r, nil
}
