package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	arenatest "github.com/aristath/arena/internal/testing"
	"github.com/aristath/arena/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupNodeRepo(t *testing.T) *NodeRepository {
	t.Helper()
	return NewNodeRepository(arenatest.NewTestDB(t, database.NameStorage), zerolog.Nop())
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	signer := wallet.NewDevSigner("storage-test", 16602)
	return NewClient(backend, signer, wallet.NewGuard(), zerolog.Nop())
}

// tamperingBackend corrupts what it serves
type tamperingBackend struct {
	*NodeRepository
	reportRoot string
}

func (b *tamperingBackend) Segments(ctx context.Context, root string) ([]Segment, error) {
	segments, err := b.NodeRepository.Segments(ctx, root)
	if err != nil {
		return nil, err
	}
	segments[0].Data = bytes.Repeat([]byte("?"), len(segments[0].Data))
	return segments, nil
}

func (b *tamperingBackend) Put(ctx context.Context, sub Submission) (*FileInfo, error) {
	info, err := b.NodeRepository.Put(ctx, sub)
	if err != nil || b.reportRoot == "" {
		return info, err
	}
	info.RootHash = b.reportRoot
	return info, nil
}

// duplicatingBackend serves an extra copy of the last segment
type duplicatingBackend struct {
	*NodeRepository
}

func (b *duplicatingBackend) Segments(ctx context.Context, root string) ([]Segment, error) {
	segments, err := b.NodeRepository.Segments(ctx, root)
	if err != nil {
		return nil, err
	}
	last := segments[len(segments)-1]
	last.Index = len(segments)
	last.Proof.Index = len(segments)
	last.Proof.Leaves = len(segments) + 1
	return append(segments, last), nil
}

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) FileInfo(ctx context.Context, root string) (*FileInfo, error) {
	args := m.Called(ctx, root)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FileInfo), args.Error(1)
}

func (m *MockBackend) Put(ctx context.Context, sub Submission) (*FileInfo, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FileInfo), args.Error(1)
}

func (m *MockBackend) Get(ctx context.Context, root string) ([]byte, error) {
	args := m.Called(ctx, root)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Segments(ctx context.Context, root string) ([]Segment, error) {
	args := m.Called(ctx, root)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Segment), args.Error(1)
}

func TestClient_UploadDownloadRoundTrip(t *testing.T) {
	client := newTestClient(t, setupNodeRepo(t))
	ctx := context.Background()
	data := bytes.Repeat([]byte("momentum strategy "), 60)

	record, err := client.Upload(ctx, data)
	require.NoError(t, err)
	assert.True(t, ValidRootHash(record.RootHash))
	assert.NotEmpty(t, record.TxReference)
	assert.False(t, record.Reused)

	withProof, err := client.Download(ctx, record.RootHash, true)
	require.NoError(t, err)
	assert.Equal(t, data, withProof)

	raw, err := client.Download(ctx, record.RootHash, false)
	require.NoError(t, err)
	assert.Equal(t, data, raw)

	exists, err := client.Exists(ctx, record.RootHash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClient_UploadIsIdempotent(t *testing.T) {
	repo := setupNodeRepo(t)
	client := newTestClient(t, repo)
	ctx := context.Background()
	data := []byte(`{"strategy":"buy the dip"}`)

	first, err := client.Upload(ctx, data)
	require.NoError(t, err)
	second, err := client.Upload(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, first.RootHash, second.RootHash)
	assert.Equal(t, first.TxReference, second.TxReference)
	assert.True(t, second.Reused)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_DownloadNotFound(t *testing.T) {
	client := newTestClient(t, setupNodeRepo(t))

	_, err := client.Download(context.Background(), ComputeRoot([]byte("never stored")), true)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorage))
	assert.True(t, domain.IsNotFound(err))

	exists, err := client.Exists(context.Background(), ComputeRoot([]byte("never stored")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_DownloadRejectsTamperedSegments(t *testing.T) {
	backend := &tamperingBackend{NodeRepository: setupNodeRepo(t)}
	client := newTestClient(t, backend)
	ctx := context.Background()

	record, err := client.Upload(ctx, bytes.Repeat([]byte("payload"), 100))
	require.NoError(t, err)

	_, err = client.Download(ctx, record.RootHash, true)
	require.Error(t, err)
	assert.Equal(t, domain.ReasonProofInvalid, domain.ReasonOf(err))
}

func TestClient_UploadRejectsRemoteRootMismatch(t *testing.T) {
	backend := &tamperingBackend{NodeRepository: setupNodeRepo(t), reportRoot: ComputeRoot([]byte("other"))}
	client := newTestClient(t, backend)

	_, err := client.Upload(context.Background(), []byte("content"))
	require.Error(t, err)
	assert.Equal(t, domain.ReasonRootMismatch, domain.ReasonOf(err))
}

func TestClient_DownloadInvalidRoot(t *testing.T) {
	client := newTestClient(t, setupNodeRepo(t))

	_, err := client.Download(context.Background(), "0xnothex", true)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestClient_UploadBackendFailure(t *testing.T) {
	backend := new(MockBackend)
	data := []byte("data")
	root := ComputeRoot(data)
	backend.On("FileInfo", mock.Anything, root).Return(nil, ErrFileNotFound)
	backend.On("Put", mock.Anything, mock.AnythingOfType("storage.Submission")).Return(nil, errors.New("indexer unavailable"))

	client := newTestClient(t, backend)
	_, err := client.Upload(context.Background(), data)

	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorage))
	assert.Equal(t, domain.ReasonStorageUpload, domain.ReasonOf(err))
	backend.AssertExpectations(t)
}

func TestClient_UploadTimeout(t *testing.T) {
	backend := new(MockBackend)
	data := []byte("slow")
	root := ComputeRoot(data)
	backend.On("FileInfo", mock.Anything, root).Return(nil, ErrFileNotFound)
	backend.On("Put", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	client := newTestClient(t, backend)
	_, err := client.Upload(context.Background(), data)

	assert.True(t, domain.IsTimeout(err))
}

func TestStrategyRecord_RoundTrip(t *testing.T) {
	client := newTestClient(t, setupNodeRepo(t))
	ctx := context.Background()

	record := &StrategyRecord{
		AgentID:  7,
		User:     "0xabc",
		Provider: "0xprovider",
		Prompt:   "Generate a momentum strategy",
		Config: domain.StrategyConfig{
			Amount:             decimal.NewFromInt(500),
			RiskLevel:          domain.RiskHigh,
			StrategyType:       domain.StrategyMomentum,
			StopLossPercent:    10,
			TakeProfitPercent:  30,
			MaxSlippagePercent: 1,
		},
		Inference: domain.InferenceResult{
			StrategyText:      "Buy breakouts above the 20 EMA",
			ConfidenceScore:   0.8,
			VerificationToken: "chat-1",
			Verified:          true,
		},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	stored, err := client.UploadStrategyRecord(ctx, record)
	require.NoError(t, err)

	fetched, err := client.FetchStrategyRecord(ctx, stored.RootHash)
	require.NoError(t, err)
	assert.Equal(t, record.AgentID, fetched.AgentID)
	assert.Equal(t, record.Inference, fetched.Inference)
	assert.True(t, record.Config.Amount.Equal(fetched.Config.Amount))
	assert.True(t, record.Timestamp.Equal(fetched.Timestamp))
}

func TestClient_DuplicatedLastChunkIsDistinctContent(t *testing.T) {
	client := newTestClient(t, setupNodeRepo(t))
	ctx := context.Background()

	x := distinctChunks(3)
	y := append(append([]byte{}, x...), x[2*ChunkSize:]...)

	recX, err := client.Upload(ctx, x)
	require.NoError(t, err)

	recY, err := client.Upload(ctx, y)
	require.NoError(t, err)
	assert.False(t, recY.Reused)
	assert.NotEqual(t, recX.RootHash, recY.RootHash)
	assert.Equal(t, int64(len(y)), recY.Size)

	got, err := client.Download(ctx, recY.RootHash, true)
	require.NoError(t, err)
	assert.Equal(t, y, got)
}

func TestClient_DownloadRejectsAppendedSegment(t *testing.T) {
	backend := &duplicatingBackend{NodeRepository: setupNodeRepo(t)}
	client := newTestClient(t, backend)
	ctx := context.Background()

	record, err := client.Upload(ctx, distinctChunks(3))
	require.NoError(t, err)

	_, err = client.Download(ctx, record.RootHash, true)
	require.Error(t, err)
	assert.Equal(t, domain.ReasonProofInvalid, domain.ReasonOf(err))
}
