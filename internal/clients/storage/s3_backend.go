package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// S3API is the subset of the S3 client used by S3Backend
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectUploader uploads file content, possibly in parts
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config configures an S3-compatible bucket (AWS, R2, MinIO)
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Backend stores file content as objects keyed by root, with a msgpack
// sidecar object holding the file metadata.
type S3Backend struct {
	client   S3API
	uploader ObjectUploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Backend builds an S3 client from static credentials
func NewS3Backend(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Backend, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3BackendWithClient(client, manager.NewUploader(client), cfg.Bucket, cfg.Prefix, log), nil
}

// NewS3Client loads AWS configuration for cfg. A custom endpoint switches to
// path-style addressing for R2 and MinIO.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3BackendWithClient wires an existing client and uploader
func NewS3BackendWithClient(client S3API, uploader ObjectUploader, bucket, prefix string, log zerolog.Logger) *S3Backend {
	return &S3Backend{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		log:      log.With().Str("backend", "s3").Str("bucket", bucket).Logger(),
	}
}

func (b *S3Backend) dataKey(root string) string {
	return b.prefix + root
}

func (b *S3Backend) metaKey(root string) string {
	return b.prefix + root + ".meta"
}

// FileInfo reads the metadata sidecar of root
func (b *S3Backend) FileInfo(ctx context.Context, root string) (*FileInfo, error) {
	raw, err := b.getObject(ctx, b.metaKey(root))
	if err != nil {
		return nil, err
	}

	var info FileInfo
	if err := msgpack.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", root, err)
	}
	return &info, nil
}

// Put uploads content then its metadata. The metadata object is written last,
// so a file only becomes visible once its content is in place.
func (b *S3Backend) Put(ctx context.Context, sub Submission) (*FileInfo, error) {
	root := ComputeRoot(sub.Data)

	existing, err := b.FileInfo(ctx, root)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrFileNotFound) {
		return nil, err
	}

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.dataKey(root)),
		Body:        bytes.NewReader(sub.Data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"root-hash": root,
			"submitter": sub.Submitter,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", root, err)
	}

	info := &FileInfo{
		RootHash:    root,
		Size:        int64(len(sub.Data)),
		TxReference: submissionTxReference(root, sub.Submitter),
		Submitter:   sub.Submitter,
		Finalized:   true,
		UploadedAt:  time.Now().UTC(),
	}
	meta, err := msgpack.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.metaKey(root)),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/msgpack"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write metadata for %s: %w", root, err)
	}

	b.log.Debug().Str("root", root).Int("size", len(sub.Data)).Msg("Stored object")
	return info, nil
}

// Get returns the raw content of root
func (b *S3Backend) Get(ctx context.Context, root string) ([]byte, error) {
	return b.getObject(ctx, b.dataKey(root))
}

// Segments returns the content of root with inclusion proofs
func (b *S3Backend) Segments(ctx context.Context, root string) ([]Segment, error) {
	data, err := b.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	return BuildTree(data).Segments()
}

func (b *S3Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
