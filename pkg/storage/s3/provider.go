// Package s3 provides a storage.Provider backed by AWS S3 or any S3-compatible
// service such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/storage"
)

// MaxDeleteBatch is the most keys a single DeleteObjects request accepts.
const MaxDeleteBatch = 1000

type Config struct {
	Bucket          string `yaml:"bucket"            validate:"required"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"          validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// API is the subset of the S3 client used by Provider.
type API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Presigner issues presigned GET requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Provider implements storage.Provider against an S3 bucket.
type Provider struct {
	bucket    string
	client    API
	presigner Presigner
	logger    *slog.Logger
}

// NewProvider loads AWS configuration for the given settings and builds a provider.
// Explicit credentials win over the default credential chain.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewProviderWithClient(cfg.Bucket, client, awss3.NewPresignClient(client), logger), nil
}

// NewProviderWithClient builds a provider around an existing client.
func NewProviderWithClient(bucket string, client API, presigner Presigner, logger *slog.Logger) *Provider {
	return &Provider{
		bucket:    bucket,
		client:    client,
		presigner: presigner,
		logger:    logger.With("module", "s3_storage", "bucket", bucket),
	}
}

func (p *Provider) Backend() models.StorageBackend {
	return models.StorageBackendS3
}

func (p *Provider) Upload(ctx context.Context, key string, data any, opts *storage.UploadOptions) (*storage.UploadResult, error) {
	body, contentType, err := storage.Encode(data)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	input := &awss3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(storage.UploadContentType(opts, contentType)),
	}

	if opts != nil && len(opts.CustomMetadata) > 0 {
		input.Metadata = opts.CustomMetadata
	}

	output, err := p.client.PutObject(ctx, input)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	return &storage.UploadResult{
		Key:  key,
		Size: int64(len(body)),
		ETag: aws.ToString(output.ETag),
	}, nil
}

func (p *Provider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	output, err := p.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, translateError(err))
	}

	defer func() {
		if closeErr := output.Body.Close(); closeErr != nil {
			p.logger.WarnContext(ctx, "failed to close object body", "key", key, "error", closeErr)
		}
	}()

	body, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, fmt.Errorf("failed to read object body: %w", err))
	}

	contentType := aws.ToString(output.ContentType)

	value, err := storage.Decode(body, contentType, opts != nil && opts.Raw)
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, err)
	}

	return &storage.DownloadResult{
		Data:        value,
		Size:        int64(len(body)),
		ContentType: contentType,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = translateError(err)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return storage.NewOpError("delete", p.Backend(), key, err)
	}

	return nil
}

// DeleteMany issues one DeleteObjects request per MaxDeleteBatch keys. A failed
// request marks its own keys as failed and the remaining batches still run.
func (p *Provider) DeleteMany(ctx context.Context, keys []string) []storage.DeleteResult {
	results := make([]storage.DeleteResult, 0, len(keys))

	for start := 0; start < len(keys); start += MaxDeleteBatch {
		end := min(start+MaxDeleteBatch, len(keys))
		results = append(results, p.deleteBatch(ctx, keys[start:end])...)
	}

	return results
}

func (p *Provider) deleteBatch(ctx context.Context, keys []string) []storage.DeleteResult {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	results := make([]storage.DeleteResult, 0, len(keys))

	output, err := p.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		p.logger.WarnContext(ctx, "batch delete failed", "keys", len(keys), "error", err)

		for _, key := range keys {
			results = append(results, storage.DeleteResult{
				Key: key,
				Err: storage.NewOpError("delete_many", p.Backend(), key, err),
			})
		}

		return results
	}

	failed := make(map[string]error, len(output.Errors))

	for _, e := range output.Errors {
		if aws.ToString(e.Code) == "NoSuchKey" {
			continue
		}

		failed[aws.ToString(e.Key)] = storage.NewOpError("delete_many", p.Backend(), aws.ToString(e.Key),
			fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)))
	}

	for _, key := range keys {
		results = append(results, storage.DeleteResult{Key: key, Err: failed[key]})
	}

	return results
}

func (p *Provider) Exists(ctx context.Context, key string) bool {
	_, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})

	return err == nil
}

func (p *Provider) GetMetadata(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	output, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storage.NewOpError("get_metadata", p.Backend(), key, translateError(err))
	}

	return &storage.ObjectMetadata{
		Key:            key,
		Size:           aws.ToInt64(output.ContentLength),
		ContentType:    aws.ToString(output.ContentType),
		ETag:           aws.ToString(output.ETag),
		LastModified:   aws.ToTime(output.LastModified),
		CustomMetadata: output.Metadata,
	}, nil
}

func (p *Provider) List(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > storage.DefaultMaxKeys {
		maxKeys = storage.DefaultMaxKeys
	}

	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(maxKeys)), // #nosec G115 -- bounded by DefaultMaxKeys
	}

	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}

	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, storage.NewOpError("list", p.Backend(), opts.Prefix, err)
	}

	result := &storage.ListResult{
		Objects:     make([]storage.ObjectInfo, 0, len(output.Contents)),
		IsTruncated: aws.ToBool(output.IsTruncated),
	}

	if result.IsTruncated {
		result.ContinuationToken = aws.ToString(output.NextContinuationToken)
	}

	for _, object := range output.Contents {
		result.Objects = append(result.Objects, storage.ObjectInfo{
			Key:          aws.ToString(object.Key),
			Size:         aws.ToInt64(object.Size),
			LastModified: aws.ToTime(object.LastModified),
			ETag:         aws.ToString(object.ETag),
		})
	}

	return result, nil
}

func (p *Provider) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	request, err := p.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expires))
	if err != nil {
		return "", storage.NewOpError("signed_url", p.Backend(), key, err)
	}

	return request.URL, nil
}

// HealthCheck lists at most one key; any error means unhealthy.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return storage.NewOpError("health_check", p.Backend(), "", err)
	}

	return nil
}

func translateError(err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)

	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}

	return err
}
