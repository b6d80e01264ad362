// Package uploader stores test artifacts in S3 compatible storage and returns
// the URLs that are reported with the test.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/pipe"
)

// ErrNotConfigured is returned when no storage credentials are available.
var ErrNotConfigured = errors.New("artifact storage not configured")

// Uploader stores one artifact and returns its URL.
type Uploader interface {
	// Enabled reports whether uploads can currently succeed.
	Enabled() bool
	UploadFile(ctx context.Context, rid, filePath string) (string, error)
	UploadBuffer(ctx context.Context, rid, name string, data []byte) (string, error)
}

// S3Client is the part of the S3 client used by S3Uploader. These functions
// are implemented by the AWS SDK, the interface lets tests mock the client.
type S3Client interface {
	// https://pkg.go.dev/github.com/aws/aws-sdk-go-v2/service/s3#Client.PutObject
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientFactory builds an S3Client for a set of credentials.
type ClientFactory func(ctx context.Context, creds pipe.S3Credentials) (S3Client, error)

// S3Uploader uploads through the credentials the reporting service handed out
// for the run, falling back to the operator configured bucket.
type S3Uploader struct {
	logger    zerolog.Logger
	store     *pipe.Store
	fallback  config.S3Config
	disabled  bool
	newClient ClientFactory

	mu      sync.Mutex
	client  S3Client
	current pipe.S3Credentials
}

var _ Uploader = (*S3Uploader)(nil)

func NewS3Uploader(logger zerolog.Logger, cfg *config.Config, store *pipe.Store) *S3Uploader {
	return NewS3UploaderWithClient(logger, cfg, store, NewS3Client)
}

func NewS3UploaderWithClient(logger zerolog.Logger, cfg *config.Config, store *pipe.Store, factory ClientFactory) *S3Uploader {
	if cfg == nil {
		cfg = config.Default()
	}
	if store == nil {
		store = pipe.NewStore()
	}
	return &S3Uploader{
		logger:    logger.With().Str("component", "uploader").Logger(),
		store:     store,
		fallback:  cfg.S3,
		disabled:  cfg.DisableArtifacts,
		newClient: factory,
	}
}

// NewS3Client builds an SDK client. Without static keys the default AWS
// credential chain is used.
func NewS3Client(ctx context.Context, creds pipe.S3Credentials) (S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if creds.Region != "" {
		opts = append(opts, awsconfig.WithRegion(creds.Region))
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
		}
		o.UsePathStyle = creds.ForcePathStyle
	}), nil
}

func (u *S3Uploader) credentials() (pipe.S3Credentials, bool) {
	if creds := u.store.S3Credentials(); creds != nil {
		return *creds, true
	}
	if u.fallback.Bucket == "" {
		return pipe.S3Credentials{}, false
	}
	return pipe.S3Credentials{
		Bucket:          u.fallback.Bucket,
		Region:          u.fallback.Region,
		Endpoint:        u.fallback.Endpoint,
		AccessKeyID:     u.fallback.AccessKeyID,
		SecretAccessKey: u.fallback.SecretAccessKey,
		SessionToken:    u.fallback.SessionToken,
		ForcePathStyle:  u.fallback.ForcePathStyle,
	}, true
}

func (u *S3Uploader) Enabled() bool {
	if u.disabled {
		return false
	}
	_, ok := u.credentials()
	return ok
}

func (u *S3Uploader) UploadFile(ctx context.Context, rid, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	return u.upload(ctx, rid, filepath.Base(filePath), f, info.Size())
}

func (u *S3Uploader) UploadBuffer(ctx context.Context, rid, name string, data []byte) (string, error) {
	if name == "" {
		name = "artifact"
	}
	return u.upload(ctx, rid, path.Base(name), bytes.NewReader(data), int64(len(data)))
}

func (u *S3Uploader) upload(ctx context.Context, rid, name string, body io.Reader, size int64) (string, error) {
	if u.disabled {
		return "", ErrNotConfigured
	}
	creds, ok := u.credentials()
	if !ok {
		return "", ErrNotConfigured
	}
	client, err := u.clientFor(ctx, creds)
	if err != nil {
		return "", err
	}

	key := u.objectKey(rid, name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(creds.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if !creds.Private {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	u.logger.Debug().Str("bucket", creds.Bucket).Str("key", key).Msg("Artifact uploaded")
	return objectURL(creds, key), nil
}

func (u *S3Uploader) clientFor(ctx context.Context, creds pipe.S3Credentials) (S3Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client != nil && u.current == creds {
		return u.client, nil
	}
	client, err := u.newClient(ctx, creds)
	if err != nil {
		return nil, err
	}
	u.client = client
	u.current = creds
	return client, nil
}

// objectKey places artifacts under the run id, with a uuid prefix to keep
// equally named files of different tests apart.
func (u *S3Uploader) objectKey(rid, name string) string {
	parts := []string{}
	if runID := u.store.RunID(); runID != "" {
		parts = append(parts, runID)
	}
	if rid != "" {
		parts = append(parts, rid)
	}
	parts = append(parts, uuid.NewString()+"-"+name)
	return strings.Join(parts, "/")
}

func objectURL(creds pipe.S3Credentials, key string) string {
	if creds.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(creds.Endpoint, "/"), creds.Bucket, key)
	}
	if creds.Region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", creds.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", creds.Bucket, creds.Region, key)
}
