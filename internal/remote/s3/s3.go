// Package s3 implements the transport contract against an S3-compatible
// object store using aws-sdk-go-v2. The store is flat: directory operations
// are no-op successes, and large files go through the resumable chunked
// protocol on top of S3 multipart uploads.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tonimelisma/mirror-go/internal/chunker"
	"github.com/tonimelisma/mirror-go/internal/remote"
)

func init() {
	remote.Register(remote.KindS3, func(opts remote.Options) (remote.Transport, error) {
		if opts.Bucket == "" {
			return nil, fmt.Errorf("s3: bucket not configured")
		}

		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}

		threshold := opts.ChunkThreshold
		if threshold <= 0 {
			threshold = chunker.DefaultThreshold
		}

		return &Transport{
			bucket:         opts.Bucket,
			region:         opts.Region,
			endpoint:       opts.Endpoint,
			accessKey:      opts.AccessKey,
			secretKey:      opts.SecretKey,
			partSize:       opts.PartSize,
			chunkThreshold: threshold,
			checkpointDir:  opts.CheckpointDir,
			logger:         logger,
		}, nil
	})
}

// Transport mirrors into an S3 bucket. Remote paths map to object keys with
// the leading slash stripped.
type Transport struct {
	bucket         string
	region         string
	endpoint       string
	accessKey      string
	secretKey      string
	partSize       int64
	chunkThreshold int64
	checkpointDir  string
	logger         *slog.Logger

	client   *awss3.Client
	uploader *chunker.Uploader
}

// Connect builds the SDK client and verifies the bucket is reachable with the
// configured credentials. HeadBucket distinguishes a credential problem from
// a connectivity one up front instead of on the first transfer.
func (t *Transport) Connect(ctx context.Context) error {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: 5 * time.Minute,
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(t.region),
		awsconfig.WithHTTPClient(httpClient),
	}

	if t.accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(t.accessKey, t.secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return remote.NewOpError("connect", t.bucket, remote.ErrAuth, err)
	}

	t.client = awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if t.endpoint != "" {
			o.BaseEndpoint = aws.String(t.endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := t.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: &t.bucket}); err != nil {
		return remote.NewOpError("connect", t.bucket, classify(err), err)
	}

	store := chunker.NewStore(t.checkpointDir, t.logger)
	t.uploader = chunker.NewUploader(t, store, t.partSize, t.logger)

	t.logger.Debug("s3 session established",
		slog.String("bucket", t.bucket),
		slog.String("region", t.region),
	)

	return nil
}

// keyFor converts a slash-form remote path to an object key. S3 keys never
// start with a slash.
func keyFor(remotePath string) string {
	return strings.TrimPrefix(remotePath, "/")
}

func (t *Transport) UploadFile(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if info.Size() > t.chunkThreshold {
		if err := t.uploader.Upload(ctx, localPath, keyFor(remotePath)); err != nil {
			return remote.NewOpError("upload", remotePath, classify(err), err)
		}

		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}
	defer f.Close()

	return t.UploadBytes(ctx, f, info.Size(), remotePath)
}

func (t *Transport) UploadBytes(ctx context.Context, r io.Reader, size int64, remotePath string) error {
	key := keyFor(remotePath)

	_, err := t.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        &t.bucket,
		Key:           &key,
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return remote.NewOpError("upload", remotePath, classify(err), err)
	}

	return nil
}

// Delete removes an object. S3's DeleteObject succeeds for keys that do not
// exist, which already matches the contract.
func (t *Transport) Delete(ctx context.Context, remotePath string) error {
	key := keyFor(remotePath)

	_, err := t.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: &t.bucket,
		Key:    &key,
	})
	if err != nil {
		return remote.NewOpError("delete", remotePath, classify(err), err)
	}

	return nil
}

// Mkdir is a no-op: object stores have no directories.
func (t *Transport) Mkdir(_ context.Context, _ string, _ bool) error { return nil }

// Rmdir is a no-op: prefixes disappear with their last object.
func (t *Transport) Rmdir(_ context.Context, _ string, _ bool) error { return nil }

func (t *Transport) List(ctx context.Context, prefix string) []remote.Entry {
	p := keyFor(prefix)
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}

	input := &awss3.ListObjectsV2Input{Bucket: &t.bucket}
	if p != "" {
		input.Prefix = &p
	}

	var out []remote.Entry

	paginator := awss3.NewListObjectsV2Paginator(t.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			t.logger.Warn("listing objects failed",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()),
			)

			return nil
		}

		for _, obj := range page.Contents {
			out = append(out, remote.Entry{
				Name: strings.TrimPrefix(aws.ToString(obj.Key), p),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	return out
}

// Close is a no-op: the SDK client holds no persistent session.
func (t *Transport) Close() error { return nil }

// BeginMultipart starts an S3 multipart upload and returns its upload ID.
func (t *Transport) BeginMultipart(ctx context.Context, key string) (string, error) {
	result, err := t.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket: &t.bucket,
		Key:    &key,
	})
	if err != nil {
		return "", remote.NewOpError("multipart-begin", key, classify(err), err)
	}

	return aws.ToString(result.UploadId), nil
}

// UploadPart sends one part and returns the ETag S3 assigned to it.
func (t *Transport) UploadPart(
	ctx context.Context, key, uploadID string, index int, r io.Reader, size int64,
) (string, error) {
	resp, err := t.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        &t.bucket,
		Key:           &key,
		UploadId:      &uploadID,
		PartNumber:    aws.Int32(int32(index)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", remote.NewOpError("multipart-part", key, classify(err), err)
	}

	return strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""), nil
}

// CompleteMultipart submits the recorded parts for assembly.
func (t *Transport) CompleteMultipart(
	ctx context.Context, key, uploadID string, parts []remote.CompletedPart,
) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Index)),
		}
	}

	_, err := t.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:   &t.bucket,
		Key:      &key,
		UploadId: &uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return remote.NewOpError("multipart-complete", key, classify(err), err)
	}

	return nil
}

// classify maps an SDK error to the shared error taxonomy using the API error
// code, never the message text. Errors already carrying a sentinel (chunked
// uploads wrap adapter errors) keep their classification.
func classify(err error) error {
	for _, kind := range []error{
		remote.ErrAuth, remote.ErrNetwork, remote.ErrNotFound, remote.ErrAlreadyExists, remote.ErrTransfer,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "TokenRefreshRequired":
			return remote.ErrAuth
		case "NoSuchKey", "NoSuchBucket", "NoSuchUpload", "NotFound":
			return remote.ErrNotFound
		default:
			return remote.ErrTransfer
		}
	}

	return remote.ErrNetwork
}

var (
	_ remote.Transport        = (*Transport)(nil)
	_ remote.MultipartBackend = (*Transport)(nil)
)
