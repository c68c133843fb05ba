package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/jpillora/backoff"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// minPartSize is the smallest part S3 accepts for anything but the last part.
const minPartSize = 5 << 20

const copyAttempts = 3

// S3Options configures an S3Store.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for MinIO and other S3-compatible services
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Store implements drive.BlobStore on Amazon S3 or an S3-compatible service.
// Compose uses server-side UploadPartCopy when every part but the last meets
// the 5 MiB minimum and streams through the upload manager otherwise.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store loads AWS configuration and builds a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	if opts.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle || opts.Endpoint != ""
	})

	return NewS3StoreFromClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   normalizePrefix(prefix),
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key
}

// isNotFound reports whether err is S3's answer for a missing object.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
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

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, mediaType string) error {
	counter := &countingReader{r: r}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   counter,
	}
	if mediaType != "" {
		input.ContentType = aws.String(mediaType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if counter.n != size {
		_ = s.Delete(ctx, key)
		return fmt.Errorf("size mismatch for %s: expected %d bytes, got %d", key, size, counter.n)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Delete removes key. S3 reports success for absent keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, drive.ErrBlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
		}
	}
	return keys, nil
}

func (s *S3Store) Compose(ctx context.Context, keys []string, target string, mediaType string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("compose %s: no source keys", target)
	}

	sizes := make([]int64, len(keys))
	for i, k := range keys {
		n, err := s.Stat(ctx, k)
		if err != nil {
			return 0, fmt.Errorf("compose %s: source %s: %w", target, k, err)
		}
		sizes[i] = n
	}

	var total int64
	serverSide := len(keys) > 1
	for i, n := range sizes {
		total += n
		if i < len(sizes)-1 && n < minPartSize {
			serverSide = false
		}
	}

	if serverSide {
		if err := s.copyParts(ctx, keys, target, mediaType); err != nil {
			return 0, err
		}
		return total, nil
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(target)),
		Body:   &concatReader{ctx: ctx, store: s, keys: keys},
	}
	if mediaType != "" {
		input.ContentType = aws.String(mediaType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return 0, fmt.Errorf("compose %s: %w", target, err)
	}
	return total, nil
}

// copyParts assembles target from keys with a multipart upload whose parts
// are server-side copies. The upload is aborted on any failure.
func (s *S3Store) copyParts(ctx context.Context, keys []string, target, mediaType string) error {
	create := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(target)),
	}
	if mediaType != "" {
		create.ContentType = aws.String(mediaType)
	}
	started, err := s.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return fmt.Errorf("creating multipart upload for %s: %w", target, err)
	}
	uploadID := started.UploadId

	abort := func() {
		_, _ = s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.objectKey(target)),
			UploadId: uploadID,
		})
	}

	parts := make([]types.CompletedPart, 0, len(keys))
	for i, k := range keys {
		partNumber := int32(i + 1)
		etag, err := s.copyPart(ctx, k, target, uploadID, partNumber)
		if err != nil {
			abort()
			return err
		}
		parts = append(parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(partNumber)})
	}

	sort.Slice(parts, func(i, j int) bool {
		return *parts[i].PartNumber < *parts[j].PartNumber
	})

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.objectKey(target)),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		abort()
		return fmt.Errorf("completing multipart upload for %s: %w", target, err)
	}
	return nil
}

// copyPart retries transient UploadPartCopy failures with backoff.
func (s *S3Store) copyPart(ctx context.Context, key, target string, uploadID *string, partNumber int32) (*string, error) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < copyAttempts; attempt++ {
		out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.objectKey(target)),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			CopySource: aws.String(s.bucket + "/" + escapeKey(s.objectKey(key))),
		})
		if err == nil {
			if out.CopyPartResult == nil {
				return nil, fmt.Errorf("copying part %d from %s: empty copy result", partNumber, key)
			}
			return out.CopyPartResult.ETag, nil
		}
		lastErr = err
		if isNotFound(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	if isNotFound(lastErr) {
		return nil, fmt.Errorf("copying part %d from %s: %w", partNumber, key, drive.ErrBlobNotFound)
	}
	return nil, fmt.Errorf("copying part %d from %s: %w", partNumber, key, lastErr)
}

func (s *S3Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return req.URL, nil
}

// ValidateSetup verifies the bucket is reachable.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("accessing bucket %q: %w", s.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// concatReader streams keys back to back, opening each object only when the
// previous one is exhausted.
type concatReader struct {
	ctx     context.Context
	store   *S3Store
	keys    []string
	current io.ReadCloser
}

func (c *concatReader) Read(p []byte) (int, error) {
	for {
		if c.current == nil {
			if len(c.keys) == 0 {
				return 0, io.EOF
			}
			body, err := c.store.Get(c.ctx, c.keys[0])
			if err != nil {
				return 0, err
			}
			c.current = body
			c.keys = c.keys[1:]
		}
		n, err := c.current.Read(p)
		if err == io.EOF {
			c.current.Close()
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

var _ drive.BlobStore = (*S3Store)(nil)
