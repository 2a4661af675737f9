package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Config holds the configuration for S3 storage.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional: for custom S3-compatible endpoints
	AccessKeyID     string // optional: static credentials
	SecretAccessKey string
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Store creates a new S3Store from cfg.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// keyFromURL extracts the object key this package's own Upload produced
// from the opaque URL it returned, so Exists/Download/Delete can round-trip.
func keyFromURL(url, bucket string) string {
	prefix := fmt.Sprintf("https://%s.s3.", bucket)
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		if idx := indexByte(url, '/'); idx >= 0 {
			if rest := url[idx+1:]; rest != "" {
				return rest
			}
		}
	}
	return url
}

func indexByte(s string, b byte) int {
	// Skip past "https://bucket.s3.region.amazonaws.com" to the first '/'
	// after the host, i.e. the 3rd occurrence counting from the start.
	slashes := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			slashes++
			if slashes == 3 {
				return i
			}
		}
	}
	return -1
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, url string) (bool, error) {
	key := keyFromURL(url, s.bucket)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	// The v2 SDK's NotFound error types vary across service generations
	// (NotFound, NoSuchKey, a bare 404 from some S3-compatible backends);
	// a substring check keeps this adapter-agnostic instead of chasing
	// every concrete error type.
	if isNotFoundErr(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object: %w", err)
}

// Download implements Store.
func (s *S3Store) Download(ctx context.Context, url string) ([]byte, error) {
	key := keyFromURL(url, s.bucket)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return buf.Bytes(), nil
}

// Upload implements Store.
func (s *S3Store) Upload(ctx context.Context, path, contentType string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is produced by TempArena, not user input
	if err != nil {
		return "", fmt.Errorf("read file for upload: %w", err)
	}

	key := fmt.Sprintf("%s/%s%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString(), filepath.Ext(path))

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, url string) (bool, error) {
	existed, err := s.Exists(ctx, url)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	key := keyFromURL(url, s.bucket)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return true, nil
}

func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsFold(msg, "NotFound") || containsFold(msg, "NoSuchKey") || containsFold(msg, "404")
}

func containsFold(s, sub string) bool {
	ls, lsub := toLower(s), toLower(sub)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
