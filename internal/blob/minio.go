// Package blob stores uploaded documents in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"orgchart/api/internal/metrics"
)

// DefaultSignedURLTTL is how long a signed read link stays valid.
const DefaultSignedURLTTL = 15 * time.Minute

var (
	ErrEmptyName = errors.New("object name is required")
	// ErrUpstream wraps every failure reported by the storage server.
	ErrUpstream = errors.New("blob storage failed")
)

type Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	SignedURLTTL  time.Duration
}

type Store struct {
	client        *minio.Client
	bucket        string
	region        string
	publicBaseURL string
	signedURLTTL  time.Duration
}

// New builds the client. It does not contact the server.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("blob bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	ttl := opts.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Store{
		client:        client,
		bucket:        opts.Bucket,
		region:        opts.Region,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		signedURLTTL:  ttl,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %v", ErrUpstream, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %v", ErrUpstream, s.bucket, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if name == "" {
		return ErrEmptyName
	}
	_, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{ContentType: contentType})
	metrics.Upstream.WithLabelValues("blob", "put", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: put object %s: %v", ErrUpstream, name, err)
	}
	return nil
}

// SignedURL returns a time-limited read link for name.
func (s *Store) SignedURL(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, s.signedURLTTL, url.Values{})
	metrics.Upstream.WithLabelValues("blob", "sign", metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("%w: sign object %s: %v", ErrUpstream, name, err)
	}
	return u.String(), nil
}

func (s *Store) Remove(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	metrics.Upstream.WithLabelValues("blob", "remove", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: remove object %s: %v", ErrUpstream, name, err)
	}
	return nil
}

// PublicURL is the unsigned address of name, only readable when the bucket
// allows anonymous reads.
func (s *Store) PublicURL(name string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(name, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return s.publicBaseURL + "/" + s.bucket + "/" + strings.Join(escaped, "/")
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}
