package blob

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{
		Endpoint:      "localhost:9000",
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		Bucket:        "docs",
		Region:        "us-east-1",
		PublicBaseURL: "http://cdn.local/",
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestPublicURL(t *testing.T) {
	s := newOfflineStore(t)
	assert.Equal(t, "http://cdn.local/docs/e1/cv/my%20cv.pdf", s.PublicURL("e1/cv/my cv.pdf"))
}

func TestSignedURLExpiresAfterFifteenMinutes(t *testing.T) {
	s := newOfflineStore(t)

	raw, err := s.SignedURL(context.Background(), "e1/cv/cv.pdf")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/docs/e1/cv/cv.pdf", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestEmptyNamesAreRejected(t *testing.T) {
	s := newOfflineStore(t)
	ctx := context.Background()

	_, err := s.SignedURL(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.ErrorIs(t, s.Remove(ctx, ""), ErrEmptyName)
	assert.ErrorIs(t, s.Put(ctx, "", strings.NewReader("x"), 1, "text/plain"), ErrEmptyName)
}

func TestStoreIntegration(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("ORGCHART_TEST_BLOB_ENDPOINT"))
	if endpoint == "" {
		t.Skip("ORGCHART_TEST_BLOB_ENDPOINT is not set")
	}
	s, err := New(Options{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("ORGCHART_TEST_BLOB_ACCESS_KEY"),
		SecretKey: os.Getenv("ORGCHART_TEST_BLOB_SECRET_KEY"),
		Bucket:    "orgchart-it",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.EnsureBucket(ctx))
	require.NoError(t, s.Put(ctx, "e1/ci/id.txt", strings.NewReader("hello"), 5, "text/plain"))
	signed, err := s.SignedURL(ctx, "e1/ci/id.txt")
	require.NoError(t, err)
	assert.Contains(t, signed, "id.txt")
	require.NoError(t, s.Remove(ctx, "e1/ci/id.txt"))
}

func TestUnreachableServerReportsUpstream(t *testing.T) {
	s, err := New(Options{Endpoint: "127.0.0.1:1", Bucket: "docs", Region: "us-east-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = s.Put(ctx, "e1/cv/cv.pdf", strings.NewReader("x"), 1, "application/pdf")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, s.Ping(ctx), ErrUpstream)
}
