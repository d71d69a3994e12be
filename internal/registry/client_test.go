package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgchart/api/internal/cache"
)

func TestLookupReturnsRegistryPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RO123", r.URL.Query().Get("cui"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"denumire":"ACME SRL","cod_CAEN":"6201"}`))
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL})
	data, err := c.Lookup(context.Background(), "RO123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"denumire":"ACME SRL","cod_CAEN":"6201"}`, string(data))
}

func TestLookupFailsOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(Options{URL: srv.URL}).Lookup(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestLookupTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Options{URL: srv.URL, Timeout: 50 * time.Millisecond}).Lookup(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestLookupRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := New(Options{URL: srv.URL}).Lookup(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestLookupUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"denumire":"ACME"}`))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	defer rc.Close()

	c := New(Options{URL: srv.URL, Cache: rc, CacheTTL: time.Hour})
	for i := 0; i < 3; i++ {
		data, err := c.Lookup(context.Background(), "42")
		require.NoError(t, err)
		assert.JSONEq(t, `{"denumire":"ACME"}`, string(data))
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("orgchart:registry:42"))
}

func TestUnavailableMarker(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	var marker map[string]string
	require.NoError(t, json.Unmarshal(Unavailable("42", at), &marker))
	assert.Equal(t, "42", marker["cui"])
	assert.Equal(t, FetchErrorMessage, marker["fetchError"])
	assert.Equal(t, "2026-02-03T04:05:06Z", marker["timestamp"])
}
