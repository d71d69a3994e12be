package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"orgchart/api/internal/advisor"
	"orgchart/api/internal/export"
	"orgchart/api/internal/history"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/search"
	"orgchart/api/internal/store"
	"orgchart/api/internal/tenant"
	"orgchart/api/internal/upload"
)

type fakeBlobs struct {
	mu          sync.Mutex
	objects     map[string][]byte
	signedCalls int
	putErr      error
	signErr     error
}

func (f *fakeBlobs) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	return nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedCalls++
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/" + name + "?X-Amz-Expires=900", nil
}

func (f *fakeBlobs) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func (f *fakeBlobs) PublicURL(name string) string {
	return "https://cdn.example/orgchart-documents/" + name
}

type fakeCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []advisor.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req advisor.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

type fakeLookup struct{}

func (fakeLookup) Lookup(_ context.Context, cui string) (json.RawMessage, error) {
	return json.RawMessage(`{"cui":"` + cui + `","denumire":"Acme SRL"}`), nil
}

// failingPing reports the database as unreachable.
type failingPing struct {
	*orgstore.Adapter
}

func (failingPing) Ping(context.Context) error {
	return errors.New("connection refused")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	charts    *orgstore.Adapter
	blobs     *fakeBlobs
	completer *fakeCompleter
	history   *history.Service
	deps      Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	charts := orgstore.New(store.NewMemoryStore(), orgstore.Options{})
	blobs := &fakeBlobs{objects: map[string][]byte{}}
	completer := &fakeCompleter{}
	hist := history.New(t.TempDir(), nil)

	env := &testEnv{charts: charts, blobs: blobs, completer: completer, history: hist}
	env.deps = Deps{
		Charts:   charts,
		Tenants:  tenant.NewService(charts, fakeLookup{}, nil),
		Uploads:  upload.NewGateway(blobs, charts, upload.Options{}),
		Advisor:  advisor.NewService(completer, advisor.Options{}),
		Search:   search.NewService(nil, charts, nil),
		History:  hist,
		Exporter: export.NewService(charts, nil),
	}
	return env
}

func (e *testEnv) server(opts ServerOptions) http.Handler {
	return NewHTTPServer(NewService(e.deps), opts).Handler()
}

func (e *testEnv) seed(t *testing.T, tenantID, raw string) {
	t.Helper()
	var snap orgchart.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("decode seed chart: %v", err)
	}
	if _, err := e.charts.Save(context.Background(), tenantID, snap); err != nil {
		t.Fatalf("seed chart: %v", err)
	}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func multipartRequest(t *testing.T, target, section string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if section != "" {
		if err := mw.WriteField("section", section); err != nil {
			t.Fatalf("write section: %v", err)
		}
	}
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
