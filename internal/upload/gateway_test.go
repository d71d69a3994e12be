package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
	"orgchart/api/internal/store"
)

type fakeBlobs struct {
	objects     map[string][]byte
	types       map[string]string
	putErr      error
	signedCalls int
	removed     []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobs) Put(_ context.Context, name string, r io.Reader, _ int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[name] = data
	f.types[name] = contentType
	return nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, name string) (string, error) {
	f.signedCalls++
	return "https://signed.example/" + name + "?X-Amz-Expires=900", nil
}

func (f *fakeBlobs) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	delete(f.objects, name)
	return nil
}

func (f *fakeBlobs) PublicURL(name string) string {
	return "https://cdn.example/bucket/" + name
}

// countingPartitions records writes so tests can assert none happened.
type countingPartitions struct {
	*store.MemoryStore
	writes int
}

func (c *countingPartitions) CompareAndPut(ctx context.Context, tenantID, key string, body []byte, expected int64) (store.Document, error) {
	c.writes++
	return c.MemoryStore.CompareAndPut(ctx, tenantID, key, body, expected)
}

func setup(t *testing.T) (*Gateway, *fakeBlobs, *countingPartitions, *orgstore.Adapter) {
	t.Helper()
	parts := &countingPartitions{MemoryStore: store.NewMemoryStore()}
	docs := orgstore.New(parts, orgstore.Options{})
	var snap orgchart.Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"departments":[{"id":"1","employees":[{"id":"e1"}]}],"adminData":{"name":"Boss"}}`), &snap))
	_, err := docs.Save(context.Background(), "t1", snap)
	require.NoError(t, err)
	parts.writes = 0

	blobs := newFakeBlobs()
	return NewGateway(blobs, docs, Options{}), blobs, parts, docs
}

func pdfFile(name string) File {
	content := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")
	return File{Name: name, Size: int64(len(content)), Reader: bytes.NewReader(content)}
}

func TestUploadStoresAndAppends(t *testing.T) {
	g, blobs, _, docs := setup(t)

	res, err := g.Upload(context.Background(), "t1", "e1", "cv", []File{pdfFile("cv.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1/cv/cv.pdf"}, res.Paths)
	assert.Equal(t, []string{"https://cdn.example/bucket/e1/cv/cv.pdf"}, res.URLs)
	assert.Equal(t, "application/pdf", blobs.types["e1/cv/cv.pdf"])
	assert.True(t, bytes.HasPrefix(blobs.objects["e1/cv/cv.pdf"], []byte("%PDF")))

	snap, _, err := docs.Load(context.Background(), "t1")
	require.NoError(t, err)
	cv := snap.Departments[0].Employees[0].Documents.CV
	require.Len(t, cv, 1)
	assert.Equal(t, "e1/cv/cv.pdf", cv[0].CanonicalPath())
	assert.False(t, cv[0].Inline)
}

func TestUploadToAdmin(t *testing.T) {
	g, _, _, _ := setup(t)
	res, err := g.Upload(context.Background(), "t1", orgchart.AdminID, "ci", []File{{Name: "id.txt", Size: 2, Reader: strings.NewReader("hi")}})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot.AdminData)
	assert.Len(t, res.Snapshot.AdminData.Documents.CI, 1)
}

func TestUploadRejectsInvalidSectionBeforeAnyWrite(t *testing.T) {
	g, blobs, parts, _ := setup(t)

	_, err := g.Upload(context.Background(), "t1", "e1", "resume", []File{pdfFile("cv.pdf")})
	assert.ErrorIs(t, err, orgchart.ErrInvalidSection)
	assert.Empty(t, blobs.objects)
	assert.Zero(t, parts.writes)
}

func TestUploadRejectsOversizedFileBeforeAnyWrite(t *testing.T) {
	g, blobs, parts, _ := setup(t)

	big := File{Name: "big.pdf", Size: DefaultMaxFileBytes + 1, Reader: strings.NewReader("x")}
	_, err := g.Upload(context.Background(), "t1", "e1", "cv", []File{pdfFile("ok.pdf"), big})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, blobs.objects)
	assert.Zero(t, parts.writes)
}

func TestUploadUnknownOwnerOrChart(t *testing.T) {
	g, blobs, _, _ := setup(t)

	_, err := g.Upload(context.Background(), "t1", "ghost", "cv", []File{pdfFile("cv.pdf")})
	assert.ErrorIs(t, err, orgchart.ErrOwnerNotFound)

	_, err = g.Upload(context.Background(), "other-tenant", "e1", "cv", []File{pdfFile("cv.pdf")})
	assert.ErrorIs(t, err, orgstore.ErrSnapshotNotFound)
	assert.Empty(t, blobs.objects)
}

func TestUploadStripsDirectories(t *testing.T) {
	g, blobs, _, _ := setup(t)
	_, err := g.Upload(context.Background(), "t1", "e1", "contract", []File{pdfFile("../../etc/contract.pdf")})
	require.NoError(t, err)
	_, ok := blobs.objects["e1/contract/contract.pdf"]
	assert.True(t, ok)

	_, err = g.Upload(context.Background(), "t1", "e1", "contract", []File{pdfFile("..")})
	assert.ErrorIs(t, err, ErrInvalidFileName)
}

func TestUploadRequiresFiles(t *testing.T) {
	g, _, _, _ := setup(t)
	_, err := g.Upload(context.Background(), "t1", "e1", "cv", nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestUploadBlobFailureLeavesChart(t *testing.T) {
	g, blobs, parts, _ := setup(t)
	blobs.putErr = errors.New("bucket unavailable")

	_, err := g.Upload(context.Background(), "t1", "e1", "cv", []File{pdfFile("cv.pdf")})
	assert.Error(t, err)
	assert.Zero(t, parts.writes)
}

func TestSignedURLRequiresName(t *testing.T) {
	g, blobs, _, _ := setup(t)

	_, err := g.SignedURL(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrFileNameRequired)
	assert.Zero(t, blobs.signedCalls)

	url, err := g.SignedURL(context.Background(), "e1/cv/cv.pdf")
	require.NoError(t, err)
	assert.Contains(t, url, "e1/cv/cv.pdf")
	assert.Equal(t, 1, blobs.signedCalls)
}

func TestDeleteRemovesReferenceAndObject(t *testing.T) {
	g, blobs, _, _ := setup(t)
	_, err := g.Upload(context.Background(), "t1", "e1", "cv", []File{pdfFile("cv.pdf")})
	require.NoError(t, err)

	snap, err := g.Delete(context.Background(), "t1", "e1", "cv", "e1/cv/cv.pdf")
	require.NoError(t, err)
	assert.Empty(t, snap.Departments[0].Employees[0].Documents.CV)
	assert.Equal(t, []string{"e1/cv/cv.pdf"}, blobs.removed)

	_, err = g.Delete(context.Background(), "t1", "e1", "cv", "e1/cv/cv.pdf")
	assert.ErrorIs(t, err, orgchart.ErrDocumentNotFound)
}
