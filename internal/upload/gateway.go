// Package upload validates employee document uploads, stores them in the
// blob store and records them on the tenant's org chart.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"orgchart/api/internal/metrics"
	"orgchart/api/internal/orgchart"
	"orgchart/api/internal/orgstore"
)

// DefaultMaxFileBytes is the per-file ceiling.
const DefaultMaxFileBytes int64 = 5 * 1024 * 1024

const sniffBytes = 3072

var (
	ErrNoFiles          = errors.New("no file uploaded")
	ErrFileNameRequired = errors.New("file name is required")
	ErrInvalidFileName  = errors.New("invalid file name")
	ErrFileTooLarge     = errors.New("file exceeds the size limit")
	ErrTooManyFiles     = errors.New("too many files")
)

type Blobs interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	SignedURL(ctx context.Context, name string) (string, error)
	Remove(ctx context.Context, name string) error
	PublicURL(name string) string
}

type Documents interface {
	Load(ctx context.Context, tenantID string) (orgchart.Snapshot, bool, error)
	AppendDocument(ctx context.Context, tenantID string, ownerID orgchart.ID, section orgchart.Section, ref orgchart.DocumentRef) (orgchart.Snapshot, error)
	RemoveDocument(ctx context.Context, tenantID string, ownerID orgchart.ID, section orgchart.Section, path string) (orgchart.Snapshot, error)
}

// File is one uploaded part.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
}

type Options struct {
	MaxFileBytes int64
	MaxFiles     int
	Logger       *zap.Logger
}

type Gateway struct {
	blobs        Blobs
	docs         Documents
	maxFileBytes int64
	maxFiles     int
	logger       *zap.Logger
}

func NewGateway(blobs Blobs, docs Documents, opts Options) *Gateway {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{blobs: blobs, docs: docs, maxFileBytes: opts.MaxFileBytes, maxFiles: opts.MaxFiles, logger: opts.Logger}
}

func (g *Gateway) MaxFileBytes() int64 { return g.maxFileBytes }
func (g *Gateway) MaxFiles() int       { return g.maxFiles }

type Result struct {
	Paths    []string
	URLs     []string
	Snapshot orgchart.Snapshot
}

// Upload stores files under {owner}/{section}/{filename} and appends each
// path to the owner's documents. Section, size and owner are checked before
// anything is written.
func (g *Gateway) Upload(ctx context.Context, tenantID string, ownerID orgchart.ID, rawSection string, files []File) (Result, error) {
	section, err := orgchart.ParseSection(rawSection)
	if err != nil {
		metrics.Uploads.WithLabelValues("invalid", "rejected").Inc()
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, ErrNoFiles
	}
	if len(files) > g.maxFiles {
		return Result{}, fmt.Errorf("%w: at most %d per request", ErrTooManyFiles, g.maxFiles)
	}
	names := make([]string, len(files))
	for i, f := range files {
		if f.Size > g.maxFileBytes {
			metrics.Uploads.WithLabelValues(string(section), "rejected").Inc()
			return Result{}, fmt.Errorf("%w: %s is larger than %d bytes", ErrFileTooLarge, f.Name, g.maxFileBytes)
		}
		name, err := cleanFileName(f.Name)
		if err != nil {
			return Result{}, err
		}
		names[i] = name
	}

	snap, found, err := g.docs.Load(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, orgstore.ErrSnapshotNotFound
	}
	if _, ok := orgchart.FindOwner(snap, ownerID); !ok {
		return Result{}, orgchart.ErrOwnerNotFound
	}

	res := Result{Snapshot: snap}
	for i, f := range files {
		key := fmt.Sprintf("%s/%s/%s", ownerID, section, names[i])
		reader, contentType, err := sniff(f.Reader)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if err := g.blobs.Put(ctx, key, reader, f.Size, contentType); err != nil {
			metrics.Uploads.WithLabelValues(string(section), "error").Inc()
			return res, err
		}
		snap, err := g.docs.AppendDocument(ctx, tenantID, ownerID, section, orgchart.PathRef(key))
		if err != nil {
			metrics.Uploads.WithLabelValues(string(section), "error").Inc()
			if rmErr := g.blobs.Remove(ctx, key); rmErr != nil {
				g.logger.Warn("failed to remove orphaned upload", zap.String("path", key), zap.Error(rmErr))
			}
			return res, err
		}
		metrics.Uploads.WithLabelValues(string(section), "ok").Inc()
		metrics.UploadBytes.Observe(float64(f.Size))
		g.logger.Info("document uploaded",
			zap.String("tenant_id", tenantID),
			zap.String("owner_id", string(ownerID)),
			zap.String("path", key),
			zap.String("content_type", contentType),
		)
		res.Paths = append(res.Paths, key)
		res.URLs = append(res.URLs, g.blobs.PublicURL(key))
		res.Snapshot = snap
	}
	return res, nil
}

// SignedURL returns a short-lived read link. An empty name is rejected
// without calling the blob store.
func (g *Gateway) SignedURL(ctx context.Context, fileName string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return "", ErrFileNameRequired
	}
	return g.blobs.SignedURL(ctx, fileName)
}

// Delete removes a document reference, then the stored object. Object
// removal is best effort.
func (g *Gateway) Delete(ctx context.Context, tenantID string, ownerID orgchart.ID, rawSection, docPath string) (orgchart.Snapshot, error) {
	section, err := orgchart.ParseSection(rawSection)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	docPath = strings.TrimSpace(docPath)
	if docPath == "" {
		return orgchart.Snapshot{}, ErrFileNameRequired
	}
	snap, err := g.docs.RemoveDocument(ctx, tenantID, ownerID, section, docPath)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	if strings.HasPrefix(docPath, string(ownerID)+"/") {
		if err := g.blobs.Remove(ctx, docPath); err != nil {
			g.logger.Warn("failed to remove document object", zap.String("path", docPath), zap.Error(err))
		}
	}
	return snap, nil
}

func cleanFileName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return base, nil
}

func sniff(r io.Reader) (io.Reader, string, error) {
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), r), mimetype.Detect(head).String(), nil
}
