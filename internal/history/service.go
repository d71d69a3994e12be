// Package history keeps a git repository per tenant with one commit per
// chart write, so earlier versions can be listed, read back and compared.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"orgchart/api/internal/orgchart"
)

const (
	snapshotFile = "snapshot.json"
	branchName   = "main"
	authorName   = "orgchart"
	authorEmail  = "orgchart@localhost"
)

var (
	ErrDisabled      = errors.New("chart history is disabled")
	ErrInvalidTenant = errors.New("invalid tenant id for history")
	ErrNotFound      = errors.New("history entry not found")
)

// Commit describes one recorded chart version.
type Commit struct {
	Hash      string    `json:"hash"`
	FullHash  string    `json:"fullHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a history service rooted at baseDir. An empty baseDir
// disables recording and every read returns ErrDisabled.
func New(baseDir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) Enabled() bool { return s.baseDir != "" }

// Record commits snap as the tenant's current chart. A write that leaves
// the chart unchanged records nothing and returns the head commit.
func (s *Service) Record(tenantID string, snap orgchart.Snapshot, message string) (Commit, error) {
	if !s.Enabled() {
		return Commit{}, ErrDisabled
	}
	path, err := s.repoPath(tenantID)
	if err != nil {
		return Commit{}, err
	}
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Commit{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return Commit{}, fmt.Errorf("resolve head: %w", err)
		}
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, fmt.Errorf("load head commit: %w", err)
		}
		return toCommit(commitObj), nil
	}

	if strings.TrimSpace(message) == "" {
		message = "save"
	}
	hash, err := worktree.Commit(fmt.Sprintf("%s\n\nversion: %d", message, snap.Version), &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}

	s.logger.Debug("chart version recorded",
		zap.String("tenant_id", tenantID),
		zap.String("hash", hash.String()[:7]),
		zap.Int64("version", snap.Version),
	)
	return toCommit(commitObj), nil
}

// History lists recorded versions, newest first. A tenant with no history
// gets an empty list.
func (s *Service) History(tenantID string, limit int) ([]Commit, error) {
	repo, unlock, err := s.open(tenantID)
	if errors.Is(err, ErrNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return []Commit{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the chart as recorded at hash. Any revision git
// understands is accepted, including short hashes.
func (s *Service) SnapshotAt(tenantID, hash string) (orgchart.Snapshot, error) {
	raw, err := s.rawAt(tenantID, hash)
	if err != nil {
		return orgchart.Snapshot{}, err
	}
	var snap orgchart.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return orgchart.Snapshot{}, fmt.Errorf("decode recorded snapshot: %w", err)
	}
	return snap.Normalize(), nil
}

// Compare returns the JSON Patch that turns the chart at from into the
// chart at to. Timestamps and version stamps are left out.
func (s *Service) Compare(tenantID, from, to string) (jsondiff.Patch, error) {
	before, err := s.rawAt(tenantID, from)
	if err != nil {
		return nil, err
	}
	after, err := s.rawAt(tenantID, to)
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(before, after, jsondiff.Ignores("/updatedAt", "/version"))
	if err != nil {
		return nil, fmt.Errorf("compare snapshots: %w", err)
	}
	if patch == nil {
		patch = jsondiff.Patch{}
	}
	return patch, nil
}

func (s *Service) rawAt(tenantID, hash string) ([]byte, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("%w: empty revision", ErrNotFound)
	}
	repo, unlock, err := s.open(tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s", ErrNotFound, hash)
	}
	return readSnapshot(commitObj)
}

func (s *Service) open(tenantID string) (*git.Repository, func(), error) {
	if !s.Enabled() {
		return nil, nil, ErrDisabled
	}
	path, err := s.repoPath(tenantID)
	if err != nil {
		return nil, nil, err
	}
	lock := s.tenantLock(tenantID)
	lock.Lock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		lock.Unlock()
		return nil, nil, fmt.Errorf("%w: no history for tenant", ErrNotFound)
	}
	if err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, lock.Unlock, nil
}

func (s *Service) repoPath(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || tenantID == "." || tenantID == ".." || strings.ContainsAny(tenantID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return filepath.Join(s.baseDir, tenantID), nil
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[tenantID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[tenantID] = lock
	return lock
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branchName, err)
	}
	return repo, nil
}

func readSnapshot(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return raw, nil
}

func toCommit(commitObj *object.Commit) Commit {
	full := commitObj.Hash.String()
	return Commit{
		Hash:      full[:7],
		FullHash:  full,
		Message:   strings.TrimSpace(strings.SplitN(commitObj.Message, "\n", 2)[0]),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: resolve %s: %v", ErrNotFound, hash, err)
	}
	return *resolved, nil
}
