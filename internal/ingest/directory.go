package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/joseph-ayodele/club-sessions/internal/gmail"
)

// DirectorySource serves saved confirmation emails from a drop folder.
// Message ids are "file:" plus the sha256 of the file content, so renaming or
// re-dropping the same email dedups.
type DirectorySource struct {
	root       string
	exts       map[string]struct{}
	skipHidden bool
	logger     *slog.Logger

	mu    sync.Mutex
	paths map[string]string // message id -> path
}

var defaultExts = map[string]struct{}{
	"eml":  {},
	"html": {},
	"htm":  {},
	"txt":  {},
}

func NewDirectorySource(root string, includeExts []string, logger *slog.Logger) (*DirectorySource, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("drop directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	exts := defaultExts
	if len(includeExts) > 0 {
		exts = map[string]struct{}{}
		for _, e := range includeExts {
			e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
			if e != "" {
				exts[e] = struct{}{}
			}
		}
	}
	return &DirectorySource{
		root:       root,
		exts:       exts,
		skipHidden: true,
		logger:     logger,
		paths:      map[string]string{},
	}, nil
}

func (d *DirectorySource) Root() string { return d.root }

// Search walks the drop folder and returns up to max message ids in path
// order. The provider query is ignored.
func (d *DirectorySource) Search(ctx context.Context, query string, max int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			d.logger.Warn("ingest.dir.walk_error", "path", path, "error", walkErr)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.skipHidden && path != d.root && isHidden(path) {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.IsDir() || !allowed(path, d.exts) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", d.root, err)
	}
	slices.Sort(files)

	ids := make([]string, 0, len(files))
	for _, p := range files {
		if max > 0 && len(ids) >= max {
			break
		}
		id, err := d.register(p)
		if err != nil {
			d.logger.Warn("ingest.dir.hash_error", "path", p, "error", err)
			continue
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	d.logger.Debug("ingest.dir.search", "root", d.root, "query", query, "matched", len(ids))
	return ids, nil
}

// Fetch loads a message previously returned by Search or Register.
func (d *DirectorySource) Fetch(ctx context.Context, id string) (*gmail.Message, error) {
	d.mu.Lock()
	path, ok := d.paths[id]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown message id %q", id)
	}
	return LoadMessageFile(id, path)
}

// Register hashes path and returns its message id.
func (d *DirectorySource) Register(path string) (string, error) {
	if !allowed(path, d.exts) {
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	return d.register(path)
}

func (d *DirectorySource) register(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	id := "file:" + hex.EncodeToString(sum[:])
	d.mu.Lock()
	d.paths[id] = path
	d.mu.Unlock()
	return id, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}
