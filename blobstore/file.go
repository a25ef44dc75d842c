package blobstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// FileStore is a Store backed by a directory tree. Entry content lives in
// plain files; provenance is tracked in memory for the lifetime of the
// store instance.
type FileStore struct {
	root *fileRoot
	ns   string
}

type fileRoot struct {
	dir  string
	mu   sync.RWMutex
	meta map[string]fileMeta
}

type fileMeta struct {
	provenance string
	createdAt  time.Time
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: &fileRoot{dir: dir, meta: make(map[string]fileMeta)}}, nil
}

func (s *FileStore) fullPath(cleaned string) string {
	return filepath.Join(s.root.dir, filepath.FromSlash(joinNamespace(s.ns, cleaned)))
}

func (s *FileStore) Write(ctx context.Context, p string, content []byte, provenance string) (*Entry, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	full := s.fullPath(cleaned)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return nil, err
	}

	now := time.Now()
	s.root.mu.Lock()
	s.root.meta[joinNamespace(s.ns, cleaned)] = fileMeta{provenance: provenance, createdAt: now}
	s.root.mu.Unlock()

	return &Entry{Path: cleaned, Content: content, Provenance: provenance, CreatedAt: now}, nil
}

func (s *FileStore) Read(ctx context.Context, p string) ([]byte, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.fullPath(cleaned))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return content, err
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.walk(func(p string) bool {
		return strings.HasPrefix(p, prefix)
	})
}

func (s *FileStore) Search(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	return s.walk(g.Match)
}

func (s *FileStore) walk(match func(string) bool) ([]string, error) {
	base := filepath.Join(s.root.dir, filepath.FromSlash(s.ns))
	var paths []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if match(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *FileStore) Namespace(name string) Store {
	cleaned, err := cleanPath(name)
	if err != nil {
		cleaned = "_invalid"
	}
	return &FileStore{root: s.root, ns: joinNamespace(s.ns, cleaned)}
}
