package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// MemoryStore is an in-memory Store. The zero value is not usable; create
// instances with NewMemoryStore. Namespace views share the backing map.
type MemoryStore struct {
	root *memoryRoot
	ns   string
}

type memoryRoot struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: &memoryRoot{entries: make(map[string]*Entry)}}
}

func (s *MemoryStore) Write(ctx context.Context, p string, content []byte, provenance string) (*Entry, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	full := joinNamespace(s.ns, cleaned)

	buf := make([]byte, len(content))
	copy(buf, content)
	entry := &Entry{
		Path:       cleaned,
		Content:    buf,
		Provenance: provenance,
		CreatedAt:  time.Now(),
	}

	s.root.mu.Lock()
	s.root.entries[full] = entry
	s.root.mu.Unlock()
	return entry, nil
}

func (s *MemoryStore) Read(ctx context.Context, p string) ([]byte, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	s.root.mu.RLock()
	entry, ok := s.root.entries[joinNamespace(s.ns, cleaned)]
	s.root.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	buf := make([]byte, len(entry.Content))
	copy(buf, entry.Content)
	return buf, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.collect(func(p string) bool {
		return strings.HasPrefix(p, prefix)
	}), nil
}

func (s *MemoryStore) Search(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	return s.collect(g.Match), nil
}

func (s *MemoryStore) collect(match func(string) bool) []string {
	nsPrefix := ""
	if s.ns != "" {
		nsPrefix = s.ns + "/"
	}

	s.root.mu.RLock()
	var paths []string
	for full := range s.root.entries {
		if !strings.HasPrefix(full, nsPrefix) {
			continue
		}
		rel := strings.TrimPrefix(full, nsPrefix)
		if match(rel) {
			paths = append(paths, rel)
		}
	}
	s.root.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

func (s *MemoryStore) Namespace(name string) Store {
	cleaned, err := cleanPath(name)
	if err != nil {
		// An invalid namespace still needs to return something usable;
		// fall back to a quarantined segment so writes cannot collide.
		cleaned = "_invalid"
	}
	return &MemoryStore{root: s.root, ns: joinNamespace(s.ns, cleaned)}
}
