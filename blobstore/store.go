package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no entry exists at the requested path.
var ErrNotFound = errors.New("blobstore: entry not found")

// Entry is one stored value: a path key, the content bytes, and the
// provenance of the write (typically the tool call that produced it).
type Entry struct {
	Path       string    `json:"path"`
	Content    []byte    `json:"content,omitempty"`
	Provenance string    `json:"provenance,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Size returns the content length in bytes.
func (e *Entry) Size() int { return len(e.Content) }

// Store is path-addressed byte storage. Implementations must support
// concurrent use across namespaces; within one namespace callers
// serialize their own writes.
type Store interface {
	// Write stores content under path, replacing any existing entry.
	Write(ctx context.Context, path string, content []byte, provenance string) (*Entry, error)

	// Read returns the content at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Search returns all paths matching a glob pattern, sorted.
	Search(ctx context.Context, pattern string) ([]string, error)

	// Namespace returns a subtree view rooted at name. Writes through the
	// view land under name/ in the parent.
	Namespace(name string) Store
}

// cleanPath normalizes a store path and rejects attempts to escape the
// namespace root.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("blobstore: empty path")
	}
	if strings.HasPrefix(p, "..") {
		return "", fmt.Errorf("blobstore: path escapes namespace: %q", p)
	}
	return p, nil
}

// joinNamespace prefixes a cleaned path with a namespace segment.
func joinNamespace(ns, p string) string {
	if ns == "" {
		return p
	}
	return ns + "/" + p
}
