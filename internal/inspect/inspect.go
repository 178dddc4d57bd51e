// Package inspect lists the leading entries of container files (archives)
// so a sealed upload can report what it holds. Inspection is best-effort:
// a failing or misbehaving inspector yields an empty listing and never an
// error to the caller.
package inspect

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultLimit is the number of entry names reported for a container
const DefaultLimit = 5

// Inspector lists up to limit entry names of a container
type Inspector interface {
	Inspect(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]string, error)
}

// InspectorFunc adapts a function to the Inspector interface
type InspectorFunc func(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]string, error)

// Inspect calls f
func (f InspectorFunc) Inspect(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]string, error) {
	return f(ctx, r, size, limit)
}

// Registry maps file name suffixes to inspectors
type Registry struct {
	mu         sync.RWMutex
	inspectors map[string]Inspector
	suffixes   []string
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{inspectors: make(map[string]Inspector)}
}

// NewDefaultRegistry returns a registry with every built-in container format
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".zip", ZipInspector{})
	r.Register(".jar", ZipInspector{})
	r.Register(".tar", TarInspector{})
	r.Register(".tar.gz", TarInspector{Decompress: gzipReader})
	r.Register(".tgz", TarInspector{Decompress: gzipReader})
	r.Register(".tar.zst", TarInspector{Decompress: zstdReader})
	r.Register(".tzst", TarInspector{Decompress: zstdReader})
	r.Register(".tar.lz4", TarInspector{Decompress: lz4Reader})
	return r
}

// Register binds an inspector to a file name suffix such as ".tar.gz".
// Matching is case-insensitive and the longest suffix wins.
func (r *Registry) Register(suffix string, inspector Inspector) {
	suffix = strings.ToLower(suffix)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inspectors[suffix]; !exists {
		r.suffixes = append(r.suffixes, suffix)
		sort.Slice(r.suffixes, func(i, j int) bool {
			return len(r.suffixes[i]) > len(r.suffixes[j])
		})
	}
	r.inspectors[suffix] = inspector
}

// Lookup returns the inspector for fileName, if any
func (r *Registry) Lookup(fileName string) (Inspector, bool) {
	name := strings.ToLower(fileName)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, suffix := range r.suffixes {
		if strings.HasSuffix(name, suffix) {
			return r.inspectors[suffix], true
		}
	}
	return nil, false
}

// Inspect runs the inspector registered for fileName. It always returns a
// non-nil slice of at most limit names; errors and panics are logged and
// produce an empty listing.
func (r *Registry) Inspect(ctx context.Context, fileName string, src io.ReaderAt, size int64, limit int) (entries []string) {
	entries = []string{}
	if limit <= 0 {
		return entries
	}

	inspector, ok := r.Lookup(fileName)
	if !ok {
		return entries
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().
				Str("file_name", fileName).
				Str("panic", fmt.Sprint(rec)).
				Msg("content inspector panicked")
			entries = []string{}
		}
	}()

	names, err := inspector.Inspect(ctx, src, size, limit)
	if err != nil {
		log.Warn().Err(err).Str("file_name", fileName).Msg("content inspection failed")
		return []string{}
	}

	if len(names) > limit {
		names = names[:limit]
	}
	if names == nil {
		names = []string{}
	}
	return names
}
