// Package codec encodes and decodes replica state archives.
package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"
)

// Codec writes and reads a value in one archive format.
type Codec interface {
	// Kind returns the unique identifier for this codec type
	Kind() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// Registry manages codec registration and lookup by kind or file extension.
type Registry struct {
	mu         sync.RWMutex
	codecs     map[string]Codec
	extensions map[string]string
}

// NewRegistry creates a new empty codec registry.
func NewRegistry() *Registry {
	return &Registry{
		codecs:     make(map[string]Codec),
		extensions: make(map[string]string),
	}
}

// Register adds a codec under its Kind and binds the given file extensions
// (with or without the leading dot) to it.
func (r *Registry) Register(c Codec, extensions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Kind()] = c
	for _, ext := range extensions {
		r.extensions[normalizeExt(ext)] = c.Kind()
	}
}

// Get retrieves a codec by its kind identifier.
func (r *Registry) Get(kind string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[kind]
	return c, ok
}

// ForPath picks the codec bound to the file's extension, falling back to
// the json codec.
func (r *Registry) ForPath(path string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.extensions[normalizeExt(filepath.Ext(path))]
	if !ok {
		kind = KindJSON
	}
	c, ok := r.codecs[kind]
	if !ok {
		return nil, fmt.Errorf("no codec registered for %q", path)
	}
	return c, nil
}

// Kinds returns all registered codec kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.codecs))
	for kind := range r.codecs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

const (
	KindJSON   = "json"
	KindSnappy = "snappy"
)

// JSON is the plain, indented JSON archive format.
type JSON struct{}

func (JSON) Kind() string { return KindJSON }

func (JSON) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (JSON) Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// Snappy is compact JSON inside a snappy framed stream.
type Snappy struct{}

func (Snappy) Kind() string { return KindSnappy }

func (Snappy) Encode(w io.Writer, v any) error {
	sw := snappy.NewBufferedWriter(w)
	if err := json.NewEncoder(sw).Encode(v); err != nil {
		sw.Close()
		return err
	}
	return sw.Close()
}

func (Snappy) Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(snappy.NewReader(r))
	dec.UseNumber()
	return dec.Decode(v)
}

// DefaultRegistry knows the json and snappy formats.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(JSON{}, ".json")
	r.Register(Snappy{}, ".sz", ".snappy")
	return r
}()

// ForPath is a convenience function that looks up the default registry.
func ForPath(path string) (Codec, error) {
	return DefaultRegistry.ForPath(path)
}
