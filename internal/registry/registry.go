// Package registry maps model names to Perceiver ViT configurations and
// builds models from them, optionally with pretrained weights.
package registry

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/born-ml/perceiver/internal/vit"
)

// ErrUnknownModel is returned for names that are not registered.
var ErrUnknownModel = errors.New("unknown model")

// Error records the registry operation and model name that failed.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return "registry: " + e.Op + " model '" + e.Name + "': " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Constructor returns the architecture of a variant. It sees the caller's
// options so variants can pick option-dependent defaults.
type Constructor func(o *Options) vit.Config

// Entry is a registered variant.
type Entry struct {
	Constructor Constructor
	DefaultCfg  vit.DefaultCfg
	Description string
}

// Registry holds named model variants. It is safe for concurrent use.
type Registry struct {
	entries map[string]Entry
	mu      sync.RWMutex
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the variant called name.
func (r *Registry) Register(name string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = e
}

// Unregister removes a variant and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// Get returns the variant called name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of registered variants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DefaultRegistry holds every built-in variant.
var DefaultRegistry = New()

// Create builds the named model from DefaultRegistry.
func Create(name string, opts ...Option) (*vit.Model, error) {
	return DefaultRegistry.Create(name, opts...)
}

// CreateContext is Create with a context for checkpoint downloads.
func CreateContext(ctx context.Context, name string, opts ...Option) (*vit.Model, error) {
	return DefaultRegistry.CreateContext(ctx, name, opts...)
}

// Resolve returns the configuration DefaultRegistry would build for name.
func Resolve(name string, opts ...Option) (vit.Config, vit.DefaultCfg, error) {
	return DefaultRegistry.Resolve(name, opts...)
}

// List returns the names in DefaultRegistry.
func List() []string { return DefaultRegistry.List() }
