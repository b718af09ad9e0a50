package format

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
)

var (
	ErrUnknownFormat = errors.New("unknown contest format")
	ErrDuplicateName = errors.New("contest format already registered")
)

// DefaultName is the identifier new contests are created with.
const DefaultName = "default"

// Registry maps format identifiers to formats. It is filled once at startup and
// only read afterwards, so lookups take no lock.
type Registry struct {
	formats map[string]Format
}

func newEmptyRegistry() *Registry {
	return &Registry{formats: make(map[string]Format)}
}

// NewRegistry returns a registry holding every format this build ships.
func NewRegistry() (*Registry, error) {
	r := newEmptyRegistry()
	if err := r.Register(DefaultName, Default{}); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds f under name. Only call it during initialization.
func (r *Registry) Register(name string, f Format) error {
	if _, ok := r.formats[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.formats[name] = f
	return nil
}

func (r *Registry) Resolve(name string) (Format, error) {
	f, ok := r.formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// All yields (name, display name) pairs in name order. The sequence can be
// ranged over any number of times.
func (r *Registry) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, name := range slices.Sorted(maps.Keys(r.formats)) {
			if !yield(name, r.formats[name].DisplayName()) {
				return
			}
		}
	}
}
