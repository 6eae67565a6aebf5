// Package transform defines the host capabilities the custom-step engine
// drives: opening frames, applying opaque transforms and saving the result.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ErrUnsupportedFrame is returned when a transform receives a frame produced
// by an opener it cannot work with.
var ErrUnsupportedFrame = errors.New("unsupported frame implementation")

// Frame is loaded image data.
type Frame interface {
	Save(path string) error
	Close()
}

// Opener loads frames from disk.
type Opener interface {
	Open(path string) (Frame, error)
}

// Transform is one opaque processing instruction.
type Transform interface {
	Name() string
	Apply(ctx context.Context, f Frame) error
}

// SpaceFactorProvider is implemented by transforms that change the storage
// size of their output, e.g. resampling. The factor multiplies the input size.
type SpaceFactorProvider interface {
	SpaceFactor() float64
}

// NoOp leaves the frame unchanged. The scheduler uses it as the leading
// label-carrying instruction of every group chain.
type NoOp struct{}

func (NoOp) Name() string { return "NoOperation" }

func (NoOp) Apply(ctx context.Context, f Frame) error { return nil }

// IsNoOp reports whether t is the no-op transform.
func IsNoOp(t Transform) bool {
	switch t.(type) {
	case NoOp, *NoOp:
		return true
	}
	return false
}

// Params are the string parameters a transform is built from.
type Params map[string]string

// Float returns the named parameter as float64, or def when absent.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return f, nil
}

// Int returns the named parameter as int, or def when absent.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}

// Factory builds a transform from its parameters.
type Factory func(params Params) (Transform, error)

// Registry maps process kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry that already knows the no-op kind.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("noop", func(Params) (Transform, error) { return NoOp{}, nil })
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build instantiates a transform of the given kind.
func (r *Registry) Build(kind string, params Params) (Transform, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown process kind %q", kind)
	}
	t, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", kind, err)
	}
	return t, nil
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
