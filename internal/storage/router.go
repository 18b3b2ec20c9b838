package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Router resolves backend keys to strategies. It is immutable after construction.
type Router struct {
	active     string
	strategies map[string]Strategy
}

// NewRouter registers strategies by Kind and selects active for new uploads.
func NewRouter(active string, strategies ...Strategy) (*Router, error) {
	active = strings.TrimSpace(active)
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		if s == nil {
			continue
		}
		kind := s.Kind()
		if kind == "" {
			return nil, errors.New("storage strategy with empty kind")
		}
		if _, dup := m[kind]; dup {
			return nil, fmt.Errorf("storage strategy %q registered twice", kind)
		}
		m[kind] = s
	}
	if _, ok := m[active]; !ok {
		return nil, fmt.Errorf("%w: active backend %q", ErrBackendNotConfigured, active)
	}
	return &Router{active: active, strategies: m}, nil
}

// Active returns the key new uploads are written to.
func (r *Router) Active() string {
	return r.active
}

// Kinds returns the registered keys in sorted order.
func (r *Router) Kinds() []string {
	kinds := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RouteFor returns the strategy registered under kind.
func (r *Router) RouteFor(kind string) (Strategy, error) {
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotConfigured, kind)
	}
	return s, nil
}

// Save writes content through the active strategy and returns its key.
func (r *Router) Save(ctx context.Context, name string, content io.Reader, size int64, mimeType string) (string, error) {
	s, err := r.RouteFor(r.active)
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, name, content, size, mimeType); err != nil {
		return "", err
	}
	return r.active, nil
}

// URL resolves name through the strategy that stored it.
func (r *Router) URL(ctx context.Context, name, kind string) (string, error) {
	s, err := r.RouteFor(kind)
	if err != nil {
		return "", err
	}
	return s.URL(ctx, name)
}

// Delete removes name through the strategy that stored it.
func (r *Router) Delete(ctx context.Context, name, kind string) error {
	s, err := r.RouteFor(kind)
	if err != nil {
		return err
	}
	return s.Delete(ctx, name)
}
