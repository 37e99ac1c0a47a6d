package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Registry holds the adapters enabled in this process, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.Provider)}
}

func (r *Registry) Register(p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownPlatform)
	}
	return p, nil
}

// Names returns the registered platform names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

func (r *Registry) All() []domain.Provider {
	names := r.Names()
	out := make([]domain.Provider, 0, len(names))
	for _, name := range names {
		p, _ := r.Get(name)
		out = append(out, p)
	}
	return out
}

// Render implements domain.Renderer.
func (r *Registry) Render(status domain.StreamStatus, locale string) (domain.RenderableFields, error) {
	p, err := r.Get(status.Platform)
	if err != nil {
		return domain.RenderableFields{}, err
	}
	return p.RenderStatus(status, locale), nil
}

// StartAll starts every adapter. On failure the ones already started are
// stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []domain.Provider
	for _, p := range r.All() {
		if err := p.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return fmt.Errorf("failed to start provider %s: %w", p.Name(), err)
		}
		started = append(started, p)
	}
	return nil
}

func (r *Registry) StopAll() error {
	var errs []error
	for _, p := range r.All() {
		if err := p.Stop(); err != nil && !errors.Is(err, domain.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop provider %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
