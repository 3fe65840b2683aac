package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"casefile/internal/models"
)

// ErrUnknownModel indicates the requested model is not registered and no
// default provider is set.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// ErrUnknownProvider indicates a provider name that was never registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Transport sends one shaped request to a provider. Implementations make a
// single outbound call per Send and never retry.
type Transport interface {
	Name() string
	ListModels(ctx context.Context) ([]models.Model, error)
	Send(ctx context.Context, body models.RequestBody) (*models.Completion, error)
}

type modelEntry struct {
	model     models.Model
	transport Transport
}

// Registry maintains a mapping of model IDs and aliases to transports.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]modelEntry
	byName   map[string]Transport
	fallback Transport
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]modelEntry),
		byName: make(map[string]Transport),
	}
}

// RegisterProvider adds the transport and its models to the registry, wiring
// optional aliases. Alias targets that are not listed models are registered
// as models of this transport.
func (r *Registry) RegisterProvider(ctx context.Context, t Transport, aliases map[string]string) error {
	if t == nil {
		return errors.New("transport must not be nil")
	}

	modelsList, err := t.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models for provider %q: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[t.Name()]; exists {
		return fmt.Errorf("provider %q already registered", t.Name())
	}
	r.byName[t.Name()] = t

	for _, model := range modelsList {
		if _, exists := r.models[model.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, model.ID)
		}
		r.models[model.ID] = modelEntry{model: model, transport: t}
	}

	for alias, target := range aliases {
		if _, exists := r.models[alias]; exists {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		entry, ok := r.models[target]
		if !ok {
			entry = modelEntry{model: models.Model{ID: target, Provider: t.Name()}, transport: t}
		} else if entry.transport != t {
			return fmt.Errorf("alias %q of provider %q targets model %q of provider %q", alias, t.Name(), target, entry.model.Provider)
		}
		r.models[alias] = entry
	}

	return nil
}

// SetDefault routes unregistered model IDs to the named provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	r.fallback = t
	return nil
}

// LookupModel returns the resolved model and its transport. Aliases resolve
// to their target ID; unknown IDs go to the default provider when one is set.
func (r *Registry) LookupModel(modelID string) (models.Model, Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.models[modelID]; ok {
		return entry.model, entry.transport, nil
	}
	if r.fallback != nil {
		return models.Model{ID: modelID, Provider: r.fallback.Name()}, r.fallback, nil
	}
	return models.Model{}, nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
}

// Provider returns the transport registered under name.
func (r *Registry) Provider(name string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return t, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
