// Package provider is the Provider Registry: a per-entityType
// PublishProvider with a built-in fallback. Grounded on
// internal/notifications — PublishProvider mirrors Notifier's single-method
// shape, and the built-in "internal" provider mirrors LogNotifier (log the
// attempt, no external side effect, never fails). The teacher's
// ProtectedNotifier circuit breaker is not reused here (see DESIGN.md); its
// closed/open/half-open state-machine idiom instead informed how the Retry
// Tracker in internal/publish/retry models retry readiness.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Result is what a successful Publish call returns.
type Result struct {
	ID       string
	URL      string
	Metadata map[string]any
}

// PublishProvider is what a plugin registers to own publishing for one
// entityType. ImageData is nil when the content carries no image.
type PublishProvider interface {
	Publish(ctx context.Context, content string, metadata map[string]any, imageData []byte) (Result, error)
}

// CredentialValidator is an optional capability a PublishProvider may also
// implement; the scheduler type-asserts for it rather than requiring every
// provider to implement a no-op.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) (bool, error)
}

const internalProviderID = "internal"

// internalProvider is the built-in fallback for entity types nobody has
// registered a provider for: it performs no external side effect and never
// fails, mirroring the teacher's LogNotifier.
type internalProvider struct {
	logger *slog.Logger
}

func newInternalProvider(logger *slog.Logger) *internalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &internalProvider{logger: logger}
}

func (p *internalProvider) Publish(ctx context.Context, content string, metadata map[string]any, imageData []byte) (Result, error) {
	p.logger.InfoContext(ctx, "publish.internal_provider",
		"content_len", len(content), "has_image", len(imageData) > 0)
	return Result{ID: internalProviderID, Metadata: metadata}, nil
}

var ErrNotRegistered = errors.New("provider: no provider registered for entity type")

// Registry is the §4.J Provider Registry: register/get/has/unregister over
// an entityType → PublishProvider map, falling back to the built-in
// provider for unregistered types.
type Registry struct {
	fallback PublishProvider

	mu        sync.RWMutex
	providers map[string]PublishProvider
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		fallback:  newInternalProvider(logger),
		providers: make(map[string]PublishProvider),
	}
}

// Register binds provider to entityType, replacing any prior binding.
func (r *Registry) Register(entityType string, p PublishProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[entityType] = p
}

// Get returns entityType's registered provider, or the built-in fallback if
// none was registered.
func (r *Registry) Get(entityType string) PublishProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[entityType]; ok {
		return p
	}
	return r.fallback
}

// Has reports whether entityType has an explicitly registered provider, as
// opposed to resolving to the built-in fallback.
func (r *Registry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[entityType]
	return ok
}

// Unregister removes entityType's provider binding, if any.
func (r *Registry) Unregister(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, entityType)
}

// GetRegisteredTypes returns every entityType with an explicit binding.
func (r *Registry) GetRegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}
