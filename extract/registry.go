package extract

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/prompt"
)

// UnsupportedTypeError reports a lookup for a category with no registered
// extractor.
type UnsupportedTypeError struct {
	Type knowledge.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported extraction type %q", string(e.Type))
}

// Registry maps category tags to extractor instances. Registration is
// idempotent: re-registering a tag replaces the previous extractor and
// logs a warning. Wiring happens at startup; reads are concurrent-safe.
type Registry struct {
	mu         sync.RWMutex
	extractors map[knowledge.Type]*Extractor
	logger     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[knowledge.Type]*Extractor),
		logger:     slog.Default(),
	}
}

// Register adds an extractor under its category tag, replacing any prior
// registration for the same tag.
func (r *Registry) Register(e *Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extractors[e.ExtractionType()]; exists {
		r.logger.Warn("replacing registered extractor", "type", e.ExtractionType())
	}
	r.extractors[e.ExtractionType()] = e
}

// Get returns the extractor for a category, or an UnsupportedTypeError.
func (r *Registry) Get(typ knowledge.Type) (*Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[typ]
	if !ok {
		return nil, &UnsupportedTypeError{Type: typ}
	}
	return e, nil
}

// Types returns the registered categories in routing order.
func (r *Registry) Types() []knowledge.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var types []knowledge.Type
	for _, typ := range knowledge.AllTypes {
		if _, ok := r.extractors[typ]; ok {
			types = append(types, typ)
		}
	}
	return types
}

// RegisterAll builds and registers one extractor per category, all sharing
// the same gateway and configuration.
func RegisterAll(r *Registry, prompts *prompt.Loader, gw Gateway, cfg Config) error {
	for _, typ := range knowledge.AllTypes {
		e, err := New(typ, prompts, gw, cfg)
		if err != nil {
			return err
		}
		r.Register(e)
	}
	return nil
}
