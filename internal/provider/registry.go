package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
	"github.com/sahilm/fuzzy"
)

// Factory creates a provider from configuration. The API key is empty for
// backends that do not require one.
type Factory func(cfg *config.Config, model, apiKey string, logger *logging.Logger) (core.Provider, error)

// Registry manages the closed set of provider variants. Adding a backend is
// registering a factory, not branching on names through the core.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("ollama", NewOllama)
	r.Register("openai", NewOpenAI)
	r.Register("llamafile", NewLlamafile)
	return r
}

// Register adds a factory for a provider name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get builds the named provider.
func (r *Registry) Get(name string, cfg *config.Config, model, apiKey string, logger *logging.Logger) (core.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, r.unknownProviderErr(name)
	}
	p, err := factory(cfg, model, apiKey, logger)
	if err != nil {
		return nil, fmt.Errorf("creating provider %s: %w", name, err)
	}
	return p, nil
}

// Profile returns the static profile for a provider without building it.
func (r *Registry) Profile(name string) (core.ProviderProfile, error) {
	switch name {
	case "ollama":
		return ollamaProfile(), nil
	case "openai":
		return openAIProfile(), nil
	case "llamafile":
		return llamafileProfile(), nil
	default:
		return core.ProviderProfile{}, r.unknownProviderErr(name)
	}
}

// List returns registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) unknownProviderErr(name string) error {
	names := r.List()
	if matches := fuzzy.Find(name, names); len(matches) > 0 {
		return core.ErrSetup(core.CodeInvalidConfig,
			fmt.Sprintf("unknown provider %q (did you mean %q?)", name, matches[0].Str))
	}
	return core.ErrSetup(core.CodeInvalidConfig,
		fmt.Sprintf("unknown provider %q (available: %v)", name, names))
}
