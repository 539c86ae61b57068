package providers

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Factory builds a Provider from configuration.
type Factory func(cfg Config, log zerolog.Logger) (*Provider, error)

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Open builds the named provider.
func (r *Registry) Open(name string, cfg Config, log zerolog.Logger) (*Provider, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return f(cfg, log)
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
