package strategies

import (
	"fmt"
	"sort"
	"sync"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
)

// Registry holds named cipher strategies. The selection policy looks them up
// by the name recorded in an EncryptionResult, or enumerates capabilities via
// Describe.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]cipher.Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]cipher.Strategy),
	}
}

// Register adds a strategy under its own name. Registering the same name
// twice is a programming error.
func (r *Registry) Register(s cipher.Strategy) error {
	if s == nil {
		return fmt.Errorf("cannot register nil strategy")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("cannot register strategy with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (cipher.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("strategy %q not found", name)
	}
	return s, nil
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info describes a registered strategy's selection-relevant capabilities.
type Info struct {
	Name                string `json:"name"`
	MinPlatformVersion  int    `json:"min_platform_version"`
	AuthenticationGated bool   `json:"authentication_gated"`
}

// Describe returns capability information for every registered strategy,
// sorted by name.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.strategies))
	for _, s := range r.strategies {
		infos = append(infos, Info{
			Name:                s.Name(),
			MinPlatformVersion:  s.MinPlatformVersion(),
			AuthenticationGated: s.SupportsAuthenticationGate(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
