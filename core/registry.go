package core

import (
	"fmt"
	"sort"
	"sync"
)

type SourceRegistry struct {
	mu        sync.RWMutex
	providers map[Source]HandshakeProvider
}

func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{providers: make(map[Source]HandshakeProvider)}
}

func (r *SourceRegistry) Register(provider HandshakeProvider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	source, err := ParseSource(string(provider.ID()))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[source]; exists {
		return fmt.Errorf("core: provider already registered: %s", source)
	}
	r.providers[source] = provider
	return nil
}

func (r *SourceRegistry) Get(source Source) (HandshakeProvider, bool) {
	r.mu.RLock()
	provider, ok := r.providers[source]
	r.mu.RUnlock()
	return provider, ok
}

func (r *SourceRegistry) List() []HandshakeProvider {
	r.mu.RLock()
	keys := make([]string, 0, len(r.providers))
	for source := range r.providers {
		keys = append(keys, string(source))
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	providers := make([]HandshakeProvider, 0, len(keys))
	r.mu.RLock()
	for _, key := range keys {
		providers = append(providers, r.providers[Source(key)])
	}
	r.mu.RUnlock()
	return providers
}
