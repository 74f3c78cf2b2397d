package wearables

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rebatewell/go-wearables/core"
	wearablesync "github.com/rebatewell/go-wearables/sync"
)

type ProviderPack struct {
	Name      string
	Providers []core.HandshakeProvider
}

// DataClientPack contributes per-source fetch clients for the sync
// aggregator. Sources may overlap across packs; the last registered pack
// wins, in name order.
type DataClientPack struct {
	Name    string
	Clients map[core.Source]wearablesync.DataClient
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks   map[string]ProviderPack
	dataClientPacks map[string]DataClientPack
	bundles         map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks:   map[string]ProviderPack{},
		dataClientPacks: map[string]DataClientPack{},
		bundles:         map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("wearables: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("wearables: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("wearables: provider pack %q has no providers", name)
	}

	normalized := ProviderPack{
		Name:      name,
		Providers: append([]core.HandshakeProvider(nil), pack.Providers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("wearables: provider pack %q already registered", name)
	}
	h.providerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterDataClientPack(pack DataClientPack) error {
	if h == nil {
		return fmt.Errorf("wearables: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("wearables: data client pack name is required")
	}
	if len(pack.Clients) == 0 {
		return fmt.Errorf("wearables: data client pack %q has no clients", name)
	}

	normalized := DataClientPack{
		Name:    name,
		Clients: make(map[core.Source]wearablesync.DataClient, len(pack.Clients)),
	}
	for source, client := range pack.Clients {
		if client == nil {
			return fmt.Errorf("wearables: data client pack %q has nil client for %q", name, source)
		}
		parsed, err := core.ParseSource(string(source))
		if err != nil {
			return err
		}
		normalized.Clients[parsed] = client
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.dataClientPacks[name]; exists {
		return fmt.Errorf("wearables: data client pack %q already registered", name)
	}
	h.dataClientPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("wearables: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("wearables: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("wearables: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("wearables: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("wearables: registry is required")
	}

	packs := h.ProviderPacks()
	for _, pack := range packs {
		for _, provider := range pack.Providers {
			if provider == nil {
				return fmt.Errorf("wearables: provider pack %q contains nil provider", pack.Name)
			}
			if err := registry.Register(provider); err != nil {
				return err
			}
		}
	}
	return nil
}

// DataClientOptions flattens the registered packs into aggregator options,
// ready to pass to sync.NewAggregator.
func (h *ExtensionHooks) DataClientOptions() []wearablesync.Option {
	clients := h.DataClients()
	sources := make([]string, 0, len(clients))
	for source := range clients {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)

	options := make([]wearablesync.Option, 0, len(sources))
	for _, source := range sources {
		options = append(options, wearablesync.WithClient(core.Source(source), clients[core.Source(source)]))
	}
	return options
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("wearables: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.providerPacks))
	for name := range h.providerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Providers: append([]core.HandshakeProvider(nil), pack.Providers...),
		})
	}
	return out
}

func (h *ExtensionHooks) DataClients() map[core.Source]wearablesync.DataClient {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.dataClientPacks))
	for name := range h.dataClientPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := map[core.Source]wearablesync.DataClient{}
	for _, name := range names {
		for source, client := range h.dataClientPacks[name].Clients {
			out[source] = client
		}
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
