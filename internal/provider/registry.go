package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
)

// Descriptor describes one provider. It is immutable once registered.
type Descriptor struct {
	ID           string
	Capabilities []capability.Capability
	Priority     int // lower is tried first

	// Ready reports whether the provider's credentials are present. It checks
	// presence only; validity is discovered by calling the provider.
	Ready func() bool
}

// Supports reports whether the provider implements c.
func (d Descriptor) Supports(c capability.Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// IsReady evaluates the credential predicate. A nil predicate means ready.
func (d Descriptor) IsReady() bool {
	return d.Ready == nil || d.Ready()
}

// Status is a point-in-time view of one provider for health reporting.
type Status struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Priority     int      `json:"priority"`
	Ready        bool     `json:"ready"`
}

type entry struct {
	desc     Descriptor
	adapters map[capability.Capability]Adapter
}

// Registry maps capabilities to provider chains. Populate it with Register
// and SetChain during startup; it is read-only and safe for concurrent use
// afterwards.
type Registry struct {
	entries map[string]*entry
	chains  map[capability.Capability][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		chains:  make(map[capability.Capability][]string),
	}
}

// Register adds a provider with one adapter per supported capability.
func (r *Registry) Register(d Descriptor, adapters map[capability.Capability]Adapter) error {
	d.ID = strings.ToLower(strings.TrimSpace(d.ID))
	if d.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if _, dup := r.entries[d.ID]; dup {
		return fmt.Errorf("provider %q already registered", d.ID)
	}
	for _, c := range d.Capabilities {
		if adapters[c] == nil {
			return fmt.Errorf("provider %q: no adapter for capability %s", d.ID, c)
		}
	}
	d.Capabilities = append([]capability.Capability(nil), d.Capabilities...)
	r.entries[d.ID] = &entry{desc: d, adapters: adapters}
	return nil
}

// SetChain configures the default chain order for a capability. Every id must
// be registered and support the capability.
func (r *Registry) SetChain(c capability.Capability, ids []string) error {
	var chain []string
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		e, ok := r.entries[id]
		if !ok {
			return fmt.Errorf("%s chain: unknown provider %q", c, id)
		}
		if !e.desc.Supports(c) {
			return fmt.Errorf("%s chain: provider %q does not support %s", c, id, c)
		}
		seen[id] = true
		chain = append(chain, id)
	}
	if len(chain) == 0 {
		delete(r.chains, c)
		return nil
	}
	r.chains[c] = chain
	return nil
}

// ProvidersFor returns the default chain for a capability: the configured
// order when one was set, otherwise every supporting provider by priority then id.
func (r *Registry) ProvidersFor(c capability.Capability) []Descriptor {
	if ids, ok := r.chains[c]; ok {
		out := make([]Descriptor, 0, len(ids))
		for _, id := range ids {
			out = append(out, r.entries[id].desc)
		}
		return out
	}

	var out []Descriptor
	for _, e := range r.entries {
		if e.desc.Supports(c) {
			out = append(out, e.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Chain returns the default chain with preferred moved to the head. An empty
// preferred id returns the default chain unchanged.
func (r *Registry) Chain(c capability.Capability, preferred string) ([]Descriptor, error) {
	chain := r.ProvidersFor(c)
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if preferred == "" {
		return chain, nil
	}

	e, ok := r.entries[preferred]
	if !ok {
		return nil, &capability.ValidationError{
			Field:  "provider",
			Reason: fmt.Sprintf("unknown provider %q", preferred),
		}
	}
	if !e.desc.Supports(c) {
		return nil, &capability.ValidationError{
			Field:  "provider",
			Reason: fmt.Sprintf("provider %q does not support %s", preferred, c),
		}
	}

	out := make([]Descriptor, 0, len(chain)+1)
	out = append(out, e.desc)
	for _, d := range chain {
		if d.ID != preferred {
			out = append(out, d)
		}
	}
	return out, nil
}

// IsReady reports whether a registered provider has its credentials present.
func (r *Registry) IsReady(id string) bool {
	e, ok := r.entries[strings.ToLower(id)]
	return ok && e.desc.IsReady()
}

// Adapter returns the adapter bound to a provider for a capability.
func (r *Registry) Adapter(c capability.Capability, id string) (Adapter, bool) {
	e, ok := r.entries[strings.ToLower(id)]
	if !ok {
		return nil, false
	}
	a, ok := e.adapters[c]
	return a, ok && a != nil
}

// Snapshot returns the status of every registered provider, sorted by id.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		caps := make([]string, len(e.desc.Capabilities))
		for i, c := range e.desc.Capabilities {
			caps[i] = string(c)
		}
		out = append(out, Status{
			ID:           e.desc.ID,
			Capabilities: caps,
			Priority:     e.desc.Priority,
			Ready:        e.desc.IsReady(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadyCount returns how many providers in the default chain for c are ready.
func (r *Registry) ReadyCount(c capability.Capability) int {
	n := 0
	for _, d := range r.ProvidersFor(c) {
		if d.IsReady() {
			n++
		}
	}
	return n
}
