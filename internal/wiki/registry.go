package wiki

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Registry remembers which fields are tracked per owner type. It is filled at
// startup and read-only once sealed.
type Registry struct {
	mu     sync.RWMutex
	fields map[string]mapset.Set[string]
	order  map[string][]string
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fields: make(map[string]mapset.Set[string]),
		order:  make(map[string][]string),
	}
}

// Register tracks fields for ownerType. Repeated names are ignored.
func (r *Registry) Register(ownerType string, fields ...string) error {
	ownerType = strings.TrimSpace(ownerType)
	if ownerType == "" {
		return fmt.Errorf("%w: owner type is required", ErrInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: %s", ErrRegistrySealed, ownerType)
	}
	known, ok := r.fields[ownerType]
	if !ok {
		known = mapset.NewThreadUnsafeSet[string]()
		r.fields[ownerType] = known
	}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			return fmt.Errorf("%w: field name is required for %s", ErrInvalidRegistration, ownerType)
		}
		if known.Add(field) {
			r.order[ownerType] = append(r.order[ownerType], field)
		}
	}
	return nil
}

// Seal rejects any further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Fields returns the tracked fields of ownerType in registration order.
func (r *Registry) Fields(ownerType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order[ownerType]...)
}

// Tracked reports whether field is tracked for ownerType.
func (r *Registry) Tracked(ownerType, field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	known, ok := r.fields[ownerType]
	return ok && known.Contains(field)
}

// OwnerTypes lists every registered owner type.
func (r *Registry) OwnerTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.fields))
	for ownerType := range r.fields {
		types = append(types, ownerType)
	}
	sort.Strings(types)
	return types
}
