package wiki

import (
	"fmt"
)

type proxyFactory func(owner Owner, field string) *FieldProxy

// Fields maps the tracked field names of one owner to their proxies.
// Proxies are built on first access and live as long as the Fields value.
type Fields struct {
	owner   Owner
	names   []string
	factory proxyFactory
	proxies map[string]*FieldProxy
}

func newFields(owner Owner, names []string, factory proxyFactory) *Fields {
	return &Fields{
		owner:   owner,
		names:   names,
		factory: factory,
		proxies: make(map[string]*FieldProxy, len(names)),
	}
}

// Owner returns the record the fields belong to.
func (f *Fields) Owner() Owner {
	return f.owner
}

// Names returns the tracked field names.
func (f *Fields) Names() []string {
	return append([]string(nil), f.names...)
}

// Field returns the proxy for name.
func (f *Fields) Field(name string) (*FieldProxy, error) {
	if proxy, ok := f.proxies[name]; ok {
		return proxy, nil
	}
	if !f.tracks(name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUntrackedField, f.owner.OwnerType(), name)
	}
	proxy := f.factory(f.owner, name)
	f.proxies[name] = proxy
	return proxy, nil
}

// Assign stages new data for name.
func (f *Fields) Assign(name, value string) (*string, error) {
	return f.Apply(name, Changes{Data: &value})
}

// Apply stages changes for name.
func (f *Fields) Apply(name string, changes Changes) (*string, error) {
	proxy, err := f.Field(name)
	if err != nil {
		return nil, err
	}
	return proxy.Edit(changes), nil
}

// All returns a proxy for every tracked field in registration order.
func (f *Fields) All() []*FieldProxy {
	proxies := make([]*FieldProxy, 0, len(f.names))
	for _, name := range f.names {
		proxy, _ := f.Field(name)
		proxies = append(proxies, proxy)
	}
	return proxies
}

func (f *Fields) tracks(name string) bool {
	for _, candidate := range f.names {
		if candidate == name {
			return true
		}
	}
	return false
}
