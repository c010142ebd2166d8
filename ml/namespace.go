package ml

import "slices"

// Namespace is an insertion-ordered mapping from dotted path strings to
// tensors. A model owns the tensors in its namespace for its lifetime; the
// namespace only references them.
type Namespace struct {
	keys []string
	m    map[string]*Tensor
}

func NewNamespace() *Namespace {
	return &Namespace{m: make(map[string]*Tensor)}
}

// Set registers t under name. First insertion fixes the key's position in
// iteration order; re-setting an existing key replaces the tensor only.
func (ns *Namespace) Set(name string, t *Tensor) {
	if _, ok := ns.m[name]; !ok {
		ns.keys = append(ns.keys, name)
	}
	ns.m[name] = t
}

func (ns *Namespace) Get(name string) (*Tensor, bool) {
	t, ok := ns.m[name]
	return t, ok
}

func (ns *Namespace) Has(name string) bool {
	_, ok := ns.m[name]
	return ok
}

// Keys returns the paths in insertion order.
func (ns *Namespace) Keys() []string {
	return slices.Clone(ns.keys)
}

func (ns *Namespace) Len() int {
	return len(ns.keys)
}
