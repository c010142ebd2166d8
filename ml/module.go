package ml

// Module is a node in a model's composition tree. Modules that own tensors
// directly additionally implement ParamSource or BufferSource; layer kinds a
// visitor may care about implement the capability interfaces below.
type Module interface {
	// Submodules returns the immediate children in declaration order.
	Submodules() []Named
}

// Named pairs a child module with its name relative to the parent.
type Named struct {
	Name   string
	Module Module
}

// Seq is an ordered container of named submodules.
type Seq []Named

func (s Seq) Submodules() []Named { return s }

// Param is a tensor owned directly by a module, named relative to it.
type Param struct {
	Name   string
	Tensor *Tensor
}

// ParamSource is implemented by modules owning trainable tensors.
type ParamSource interface {
	Params() []Param
}

// BufferSource is implemented by modules owning non-trainable tensors.
type BufferSource interface {
	Buffers() []Param
}

// LinearLike is the capability seen by visitors for any module carrying a
// weight tensor and an optional bias tensor.
type LinearLike interface {
	WeightParam() *Tensor
	BiasParam() *Tensor // may be nil
}

// NormLike is the capability seen by visitors for normalization layers.
type NormLike interface {
	ScaleParam() *Tensor
	ShiftParam() *Tensor
}

// Apply walks the composition tree rooted at m in pre-order, calling fn for
// every node. Visitors typically type-switch on the capability interfaces.
func Apply(m Module, fn func(Module)) {
	fn(m)
	for _, child := range m.Submodules() {
		Apply(child.Module, fn)
	}
}

// NamedParameters returns the dotted-path namespace of every parameter
// reachable from m, in traversal order.
func NamedParameters(m Module) *Namespace {
	ns := NewNamespace()
	collect(m, "", ns, false)
	return ns
}

// NamedBuffers returns the dotted-path namespace of every buffer reachable
// from m, in traversal order.
func NamedBuffers(m Module) *Namespace {
	ns := NewNamespace()
	collect(m, "", ns, true)
	return ns
}

func collect(m Module, prefix string, ns *Namespace, buffers bool) {
	if buffers {
		if src, ok := m.(BufferSource); ok {
			for _, p := range src.Buffers() {
				ns.Set(join(prefix, p.Name), p.Tensor)
			}
		}
	} else if src, ok := m.(ParamSource); ok {
		for _, p := range src.Params() {
			ns.Set(join(prefix, p.Name), p.Tensor)
		}
	}

	for _, child := range m.Submodules() {
		collect(child.Module, join(prefix, child.Name), ns, buffers)
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
