package plvalue

import "strings"

// A CallStatic represents the result of calling a sub of a namespace: Foo::bar(...) or, for a method
// call, Foo->bar(...). The namespace and the sub name are values so that names built at runtime
// can be resolved.
type CallStatic struct {
	header
	namespace Value
	sub       Value
	method    bool
	args      []Value
}

// CallStatic returns the result of the function call namespace::sub(args...).
func (r *Registry) CallStatic(namespace, sub Value, args ...Value) Value {
	return r.callStatic(namespace, sub, false, args)
}

// CallMethod returns the result of the class method call namespace->sub(args...).
func (r *Registry) CallMethod(namespace, sub Value, args ...Value) Value {
	return r.callStatic(namespace, sub, true, args)
}

func (r *Registry) callStatic(namespace, sub Value, method bool, args []Value) Value {
	if namespace == nil {
		namespace = UNKNOWN
	}
	if sub == nil {
		sub = UNKNOWN
	}
	return r.intern(newCallStatic(nil, namespace, sub, method, nonNilValues(args)))
}

func newCallStatic(bless Value, namespace, sub Value, method bool, args []Value) *CallStatic {
	h := hashUint(hashInit, namespace.Hash())
	h = hashUint(h, sub.Hash())
	if method {
		h = hashUint(h, 1)
	} else {
		h = hashUint(h, 0)
	}

	return &CallStatic{
		header:    newHeader(KindCallStatic, bless, hashValues(h, args)),
		namespace: namespace,
		sub:       sub,
		method:    method,
		args:      args,
	}
}

func (c *CallStatic) Kind() Kind {
	return KindCallStatic
}

func (c *CallStatic) Namespace() Value {
	return c.namespace
}

func (c *CallStatic) Sub() Value {
	return c.sub
}

func (c *CallStatic) IsMethod() bool {
	return c.method
}

func (c *CallStatic) Args() []Value {
	return append([]Value(nil), c.args...)
}

func (c *CallStatic) children() []Value {
	return append([]Value{c.namespace, c.sub}, c.args...)
}

func (c *CallStatic) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newCallStatic(bless, c.namespace, c.sub, c.method, c.args))
}

func (c *CallStatic) namespaceNames(rctx *ResolutionContext) NameSet {
	return rctx.callNames(NamespaceNames(c.namespace, rctx), c.sub, c.method, namespaceRole)
}

func (c *CallStatic) subNames(rctx *ResolutionContext) NameSet {
	return rctx.callNames(NamespaceNames(c.namespace, rctx), c.sub, c.method, subRole)
}

func (c *CallStatic) CanRepresentNamespace(name string) bool {
	result, _ := c.blessCanRepresentNamespace(name)
	return result
}

func (c *CallStatic) CanRepresentSubName(name string) bool {
	return false
}

func (c *CallStatic) appendPayloadKey(key []byte) []byte {
	if c.method {
		key = append(key, 1)
	} else {
		key = append(key, 0)
	}
	return appendChildKeys(key, c.children())
}

func (c *CallStatic) equalPayload(other Value) bool {
	o := other.(*CallStatic)
	return c.method == o.method && Equal(c.namespace, o.namespace) && Equal(c.sub, o.sub) && equalSlices(c.args, o.args)
}

func (c *CallStatic) comparePayload(other Value) int {
	o := other.(*CallStatic)
	if c.method != o.method {
		if !c.method {
			return -1
		}
		return 1
	}
	return compareSlices(c.children(), o.children())
}

func (c *CallStatic) String() string {
	op := "::"
	if c.method {
		op = "->"
	}
	return c.render(c.namespace.String() + op + c.sub.String() + "(" + joinValues(c.args, ", ") + ")")
}

// A CallObject represents the result of an instance method call: $obj->bar(...).
type CallObject struct {
	header
	invocant Value
	sub      Value
	args     []Value
}

// CallObject returns the result of the method call invocant->sub(args...).
func (r *Registry) CallObject(invocant, sub Value, args ...Value) Value {
	if invocant == nil {
		invocant = UNKNOWN
	}
	if sub == nil {
		sub = UNKNOWN
	}
	return r.intern(newCallObject(nil, invocant, sub, nonNilValues(args)))
}

func newCallObject(bless Value, invocant, sub Value, args []Value) *CallObject {
	h := hashUint(hashInit, invocant.Hash())
	h = hashUint(h, sub.Hash())

	return &CallObject{
		header:   newHeader(KindCallObject, bless, hashValues(h, args)),
		invocant: invocant,
		sub:      sub,
		args:     args,
	}
}

func (c *CallObject) Kind() Kind {
	return KindCallObject
}

func (c *CallObject) Invocant() Value {
	return c.invocant
}

func (c *CallObject) Sub() Value {
	return c.sub
}

func (c *CallObject) Args() []Value {
	return append([]Value(nil), c.args...)
}

func (c *CallObject) children() []Value {
	return append([]Value{c.invocant, c.sub}, c.args...)
}

func (c *CallObject) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newCallObject(bless, c.invocant, c.sub, c.args))
}

func (c *CallObject) namespaceNames(rctx *ResolutionContext) NameSet {
	return rctx.callNames(NamespaceNames(c.invocant, rctx), c.sub, true, namespaceRole)
}

func (c *CallObject) subNames(rctx *ResolutionContext) NameSet {
	return rctx.callNames(NamespaceNames(c.invocant, rctx), c.sub, true, subRole)
}

func (c *CallObject) CanRepresentNamespace(name string) bool {
	result, _ := c.blessCanRepresentNamespace(name)
	return result
}

func (c *CallObject) CanRepresentSubName(name string) bool {
	return false
}

func (c *CallObject) appendPayloadKey(key []byte) []byte {
	return appendChildKeys(key, c.children())
}

func (c *CallObject) equalPayload(other Value) bool {
	o := other.(*CallObject)
	return Equal(c.invocant, o.invocant) && Equal(c.sub, o.sub) && equalSlices(c.args, o.args)
}

func (c *CallObject) comparePayload(other Value) int {
	return compareSlices(c.children(), other.(*CallObject).children())
}

func (c *CallObject) String() string {
	invocant := c.invocant.String()
	if _, ok := c.invocant.(*Static); ok {
		invocant = "'" + strings.ReplaceAll(invocant, "'", "\\'") + "'"
	}
	return c.render(invocant + "->" + c.sub.String() + "(" + joinValues(c.args, ", ") + ")")
}

func nonNilValues(values []Value) []Value {
	if len(values) == 0 {
		return nil
	}
	result := make([]Value, len(values))
	for i, v := range values {
		if v == nil {
			v = UNKNOWN
		}
		result[i] = v
	}
	return result
}
