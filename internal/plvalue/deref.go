package plvalue

// A Deref represents the dereference of a value: $$x, @{$x}, &{"Foo::bar"}.
// Dereferencing a string is a symbolic reference to the entity named by the string.
type Deref struct {
	header
	target Value
}

func (r *Registry) Deref(target Value) Value {
	if target == nil {
		return UNKNOWN
	}
	return r.intern(newDeref(nil, target))
}

func newDeref(bless Value, target Value) *Deref {
	return &Deref{
		header: newHeader(KindDeref, bless, hashUint(hashInit, target.Hash())),
		target: target,
	}
}

func (d *Deref) Kind() Kind {
	return KindDeref
}

func (d *Deref) Target() Value {
	return d.target
}

func (d *Deref) children() []Value {
	return []Value{d.target}
}

func (d *Deref) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newDeref(bless, d.target))
}

func (d *Deref) namespaceNames(rctx *ResolutionContext) NameSet {
	return referentNames(d.target, rctx, namespaceRole)
}

func (d *Deref) subNames(rctx *ResolutionContext) NameSet {
	return referentNames(d.target, rctx, subRole)
}

// referentNames returns the names of the values referenced by target.
func referentNames(target Value, rctx *ResolutionContext, r role) NameSet {
	switch t := target.(type) {
	case *Reference:
		return rctx.names(t.target, r)
	case *Static:
		return rctx.names(t, r)
	case *OneOf:
		sets := make([]NameSet, 0, len(t.alternatives))
		for _, alternative := range t.alternatives {
			sets = append(sets, referentNames(alternative, rctx, r))
		}
		return unionNameSets(sets...)
	default:
		return EMPTY_NAME_SET
	}
}

func (d *Deref) CanRepresentNamespace(name string) bool {
	if result, blessed := d.blessCanRepresentNamespace(name); blessed {
		return result
	}
	return referentCanRepresent(d.target, name, namespaceRole)
}

func (d *Deref) CanRepresentSubName(name string) bool {
	return referentCanRepresent(d.target, name, subRole)
}

func referentCanRepresent(target Value, name string, r role) bool {
	var referent Value
	switch t := target.(type) {
	case *Reference:
		referent = t.target
	case *Static:
		referent = t
	case *OneOf:
		for _, alternative := range t.alternatives {
			if referentCanRepresent(alternative, name, r) {
				return true
			}
		}
		return false
	default:
		return false
	}

	if r == namespaceRole {
		return referent.CanRepresentNamespace(name)
	}
	return referent.CanRepresentSubName(name)
}

func (d *Deref) appendPayloadKey(key []byte) []byte {
	return appendChildKeys(key, []Value{d.target})
}

func (d *Deref) equalPayload(other Value) bool {
	return Equal(d.target, other.(*Deref).target)
}

func (d *Deref) comparePayload(other Value) int {
	return Compare(d.target, other.(*Deref).target)
}

func (d *Deref) String() string {
	return d.render("${" + d.target.String() + "}")
}
