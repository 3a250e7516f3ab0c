package plvalue

// A Reference represents a reference to a value: \$x, \&sub, or an anonymous array or hash.
// References are what Perl code usually blesses.
type Reference struct {
	header
	target Value
}

func (r *Registry) Reference(target Value) Value {
	if target == nil {
		target = UNKNOWN
	}
	return r.intern(newReference(nil, target))
}

func newReference(bless Value, target Value) *Reference {
	return &Reference{
		header: newHeader(KindReference, bless, hashUint(hashInit, target.Hash())),
		target: target,
	}
}

func (ref *Reference) Kind() Kind {
	return KindReference
}

func (ref *Reference) Target() Value {
	return ref.target
}

func (ref *Reference) children() []Value {
	return []Value{ref.target}
}

func (ref *Reference) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newReference(bless, ref.target))
}

// namespaceNames returns no names: an unblessed reference is not an object.
func (ref *Reference) namespaceNames(rctx *ResolutionContext) NameSet {
	return EMPTY_NAME_SET
}

func (ref *Reference) subNames(rctx *ResolutionContext) NameSet {
	return SubNames(ref.target, rctx)
}

func (ref *Reference) CanRepresentNamespace(name string) bool {
	result, _ := ref.blessCanRepresentNamespace(name)
	return result
}

func (ref *Reference) CanRepresentSubName(name string) bool {
	return ref.target.CanRepresentSubName(name)
}

func (ref *Reference) appendPayloadKey(key []byte) []byte {
	return appendChildKeys(key, []Value{ref.target})
}

func (ref *Reference) equalPayload(other Value) bool {
	return Equal(ref.target, other.(*Reference).target)
}

func (ref *Reference) comparePayload(other Value) int {
	return Compare(ref.target, other.(*Reference).target)
}

func (ref *Reference) String() string {
	return ref.render("\\" + ref.target.String())
}
