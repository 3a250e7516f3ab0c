package plvalue

// UNKNOWN is the value of everything we know nothing about, it is the only unblessed Unknown value.
var UNKNOWN = &Unknown{header: newHeader(KindUnknown, nil, 0)}

// An Unknown represents a value we know nothing about. Unknown values resolve to no names,
// a blessed Unknown value resolves to the namespace names of its bless tag.
type Unknown struct {
	header
}

func (u *Unknown) Kind() Kind {
	return KindUnknown
}

func (u *Unknown) children() []Value {
	return nil
}

func (u *Unknown) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(&Unknown{header: newHeader(KindUnknown, bless, 0)})
}

func (u *Unknown) namespaceNames(rctx *ResolutionContext) NameSet {
	return EMPTY_NAME_SET
}

func (u *Unknown) subNames(rctx *ResolutionContext) NameSet {
	return EMPTY_NAME_SET
}

func (u *Unknown) CanRepresentNamespace(name string) bool {
	result, _ := u.blessCanRepresentNamespace(name)
	return result
}

func (u *Unknown) CanRepresentSubName(name string) bool {
	return false
}

func (u *Unknown) appendPayloadKey(key []byte) []byte {
	return key
}

func (u *Unknown) equalPayload(other Value) bool {
	return true
}

func (u *Unknown) comparePayload(other Value) int {
	return 0
}

func (u *Unknown) String() string {
	return u.render("Unknown")
}
