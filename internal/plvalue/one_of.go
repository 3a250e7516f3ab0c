package plvalue

import (
	"slices"
)

// A OneOf represents a value that is one of several possible values, its alternatives are sorted and distinct.
type OneOf struct {
	header
	alternatives []Value
}

// OneOf returns a value that is one of values. Nested unblessed OneOf values are flattened
// and duplicates are removed; OneOf() is UNKNOWN and OneOf(v) is v.
func (r *Registry) OneOf(values ...Value) Value {
	var alternatives []Value
	for _, v := range values {
		if v == nil {
			continue
		}
		if oneOf, ok := v.(*OneOf); ok && oneOf.bless == nil {
			alternatives = append(alternatives, oneOf.alternatives...)
			continue
		}
		alternatives = append(alternatives, v)
	}

	slices.SortFunc(alternatives, Compare)
	alternatives = slices.CompactFunc(alternatives, Equal)

	switch len(alternatives) {
	case 0:
		return UNKNOWN
	case 1:
		return alternatives[0]
	}

	return r.intern(newOneOf(nil, alternatives))
}

func newOneOf(bless Value, alternatives []Value) *OneOf {
	return &OneOf{
		header:       newHeader(KindOneOf, bless, hashValues(hashInit, alternatives)),
		alternatives: alternatives,
	}
}

func (o *OneOf) Kind() Kind {
	return KindOneOf
}

func (o *OneOf) Alternatives() []Value {
	return slices.Clone(o.alternatives)
}

func (o *OneOf) children() []Value {
	return o.alternatives
}

func (o *OneOf) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newOneOf(bless, o.alternatives))
}

func (o *OneOf) namespaceNames(rctx *ResolutionContext) NameSet {
	sets := make([]NameSet, 0, len(o.alternatives))
	for _, alternative := range o.alternatives {
		sets = append(sets, NamespaceNames(alternative, rctx))
	}
	return unionNameSets(sets...)
}

func (o *OneOf) subNames(rctx *ResolutionContext) NameSet {
	sets := make([]NameSet, 0, len(o.alternatives))
	for _, alternative := range o.alternatives {
		sets = append(sets, SubNames(alternative, rctx))
	}
	return unionNameSets(sets...)
}

func (o *OneOf) CanRepresentNamespace(name string) bool {
	if result, blessed := o.blessCanRepresentNamespace(name); blessed {
		return result
	}
	for _, alternative := range o.alternatives {
		if alternative.CanRepresentNamespace(name) {
			return true
		}
	}
	return false
}

func (o *OneOf) CanRepresentSubName(name string) bool {
	for _, alternative := range o.alternatives {
		if alternative.CanRepresentSubName(name) {
			return true
		}
	}
	return false
}

func (o *OneOf) appendPayloadKey(key []byte) []byte {
	return appendChildKeys(key, o.alternatives)
}

func (o *OneOf) equalPayload(other Value) bool {
	return equalSlices(o.alternatives, other.(*OneOf).alternatives)
}

func (o *OneOf) comparePayload(other Value) int {
	return compareSlices(o.alternatives, other.(*OneOf).alternatives)
}

func (o *OneOf) String() string {
	return o.render("OneOf[" + joinValues(o.alternatives, ", ") + "]")
}
