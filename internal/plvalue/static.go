package plvalue

import (
	"strconv"
	"strings"
)

// A Static represents a plain value: a string or a number. It denotes exactly one name.
type Static struct {
	header
	literal string
}

// Static returns the value of a string or number literal.
func (r *Registry) Static(literal string) Value {
	return r.intern(&Static{
		header:  newHeader(KindStatic, nil, hashString(hashInit, literal)),
		literal: literal,
	})
}

// StaticFromLiteral is like Static but returns UNKNOWN if literal is nil.
func (r *Registry) StaticFromLiteral(literal *string) Value {
	if literal == nil {
		return UNKNOWN
	}
	return r.Static(*literal)
}

// StaticOrNil is like Static but returns nil if literal is nil.
func (r *Registry) StaticOrNil(literal *string) Value {
	if literal == nil {
		return nil
	}
	return r.Static(*literal)
}

func (r *Registry) StaticInt(n int64) Value {
	return r.Static(strconv.FormatInt(n, 10))
}

func (s *Static) Kind() Kind {
	return KindStatic
}

// Literal returns the text of the value.
func (s *Static) Literal() string {
	return s.literal
}

func (s *Static) children() []Value {
	return nil
}

// createBlessedCopy returns s: a plain value already denotes a fixed name.
func (s *Static) createBlessedCopy(r *Registry, bless Value) Value {
	return s
}

func (s *Static) namespaceNames(rctx *ResolutionContext) NameSet {
	return NewNameSet(s.literal)
}

func (s *Static) subNames(rctx *ResolutionContext) NameSet {
	return NewNameSet(s.literal)
}

func (s *Static) CanRepresentNamespace(name string) bool {
	return name != "" && s.literal == name
}

func (s *Static) CanRepresentSubName(name string) bool {
	return name != "" && s.literal == name
}

func (s *Static) appendPayloadKey(key []byte) []byte {
	return append(key, s.literal...)
}

func (s *Static) equalPayload(other Value) bool {
	return s.literal == other.(*Static).literal
}

func (s *Static) comparePayload(other Value) int {
	return strings.Compare(s.literal, other.(*Static).literal)
}

func (s *Static) String() string {
	return s.literal
}
