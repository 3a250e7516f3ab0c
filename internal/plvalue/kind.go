package plvalue

import "strconv"

// A Kind identifies a variant of the closed value family.
type Kind uint8

const (
	// KindNone is the reserved "no value" marker, no Value has this kind.
	KindNone Kind = iota
	KindUnknown
	KindStatic
	KindOneOf
	KindReference
	KindDeref
	KindCallStatic
	KindCallObject
	KindConcat
)

// Kind ids are persisted in the value index, an id must never be reused or renumbered.
// New kinds get new, higher ids.
const (
	NO_VALUE_ID    = 0
	UNKNOWN_ID     = 1
	STATIC_ID      = 2
	ONE_OF_ID      = 3
	REFERENCE_ID   = 4
	DEREF_ID       = 5
	CALL_STATIC_ID = 6
	CALL_OBJECT_ID = 7
	CONCAT_ID      = 8
)

var (
	kindIds = [...]uint64{
		KindNone:       NO_VALUE_ID,
		KindUnknown:    UNKNOWN_ID,
		KindStatic:     STATIC_ID,
		KindOneOf:      ONE_OF_ID,
		KindReference:  REFERENCE_ID,
		KindDeref:      DEREF_ID,
		KindCallStatic: CALL_STATIC_ID,
		KindCallObject: CALL_OBJECT_ID,
		KindConcat:     CONCAT_ID,
	}

	kindNames = [...]string{
		KindNone:       "none",
		KindUnknown:    "unknown",
		KindStatic:     "static",
		KindOneOf:      "one-of",
		KindReference:  "reference",
		KindDeref:      "deref",
		KindCallStatic: "call-static",
		KindCallObject: "call-object",
		KindConcat:     "concat",
	}

	kindsById = func() map[uint64]Kind {
		m := make(map[uint64]Kind, len(kindIds))
		for kind, id := range kindIds {
			if _, ok := m[id]; ok {
				panic("duplicate kind id " + strconv.FormatUint(id, 10))
			}
			m[id] = Kind(kind)
		}
		return m
	}()
)

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// KindID returns the persisted id of kind.
func KindID(kind Kind) uint64 {
	if int(kind) >= len(kindIds) {
		panic("unknown kind " + kind.String())
	}
	return kindIds[kind]
}

// KindForID returns the kind whose persisted id is id, the reserved id NO_VALUE_ID has no kind.
func KindForID(id uint64) (Kind, bool) {
	kind, ok := kindsById[id]
	if !ok || kind == KindNone {
		return KindNone, false
	}
	return kind, true
}
