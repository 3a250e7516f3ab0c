package plvalue

import (
	"encoding/binary"
	"errors"
	"hash/maphash"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotInterned  = errors.New("value was not created by a registry")
	ErrForeignEpoch = errors.New("value belongs to another canonicalization epoch")
)

// A Value is an immutable node representing an inferred, possibly ambiguous runtime identity
// (constant, unknown or composite). Values are only created by the factories of a Registry,
// two structurally equal values created by the same registry epoch are the same instance.
//
// The set of implementations is closed: Unknown, Static, OneOf, Reference, Deref, CallStatic,
// CallObject and Concat.
type Value interface {
	Kind() Kind

	// Bless returns the value denoting the package the value is blessed into, or nil.
	Bless() Value

	// ID returns the registry-local identity of the value, 0 for UNKNOWN.
	ID() uint32

	// Hash returns a structural hash consistent with Equal.
	Hash() uint64

	// CanRepresentNamespace cheaply tests whether the value may denote the namespace name
	// without materializing the namespace names, the empty name is never represented.
	CanRepresentNamespace(name string) bool

	// CanRepresentSubName is the sub name counterpart of CanRepresentNamespace.
	CanRepresentSubName(name string) bool

	String() string

	hdr() *header
	children() []Value
	createBlessedCopy(r *Registry, bless Value) Value
	namespaceNames(rctx *ResolutionContext) NameSet
	subNames(rctx *ResolutionContext) NameSet
	appendPayloadKey(key []byte) []byte
	equalPayload(other Value) bool
	comparePayload(other Value) int
}

// header holds the data shared by all variants.
type header struct {
	id    uint32
	epoch ulid.ULID
	hash  uint64
	bless Value
}

func newHeader(kind Kind, bless Value, payloadHash uint64) header {
	h := hashUint(hashInit, KindID(kind))
	if bless != nil {
		h = hashUint(h, bless.Hash())
	} else {
		h = hashUint(h, 0)
	}
	return header{
		hash:  hashUint(h, payloadHash),
		bless: bless,
	}
}

func (h *header) hdr() *header {
	return h
}

func (h *header) ID() uint32 {
	return h.id
}

func (h *header) Hash() uint64 {
	return h.hash
}

func (h *header) Bless() Value {
	return h.bless
}

// namespace membership of blessed values comes from the bless tag.
func (h *header) blessCanRepresentNamespace(name string) (result bool, blessed bool) {
	if h.bless == nil {
		return false, false
	}
	return h.bless.CanRepresentNamespace(name), true
}

func (h *header) render(unblessed string) string {
	if h.bless == nil {
		return unblessed
	}
	return "bless(" + unblessed + ", " + h.bless.String() + ")"
}

// Equal reports whether a and b are structurally equal: same kind, same payload and same bless tag.
// It does not rely on interning.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind() != b.Kind() || a.Hash() != b.Hash() {
		return false
	}
	if !Equal(a.Bless(), b.Bless()) {
		return false
	}
	return a.equalPayload(b)
}

// Compare is a total order on values consistent with Equal, it does not depend on identities so
// it is the same in every session.
func Compare(a, b Value) int {
	switch {
	case a == b:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	idA, idB := KindID(a.Kind()), KindID(b.Kind())
	if idA != idB {
		if idA < idB {
			return -1
		}
		return 1
	}

	if c := Compare(a.Bless(), b.Bless()); c != 0 {
		return c
	}
	return a.comparePayload(b)
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func compareSlices(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func joinValues(values []Value, sep string) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(v.String())
	}
	return b.String()
}

// structural hashes are only meaningful within a process.
var hashSeed = maphash.MakeSeed()

const hashInit = 0

func hashUint(h uint64, v uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], h)
	binary.LittleEndian.PutUint64(buf[8:], v)
	return maphash.Bytes(hashSeed, buf[:])
}

func hashString(h uint64, s string) uint64 {
	var mh maphash.Hash
	mh.SetSeed(hashSeed)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	mh.Write(buf[:])
	mh.WriteString(s)
	return hashUint(mh.Sum64(), uint64(len(s)))
}

func hashValues(h uint64, values []Value) uint64 {
	for _, v := range values {
		h = hashUint(h, v.Hash())
	}
	return hashUint(h, uint64(len(values)))
}
