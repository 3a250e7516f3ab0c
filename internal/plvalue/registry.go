package plvalue

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

const (
	REGISTRY_SRC_NAME     = "/plvalue-registry"
	SOURCE_LOG_FIELD_NAME = "src"
	EPOCH_LOG_FIELD_NAME  = "epoch"
)

// A Registry canonicalizes values: all the factories of the package go through it and two structurally
// equal values created during the same epoch are the same instance. A registry is owned by an analysis
// session, Clear is called when the session is invalidated. It is safe for concurrent use.
type Registry struct {
	lock   sync.RWMutex //only write-locked by Clear
	table  cmap.ConcurrentMap[string, Value]
	nextId atomic.Uint32
	epoch  ulid.ULID
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		table:  cmap.New[Value](),
		epoch:  ulid.Make(),
		logger: logger.With().Str(SOURCE_LOG_FIELD_NAME, REGISTRY_SRC_NAME).Logger(),
	}
}

// Epoch returns the id of the current canonicalization epoch.
func (r *Registry) Epoch() ulid.ULID {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.epoch
}

// Len returns the number of interned values, UNKNOWN excluded.
func (r *Registry) Len() int {
	return r.table.Count()
}

// Clear drops all interned values and starts a new epoch, values of the previous epoch
// must no longer be passed to the factories.
func (r *Registry) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := r.table.Count()
	previous := r.epoch

	r.table.Clear()
	r.nextId.Store(0)
	r.epoch = ulid.Make()

	r.logger.Debug().
		Str("previous-"+EPOCH_LOG_FIELD_NAME, previous.String()).
		Str(EPOCH_LOG_FIELD_NAME, r.epoch.String()).
		Int("dropped", count).
		Msg("registry cleared")
}

// Unknown returns UNKNOWN.
func (r *Registry) Unknown() Value {
	return UNKNOWN
}

// intern returns the canonical instance for candidate, candidate must not be used afterwards.
func (r *Registry) intern(candidate Value) Value {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if bless := candidate.Bless(); bless != nil {
		r.checkInterned(bless)
	}
	for _, child := range candidate.children() {
		r.checkInterned(child)
	}

	key := structuralKey(candidate)

	return r.table.Upsert(key, candidate, func(exist bool, valueInMap, newValue Value) Value {
		if exist {
			return valueInMap
		}
		//the value is not visible to other goroutines yet.
		header := newValue.hdr()
		header.id = r.nextId.Add(1)
		header.epoch = r.epoch
		return newValue
	})
}

func (r *Registry) checkInterned(v Value) {
	if v == nil {
		panic(ErrNotInterned)
	}
	if v == UNKNOWN {
		return
	}
	header := v.hdr()
	if header.id == 0 {
		panic(ErrNotInterned)
	}
	if header.epoch != r.epoch {
		panic(ErrForeignEpoch)
	}
}

// structuralKey encodes the kind, the bless tag and the payload of v. Children are
// encoded by identity so the key is only meaningful within an epoch.
func structuralKey(v Value) string {
	key := make([]byte, 0, 32)
	key = append(key, byte(v.Kind()))
	if bless := v.Bless(); bless != nil {
		key = binary.AppendUvarint(key, uint64(bless.ID())+1)
	} else {
		key = append(key, 0)
	}
	key = v.appendPayloadKey(key)
	return string(key)
}

func appendChildKeys(key []byte, children []Value) []byte {
	key = binary.AppendUvarint(key, uint64(len(children)))
	for _, child := range children {
		key = binary.AppendUvarint(key, uint64(child.ID()))
	}
	return key
}

// Bless returns v reinterpreted as an object blessed into the package denoted by pkg.
// Blessing a Static value returns the value itself, blessing an already blessed value replaces the tag.
func (r *Registry) Bless(v Value, pkg Value) Value {
	if v == nil || pkg == nil {
		return v
	}
	return v.createBlessedCopy(r, pkg)
}
