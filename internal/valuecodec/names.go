package valuecodec

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownName = errors.New("unknown name id")
)

// A NameTable maps the names (package names, sub names, literals) written in encoded values to small
// integer ids, so that the size of an index is proportional to the number of distinct names.
type NameTable interface {
	// NameID returns the id of name, assigning a new id if name is not present.
	NameID(name string) (uint64, error)

	// Name returns the name whose id is id, or an error wrapping ErrUnknownName.
	Name(id uint64) (string, error)
}

// A MemNameTable is an in-memory NameTable, it is safe for concurrent use.
type MemNameTable struct {
	lock  sync.RWMutex
	ids   map[string]uint64
	names []string
}

func NewMemNameTable() *MemNameTable {
	return &MemNameTable{
		ids: map[string]uint64{},
	}
}

func (t *MemNameTable) NameID(name string) (uint64, error) {
	t.lock.RLock()
	id, ok := t.ids[name]
	t.lock.RUnlock()
	if ok {
		return id, nil
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if id, ok := t.ids[name]; ok {
		return id, nil
	}
	id = uint64(len(t.names))
	t.names = append(t.names, name)
	t.ids[name] = id
	return id, nil
}

func (t *MemNameTable) Name(id uint64) (string, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if id >= uint64(len(t.names)) {
		return "", fmt.Errorf("%w: %d", ErrUnknownName, id)
	}
	return t.names[id], nil
}

func (t *MemNameTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.names)
}
