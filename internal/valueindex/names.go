package valueindex

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/barusanov/Perl5-IDEA/internal/valuecodec"
	"go.etcd.io/bbolt"
)

var (
	_ valuecodec.NameTable = (*nameMirror)(nil)
	_ valuecodec.NameTable = (*txNameTable)(nil)
)

type nameEntry struct {
	id   uint64
	name string
}

// nameMirror is the in-memory copy of the names bucket, it only contains committed names.
type nameMirror struct {
	lock  sync.RWMutex
	ids   map[string]uint64
	names map[uint64]string
}

func newNameMirror() *nameMirror {
	return &nameMirror{
		ids:   map[string]uint64{},
		names: map[uint64]string{},
	}
}

// NameID does not assign ids, records that contain unknown names are not canonical.
func (m *nameMirror) NameID(name string) (uint64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	id, ok := m.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", valuecodec.ErrUnknownName, name)
	}
	return id, nil
}

func (m *nameMirror) Name(id uint64) (string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	name, ok := m.names[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", valuecodec.ErrUnknownName, id)
	}
	return name, nil
}

func (m *nameMirror) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.names)
}

func (m *nameMirror) add(entries ...nameEntry) {
	if len(entries) == 0 {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	for _, entry := range entries {
		m.ids[entry.name] = entry.id
		m.names[entry.id] = entry.name
	}
}

func (m *nameMirror) reset() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.ids = map[string]uint64{}
	m.names = map[uint64]string{}
}

// txNameTable assigns ids to new names inside a write transaction, the new names are
// added to the mirror by the caller once the transaction is committed.
type txNameTable struct {
	bucket *bbolt.Bucket
	mirror *nameMirror
	added  []nameEntry
}

func (t *txNameTable) NameID(name string) (uint64, error) {
	if id, err := t.mirror.NameID(name); err == nil {
		return id, nil
	}
	for _, entry := range t.added {
		if entry.name == name {
			return entry.id, nil
		}
	}

	id, err := t.bucket.NextSequence()
	if err != nil {
		return 0, err
	}
	if err := t.bucket.Put(nameKey(id), []byte(name)); err != nil {
		return 0, err
	}
	t.added = append(t.added, nameEntry{id: id, name: name})
	return id, nil
}

func (t *txNameTable) Name(id uint64) (string, error) {
	for _, entry := range t.added {
		if entry.id == id {
			return entry.name, nil
		}
	}
	return t.mirror.Name(id)
}

func nameKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func loadNames(bucket *bbolt.Bucket) ([]nameEntry, error) {
	var entries []nameEntry
	err := bucket.ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			return fmt.Errorf("%w: invalid name key", ErrCorruptIndex)
		}
		entries = append(entries, nameEntry{
			id:   binary.BigEndian.Uint64(k),
			name: string(v),
		})
		return nil
	})
	return entries, err
}
