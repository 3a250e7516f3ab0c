package valueindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/valuecodec"
	"go.etcd.io/bbolt"
)

const (
	SUB_KEY_PREFIX = "sub:"
)

// SubKey returns the key of the record holding the return value of the sub namespaceName::subName.
func SubKey(namespaceName, subName string) string {
	return SUB_KEY_PREFIX + namespaceName + "::" + subName
}

func (s *Store) PutSubReturnValue(namespaceName, subName string, v plvalue.Value) error {
	if namespaceName == "" || subName == "" {
		return ErrInvalidKey
	}
	return s.Put(SubKey(namespaceName, subName), v)
}

// PutParents stores the parent namespaces of namespaceName (@ISA), in method resolution order.
func (s *Store) PutParents(namespaceName string, parents []string) error {
	if namespaceName == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var added []nameEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		names := &txNameTable{bucket: tx.Bucket(NAMES_BUCKET), mirror: s.names}

		data := binary.AppendUvarint(nil, uint64(len(parents)))
		for _, parent := range parents {
			id, err := names.NameID(parent)
			if err != nil {
				return err
			}
			data = binary.AppendUvarint(data, id)
		}

		added = names.added
		return tx.Bucket(PARENTS_BUCKET).Put([]byte(namespaceName), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store parents of %s: %w", namespaceName, err)
	}

	s.names.add(added...)
	return nil
}

// Parents returns the parent namespaces of namespaceName, nil if they are not known.
func (s *Store) Parents(namespaceName string) ([]string, error) {
	if namespaceName == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var parents []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(PARENTS_BUCKET).Get([]byte(namespaceName))
		if data == nil {
			return nil
		}

		count, n := binary.Uvarint(data)
		if n <= 0 || count > uint64(len(data)) {
			return fmt.Errorf("%w: parents of %s", ErrCorruptIndex, namespaceName)
		}
		data = data[n:]

		parents = make([]string, 0, count)
		for i := uint64(0); i < count; i++ {
			id, n := binary.Uvarint(data)
			if n <= 0 {
				return fmt.Errorf("%w: parents of %s", ErrCorruptIndex, namespaceName)
			}
			data = data[n:]

			name, err := s.names.Name(id)
			if err != nil {
				return fmt.Errorf("%w: parents of %s: %w", ErrCorruptIndex, namespaceName, err)
			}
			parents = append(parents, name)
		}
		return nil
	})
	return parents, err
}

// Scope returns a plvalue.Scope reading the records of the store, values are decoded in r.
// Missing and corrupt records are treated as absent.
func (s *Store) Scope(r *plvalue.Registry) plvalue.Scope {
	return indexScope{store: s, registry: r}
}

type indexScope struct {
	store    *Store
	registry *plvalue.Registry
}

func (s indexScope) SubReturnValue(namespaceName, subName string) (plvalue.Value, bool) {
	v, found, err := s.store.Get(s.registry, SubKey(namespaceName, subName))
	if err != nil {
		if !errors.Is(err, valuecodec.ErrCorruptRecord) {
			s.store.logger.Err(err).Str("namespace", namespaceName).Str("sub", subName).Msg("failed to read return value")
		}
		return nil, false
	}
	return v, found
}

func (s indexScope) ParentNamespaces(namespaceName string) []string {
	parents, err := s.store.Parents(namespaceName)
	if err != nil {
		s.store.logger.Err(err).Str("namespace", namespaceName).Msg("failed to read parent namespaces")
		return nil
	}
	return parents
}
