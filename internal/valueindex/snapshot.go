package valueindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

const (
	SNAPSHOT_MAGIC         = "PLVI"
	MAX_SNAPSHOT_ITEM_SIZE = 64 << 20
)

var (
	ErrInvalidSnapshot = errors.New("invalid value index snapshot")
)

// A snapshot is a zstd stream containing:
//
//	magic version
//	count (id name)*          names
//	count (key record)*       records
//	count (namespace data)*   parents
//
// Integers are uvarints, strings and byte slices are prefixed by their length.
type snapshot struct {
	names   []nameEntry
	records []snapshotEntry
	parents []snapshotEntry
}

type snapshotEntry struct {
	key  string
	data []byte
}

// Export writes a compressed snapshot of the whole store to w.
func (s *Store) Export(w io.Writer) error {
	snap, err := s.snapshot()
	if err != nil {
		return err
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	buf := []byte(SNAPSHOT_MAGIC)
	buf = appendBytes(buf, []byte(FORMAT_VERSION))

	buf = binary.AppendUvarint(buf, uint64(len(snap.names)))
	for _, entry := range snap.names {
		buf = binary.AppendUvarint(buf, entry.id)
		buf = appendBytes(buf, []byte(entry.name))
	}

	for _, entries := range [][]snapshotEntry{snap.records, snap.parents} {
		buf = binary.AppendUvarint(buf, uint64(len(entries)))
		for _, entry := range entries {
			buf = appendBytes(buf, []byte(entry.key))
			buf = appendBytes(buf, entry.data)
		}
	}

	if _, err := encoder.Write(buf); err != nil {
		encoder.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	s.logger.Debug().
		Int("names", len(snap.names)).
		Int("records", len(snap.records)).
		Int("parents", len(snap.parents)).
		Msg("value index exported")
	return nil
}

func (s *Store) snapshot() (snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return snapshot{}, ErrStoreClosed
	}

	var snap snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		snap.names, err = loadNames(tx.Bucket(NAMES_BUCKET))
		if err != nil {
			return err
		}

		err = tx.Bucket(RECORDS_BUCKET).ForEach(func(k, v []byte) error {
			snap.records = append(snap.records, snapshotEntry{key: string(k), data: bytes.Clone(v)})
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(PARENTS_BUCKET).ForEach(func(k, v []byte) error {
			snap.parents = append(snap.parents, snapshotEntry{key: string(k), data: bytes.Clone(v)})
			return nil
		})
	})
	return snap, err
}

// Import loads a snapshot written by Export, the store should be empty.
func (s *Store) Import(r io.Reader) error {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer decoder.Close()

	snap, err := readSnapshot(bufio.NewReader(decoder))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		namesBucket := tx.Bucket(NAMES_BUCKET)
		recordsBucket := tx.Bucket(RECORDS_BUCKET)
		parentsBucket := tx.Bucket(PARENTS_BUCKET)

		if namesBucket.Stats().KeyN != 0 || recordsBucket.Stats().KeyN != 0 || parentsBucket.Stats().KeyN != 0 {
			return ErrNotEmpty
		}

		maxId := uint64(0)
		for _, entry := range snap.names {
			if err := namesBucket.Put(nameKey(entry.id), []byte(entry.name)); err != nil {
				return err
			}
			maxId = max(maxId, entry.id)
		}
		if err := namesBucket.SetSequence(maxId); err != nil {
			return err
		}

		for _, entry := range snap.records {
			if err := recordsBucket.Put([]byte(entry.key), entry.data); err != nil {
				return err
			}
		}
		for _, entry := range snap.parents {
			if err := parentsBucket.Put([]byte(entry.key), entry.data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}

	s.names.reset()
	s.names.add(snap.names...)

	s.logger.Debug().
		Int("names", len(snap.names)).
		Int("records", len(snap.records)).
		Int("parents", len(snap.parents)).
		Msg("value index imported")
	return nil
}

func readSnapshot(r *bufio.Reader) (snapshot, error) {
	var snap snapshot

	magic := make([]byte, len(SNAPSHOT_MAGIC))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != SNAPSHOT_MAGIC {
		return snap, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}

	version, err := readBytes(r)
	if err != nil {
		return snap, err
	}
	if err := checkFormatVersion(string(version)); err != nil {
		return snap, err
	}

	nameCount, err := binary.ReadUvarint(r)
	if err != nil {
		return snap, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	ids := map[uint64]struct{}{}
	names := map[string]struct{}{}

	for i := uint64(0); i < nameCount; i++ {
		id, err := binary.ReadUvarint(r)
		if err != nil {
			return snap, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		name, err := readBytes(r)
		if err != nil {
			return snap, err
		}

		if _, ok := ids[id]; ok {
			return snap, fmt.Errorf("%w: duplicate name id %d", ErrInvalidSnapshot, id)
		}
		if _, ok := names[string(name)]; ok {
			return snap, fmt.Errorf("%w: duplicate name %q", ErrInvalidSnapshot, name)
		}
		ids[id] = struct{}{}
		names[string(name)] = struct{}{}

		snap.names = append(snap.names, nameEntry{id: id, name: string(name)})
	}

	for _, entries := range []*[]snapshotEntry{&snap.records, &snap.parents} {
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return snap, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}

		for i := uint64(0); i < count; i++ {
			key, err := readBytes(r)
			if err != nil {
				return snap, err
			}
			if len(key) == 0 {
				return snap, fmt.Errorf("%w: empty key", ErrInvalidSnapshot)
			}
			data, err := readBytes(r)
			if err != nil {
				return snap, err
			}
			*entries = append(*entries, snapshotEntry{key: string(key), data: data})
		}
	}

	if _, err := r.ReadByte(); err != io.EOF {
		return snap, fmt.Errorf("%w: trailing data", ErrInvalidSnapshot)
	}
	return snap, nil
}

func appendBytes(buf []byte, data []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func readBytes(r *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if length > MAX_SNAPSHOT_ITEM_SIZE {
		return nil, fmt.Errorf("%w: item too large (%d bytes)", ErrInvalidSnapshot, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return data, nil
}
