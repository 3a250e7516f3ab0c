package valueindex

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/valuecodec"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/tinylru"
	"go.etcd.io/bbolt"
	"gopkg.in/cenkalti/backoff.v1"
)

const (
	INDEX_SRC_NAME = "/value-index"

	// indexes with the same major version can be read, records with unknown kinds are discarded.
	FORMAT_VERSION = "1.0.0"

	DEFAULT_RECORD_CACHE_SIZE = 1024
	DEFAULT_FILE_PERMS        = 0o600
	DEFAULT_LOCK_TIMEOUT      = time.Second
	DEFAULT_MAX_OPEN_DURATION = 10 * time.Second
)

var (
	NAMES_BUCKET   = []byte("names")
	RECORDS_BUCKET = []byte("records")
	PARENTS_BUCKET = []byte("parents")
	META_BUCKET    = []byte("meta")

	FORMAT_VERSION_KEY = []byte("format_version")

	ErrStoreClosed        = errors.New("value index is closed")
	ErrIncompatibleFormat = errors.New("incompatible value index format")
	ErrCorruptIndex       = errors.New("corrupt value index")
	ErrInvalidKey         = errors.New("invalid record key")
	ErrNotEmpty           = errors.New("value index is not empty")

	CURRENT_FORMAT_VERSION = semver.MustParse(FORMAT_VERSION)
)

type StoreConfig struct {
	// Path of the bbolt file, it is created if it does not exist.
	Path string

	// CacheSize is the maximum number of decoded values kept in memory, defaults to DEFAULT_RECORD_CACHE_SIZE.
	CacheSize int

	// MaxOpenDuration is how long Open keeps retrying while the file is locked by another process,
	// defaults to DEFAULT_MAX_OPEN_DURATION.
	MaxOpenDuration time.Duration

	Logger zerolog.Logger
}

// A Store persists encoded values in a bbolt database, records are keyed by strings chosen by the
// indexing layer (see SubKey). The name table shared by all records is stored in the same database.
// A Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	path   string
	closed bool
	logger zerolog.Logger

	names  *nameMirror
	scache tinylru.LRU // decoded records
}

type cachedValue struct {
	epoch ulid.ULID
	value plvalue.Value
}

func Open(config StoreConfig) (*Store, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = DEFAULT_RECORD_CACHE_SIZE
	}
	if config.MaxOpenDuration <= 0 {
		config.MaxOpenDuration = DEFAULT_MAX_OPEN_DURATION
	}

	logger := config.Logger.With().Str(plvalue.SOURCE_LOG_FIELD_NAME, INDEX_SRC_NAME).Logger()

	db, err := openDB(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open value index %s: %w", config.Path, err)
	}

	s := &Store{
		db:     db,
		path:   config.Path,
		logger: logger,
		names:  newNameMirror(),
	}
	s.scache.Resize(config.CacheSize)

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug().Str("path", config.Path).Int("names", s.names.Len()).Msg("value index opened")
	return s, nil
}

// openDB opens the bbolt file, retrying while another process holds the lock.
func openDB(config StoreConfig, logger zerolog.Logger) (*bbolt.DB, error) {
	var (
		db      *bbolt.DB
		openErr error
	)

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = config.MaxOpenDuration

	retryErr := backoff.RetryNotify(func() error {
		db, openErr = bbolt.Open(config.Path, DEFAULT_FILE_PERMS, &bbolt.Options{Timeout: DEFAULT_LOCK_TIMEOUT})
		if errors.Is(openErr, bbolt.ErrTimeout) {
			return openErr
		}
		return nil
	}, strategy, func(err error, next time.Duration) {
		logger.Debug().Err(err).Dur("next", next).Msg("value index is locked, retrying")
	})

	if retryErr != nil {
		return nil, retryErr
	}
	return db, openErr
}

func (s *Store) init() error {
	var entries []nameEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{NAMES_BUCKET, RECORDS_BUCKET, PARENTS_BUCKET, META_BUCKET} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(META_BUCKET)
		version := meta.Get(FORMAT_VERSION_KEY)
		if version == nil {
			if err := meta.Put(FORMAT_VERSION_KEY, []byte(FORMAT_VERSION)); err != nil {
				return err
			}
		} else if err := checkFormatVersion(string(version)); err != nil {
			return err
		}

		var err error
		entries, err = loadNames(tx.Bucket(NAMES_BUCKET))
		return err
	})
	if err != nil {
		return err
	}

	s.names.add(entries...)
	return nil
}

func checkFormatVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q", ErrIncompatibleFormat, version)
	}
	if v.Major() != CURRENT_FORMAT_VERSION.Major() {
		return fmt.Errorf("%w: version %s, expected %s", ErrIncompatibleFormat, v, FORMAT_VERSION)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.closed = true
	s.logger.Debug().Msg("close value index")
	return s.db.Close()
}

// Put encodes v and stores it under key, the names introduced by v are persisted in the same transaction.
func (s *Store) Put(key string, v plvalue.Value) error {
	if key == "" {
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

		data, err := valuecodec.NewEncoder(names).Encode(v)
		if err != nil {
			return err
		}
		added = names.added
		return tx.Bucket(RECORDS_BUCKET).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store record %s: %w", key, err)
	}

	s.names.add(added...)
	s.scache.Delete(key)
	return nil
}

// Get returns the value stored under key, decoded in the registry r. A corrupt record is
// discarded and an error wrapping valuecodec.ErrCorruptRecord is returned.
func (s *Store) Get(r *plvalue.Registry, key string) (plvalue.Value, bool, error) {
	v, found, data, err := s.get(r, key)

	if errors.Is(err, valuecodec.ErrCorruptRecord) {
		if _, discardErr := s.discardIfUnchanged(key, data, err); discardErr != nil {
			return nil, false, discardErr
		}
	}
	return v, found, err
}

// get also returns the record's data if it could not be decoded.
func (s *Store) get(r *plvalue.Registry, key string) (_ plvalue.Value, found bool, data []byte, _ error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, nil, ErrStoreClosed
	}

	epoch := r.Epoch()

	if cached, ok := s.scache.Get(key); ok {
		entry := cached.(cachedValue)
		if entry.epoch == epoch {
			return entry.value, true, nil, nil
		}
	}

	data, err := s.record(key)
	if err != nil || data == nil {
		return nil, false, nil, err
	}

	v, err := valuecodec.NewDecoder(r, s.names).Decode(data)
	if err != nil {
		return nil, false, data, fmt.Errorf("record %s: %w", key, err)
	}

	s.scache.Set(key, cachedValue{epoch: epoch, value: v})
	return v, true, nil, nil
}

// record returns a copy of the record stored under key or nil, s.mu should be locked.
func (s *Store) record(key string) (data []byte, _ error) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		record := tx.Bucket(RECORDS_BUCKET).Get([]byte(key))
		if record != nil {
			data = bytes.Clone(record)
		}
		return nil
	})
	return data, err
}

// cacheIfUnchanged caches a value decoded outside of s.mu, the value is not cached if
// the record was modified or removed since data was read.
func (s *Store) cacheIfUnchanged(key string, data []byte, entry cachedValue) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	current, err := s.record(key)
	if err != nil || current == nil || !bytes.Equal(current, data) {
		return false, err
	}

	s.scache.Set(key, entry)
	return true, nil
}

// discardIfUnchanged discards a record found corrupt outside of s.mu, the record is kept
// if it was modified since data was read.
func (s *Store) discardIfUnchanged(key string, data []byte, cause error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	discarded := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(RECORDS_BUCKET)
		current := records.Get([]byte(key))
		if current == nil || !bytes.Equal(current, data) {
			return nil
		}
		discarded = true
		return records.Delete([]byte(key))
	})
	if err != nil {
		return false, err
	}

	if discarded {
		s.scache.Delete(key)
		s.logger.Warn().Err(cause).Str("key", key).Msg("discard corrupt record")
	}
	return discarded, nil
}

func (s *Store) Has(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(RECORDS_BUCKET).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.scache.Delete(key)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(RECORDS_BUCKET).Delete([]byte(key))
	})
}

// Discard removes a record that could not be decoded, the indexing layer is expected to rebuild it.
func (s *Store) Discard(key string, cause error) error {
	s.logger.Warn().Err(cause).Str("key", key).Msg("discard corrupt record")
	return s.Delete(key)
}

// Keys returns the sorted keys of the records whose key starts with prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(RECORDS_BUCKET).Cursor()
		p := []byte(prefix)

		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// ForEach calls fn for each record whose key starts with prefix, in key order. Corrupt records
// are discarded and skipped. Iteration stops at the first error returned by fn.
func (s *Store) ForEach(r *plvalue.Registry, prefix string, fn func(key string, v plvalue.Value) error) error {
	keys, err := s.Keys(prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		v, found, err := s.Get(r, key)
		if errors.Is(err, valuecodec.ErrCorruptRecord) {
			continue
		}
		if err != nil {
			return err
		}
		if !found { //deleted concurrently
			continue
		}
		if err := fn(key, v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(RECORDS_BUCKET).Stats().KeyN
		return nil
	})
	return n, err
}

// NameCount returns the number of names in the name table.
func (s *Store) NameCount() int {
	return s.names.Len()
}

// readRecords returns a copy of the records whose key starts with prefix.
func (s *Store) readRecords(prefix string) (keys []string, records [][]byte, _ error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, ErrStoreClosed
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(RECORDS_BUCKET).Cursor()
		p := []byte(prefix)

		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			keys = append(keys, string(k))
			records = append(records, bytes.Clone(v))
		}
		return nil
	})
	return keys, records, err
}
