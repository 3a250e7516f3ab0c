package valueindex

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/valuecodec"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "values.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if !store.IsClosed() {
			store.Close()
		}
	})
	return store
}

func putRawRecord(t *testing.T, store *Store, key string, data []byte) {
	t.Helper()

	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(RECORDS_BUCKET).Put([]byte(key), data)
	})
	require.NoError(t, err)
}

func TestStorePutGet(t *testing.T) {

	t.Run("same registry", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		v := r.CallMethod(r.Static("Foo"), r.Static("new"), r.StaticInt(3))
		if !assert.NoError(t, store.Put("a", v)) {
			return
		}

		got, found, err := store.Get(r, "a")
		if !assert.NoError(t, err) {
			return
		}
		assert.True(t, found)
		assert.Same(t, v, got)

		//cached
		got, _, _ = store.Get(r, "a")
		assert.Same(t, v, got)

		assert.Equal(t, 3, store.NameCount())
	})

	t.Run("missing record", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		v, found, err := store.Get(r, "missing")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("cleared registry", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		before := r.Bless(r.Reference(plvalue.UNKNOWN), r.Static("Foo"))
		require.NoError(t, store.Put("a", before))

		_, _, err := store.Get(r, "a")
		require.NoError(t, err)

		r.Clear()

		after, found, err := store.Get(r, "a")
		if !assert.NoError(t, err) {
			return
		}
		assert.True(t, found)
		assert.NotSame(t, before, after)
		assert.True(t, plvalue.Equal(before, after))

		//the new value can be used by the factories of the new epoch.
		assert.NotPanics(t, func() {
			r.OneOf(after, r.Static("Bar"))
		})
	})

	t.Run("overwrite", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		require.NoError(t, store.Put("a", r.Static("Foo")))
		_, _, err := store.Get(r, "a")
		require.NoError(t, err)

		require.NoError(t, store.Put("a", r.Static("Bar")))

		got, _, err := store.Get(r, "a")
		if assert.NoError(t, err) {
			assert.Same(t, r.Static("Bar"), got)
		}
	})

	t.Run("reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "values.db")

		store, err := Open(StoreConfig{Path: path, Logger: zerolog.Nop()})
		require.NoError(t, err)

		r := plvalue.NewRegistry(zerolog.Nop())
		v := r.Concat(r.Static("Foo::"), r.Deref(r.Static("name")))
		require.NoError(t, store.Put("a", v))
		require.NoError(t, store.PutParents("Foo", []string{"Base"}))
		require.NoError(t, store.Close())

		store, err = Open(StoreConfig{Path: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer store.Close()

		other := plvalue.NewRegistry(zerolog.Nop())
		got, found, err := store.Get(other, "a")
		if !assert.NoError(t, err) {
			return
		}
		assert.True(t, found)
		assert.True(t, plvalue.Equal(v, got))

		//new names get fresh ids
		require.NoError(t, store.Put("b", other.Static("Bar")))
		got, _, err = store.Get(other, "b")
		if assert.NoError(t, err) {
			assert.Same(t, other.Static("Bar"), got)
		}

		parents, err := store.Parents("Foo")
		assert.NoError(t, err)
		assert.Equal(t, []string{"Base"}, parents)
	})

	t.Run("invalid key", func(t *testing.T) {
		store := openTestStore(t)
		assert.ErrorIs(t, store.Put("", plvalue.UNKNOWN), ErrInvalidKey)
	})
}

func TestStoreCorruptRecord(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	putRawRecord(t, store, "corrupt", []byte{99, 0})

	v, found, err := store.Get(r, "corrupt")
	assert.Nil(t, v)
	assert.False(t, found)
	assert.ErrorIs(t, err, valuecodec.ErrCorruptRecord)

	//the record is discarded
	has, err := store.Has("corrupt")
	assert.NoError(t, err)
	assert.False(t, has)
}

func TestStoreKeys(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	require.NoError(t, store.PutSubReturnValue("Foo", "new", r.Static("Foo")))
	require.NoError(t, store.PutSubReturnValue("Bar", "new", r.Static("Bar")))
	require.NoError(t, store.Put("other", r.Static("x")))
	putRawRecord(t, store, "sub:Corrupt::new", []byte{2, 200})

	keys, err := store.Keys(SUB_KEY_PREFIX)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, []string{"sub:Bar::new", "sub:Corrupt::new", "sub:Foo::new"}, keys)

	var visited []string
	err = store.ForEach(r, SUB_KEY_PREFIX, func(key string, v plvalue.Value) error {
		visited = append(visited, key+"="+v.String())
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"sub:Bar::new=Bar", "sub:Foo::new=Foo"}, visited)

	n, err := store.Len()
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.Delete("other"))
	has, _ := store.Has("other")
	assert.False(t, has)
}

func TestStoreFormatVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.db")

	store, err := Open(StoreConfig{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(META_BUCKET).Put(FORMAT_VERSION_KEY, []byte("2.0.0"))
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(StoreConfig{Path: path, Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrIncompatibleFormat)

	assert.NoError(t, checkFormatVersion("1.4.0"))
	assert.ErrorIs(t, checkFormatVersion("x"), ErrIncompatibleFormat)
}

func TestOpenLockedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.db")

	store, err := Open(StoreConfig{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer store.Close()

	_, err = Open(StoreConfig{Path: path, Logger: zerolog.Nop(), MaxOpenDuration: 50 * time.Millisecond})
	assert.ErrorIs(t, err, bbolt.ErrTimeout)
}

func TestStoreClosed(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Close(), ErrStoreClosed)
	assert.ErrorIs(t, store.Put("a", r.Static("Foo")), ErrStoreClosed)

	_, _, err := store.Get(r, "a")
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.Keys("")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestPreload(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	values := map[string]plvalue.Value{
		"a": r.Static("Foo"),
		"b": r.OneOf(r.Static("Foo"), r.Static("Bar")),
		"c": r.CallObject(r.Bless(r.Reference(plvalue.UNKNOWN), r.Static("Foo")), r.Static("clone")),
	}
	for key, v := range values {
		require.NoError(t, store.Put(key, v))
	}
	putRawRecord(t, store, "d", []byte{4, 0})
	putRawRecord(t, store, "e", []byte{2, 0, 0})

	other := plvalue.NewRegistry(zerolog.Nop())

	result, err := store.Preload(context.Background(), other)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, 3, result.Loaded)
	assert.Equal(t, []string{"d", "e"}, result.Discarded)

	n, _ := store.Len()
	assert.Equal(t, 3, n)

	for key, v := range values {
		got, found, err := store.Get(other, key)
		if assert.NoError(t, err) && assert.True(t, found) {
			assert.True(t, plvalue.Equal(v, got))
		}
	}

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Preload(ctx, other)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPreloadModifiedRecords(t *testing.T) {

	t.Run("value of a replaced record is not cached", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		require.NoError(t, store.Put("a", r.Static("Foo")))
		_, records, err := store.readRecords("a")
		require.NoError(t, err)

		require.NoError(t, store.Put("a", r.Static("Bar")))

		old, err := valuecodec.NewDecoder(r, store.names).Decode(records[0])
		require.NoError(t, err)

		cached, err := store.cacheIfUnchanged("a", records[0], cachedValue{epoch: r.Epoch(), value: old})
		assert.NoError(t, err)
		assert.False(t, cached)

		v, found, err := store.Get(r, "a")
		if assert.NoError(t, err) && assert.True(t, found) {
			assert.Same(t, r.Static("Bar"), v)
		}
	})

	t.Run("replaced corrupt record is kept", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		putRawRecord(t, store, "b", []byte{4, 0})
		_, records, err := store.readRecords("b")
		require.NoError(t, err)

		require.NoError(t, store.Put("b", r.Static("Foo")))

		discarded, err := store.discardIfUnchanged("b", records[0], valuecodec.ErrCorruptRecord)
		assert.NoError(t, err)
		assert.False(t, discarded)

		v, found, err := store.Get(r, "b")
		if assert.NoError(t, err) && assert.True(t, found) {
			assert.Same(t, r.Static("Foo"), v)
		}
	})

	t.Run("puts during preloading", func(t *testing.T) {
		store := openTestStore(t)
		r := plvalue.NewRegistry(zerolog.Nop())

		var keys []string
		for i := 0; i < 50; i++ {
			key := fmt.Sprintf("k%d", i)
			keys = append(keys, key)
			require.NoError(t, store.Put(key, r.Static("old")))
		}

		putErr := make(chan error, 1)
		go func() {
			for _, key := range keys {
				if err := store.Put(key, r.Static("new")); err != nil {
					putErr <- err
					return
				}
			}
			putErr <- nil
		}()

		_, err := store.Preload(context.Background(), r)
		assert.NoError(t, err)
		require.NoError(t, <-putErr)

		for _, key := range keys {
			v, found, err := store.Get(r, key)
			if assert.NoError(t, err) && assert.True(t, found) {
				assert.Same(t, r.Static("new"), v, key)
			}
		}
	})
}

func TestStoreDiscard(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	require.NoError(t, store.Put("a", r.Static("Foo")))
	_, _, err := store.Get(r, "a")
	require.NoError(t, err)

	require.NoError(t, store.Discard("a", valuecodec.ErrCorruptRecord))

	//the cached value is dropped too
	_, found, err := store.Get(r, "a")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestStorePutTooDeepValue(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	v := r.Static("Foo")
	for i := 0; i <= valuecodec.MAX_VALUE_DEPTH; i++ {
		v = r.Reference(v)
	}

	err := store.Put("deep", v)
	assert.ErrorIs(t, err, valuecodec.ErrTooDeep)

	has, err := store.Has("deep")
	assert.NoError(t, err)
	assert.False(t, has)
}

func TestExportImport(t *testing.T) {
	source := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	call := r.CallMethod(r.Static("Foo"), r.Static("new"))
	require.NoError(t, source.PutSubReturnValue("Foo", "instance", call))
	require.NoError(t, source.PutSubReturnValue("Bar", "name", r.Static("")))
	require.NoError(t, source.PutParents("Foo", []string{"Base", "Exporter"}))

	var buf bytes.Buffer
	require.NoError(t, source.Export(&buf))
	snapshot := buf.Bytes()

	t.Run("import into an empty store", func(t *testing.T) {
		target := openTestStore(t)

		if !assert.NoError(t, target.Import(bytes.NewReader(snapshot))) {
			return
		}

		other := plvalue.NewRegistry(zerolog.Nop())
		got, found, err := target.Get(other, SubKey("Foo", "instance"))
		if assert.NoError(t, err) && assert.True(t, found) {
			assert.True(t, plvalue.Equal(call, got))
		}

		got, _, err = target.Get(other, SubKey("Bar", "name"))
		if assert.NoError(t, err) {
			assert.Same(t, other.Static(""), got)
		}

		parents, err := target.Parents("Foo")
		assert.NoError(t, err)
		assert.Equal(t, []string{"Base", "Exporter"}, parents)

		//imported ids are not reused
		require.NoError(t, target.Put("new", other.Static("NewName")))
		got, _, err = target.Get(other, "new")
		if assert.NoError(t, err) {
			assert.Same(t, other.Static("NewName"), got)
		}
		got, _, err = target.Get(plvalue.NewRegistry(zerolog.Nop()), SubKey("Foo", "instance"))
		if assert.NoError(t, err) {
			assert.True(t, plvalue.Equal(call, got))
		}
	})

	t.Run("import into a non empty store", func(t *testing.T) {
		assert.ErrorIs(t, source.Import(bytes.NewReader(snapshot)), ErrNotEmpty)
	})

	t.Run("invalid snapshot", func(t *testing.T) {
		target := openTestStore(t)

		var buf bytes.Buffer
		encoder, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = encoder.Write([]byte("NOPE"))
		require.NoError(t, err)
		require.NoError(t, encoder.Close())

		assert.ErrorIs(t, target.Import(&buf), ErrInvalidSnapshot)

		n, _ := target.Len()
		assert.Zero(t, n)
	})
}

func TestScope(t *testing.T) {
	store := openTestStore(t)
	r := plvalue.NewRegistry(zerolog.Nop())

	require.NoError(t, store.PutParents("Child", []string{"Middle", "Right"}))
	require.NoError(t, store.PutParents("Middle", []string{"Root"}))
	require.NoError(t, store.PutSubReturnValue("Right", "create", r.Static("FromRight")))
	require.NoError(t, store.PutSubReturnValue("Root", "create", r.Static("FromRoot")))
	putRawRecord(t, store, SubKey("Broken", "create"), []byte{3, 0})

	scope := store.Scope(r)

	parents := scope.ParentNamespaces("Child")
	assert.Equal(t, []string{"Middle", "Right"}, parents)
	assert.Nil(t, scope.ParentNamespaces("Unknown"))

	rctx := plvalue.NewResolutionContext(scope, plvalue.DefaultResolutionOptions())
	call := r.CallMethod(r.Static("Child"), r.Static("create"))
	assert.Equal(t, []string{"FromRoot"}, plvalue.NamespaceNames(call, rctx).Names())

	//corrupt records are treated as absent
	v, found := scope.SubReturnValue("Broken", "create")
	assert.Nil(t, v)
	assert.False(t, found)
}
