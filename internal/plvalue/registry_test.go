package plvalue

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestRegistryInterning(t *testing.T) {

	t.Run("static", func(t *testing.T) {
		r := newTestRegistry()

		a := r.Static("Foo::Bar")
		b := r.Static("Foo::Bar")

		assert.Same(t, a, b)
		assert.NotSame(t, a, r.Static("Foo"))
		assert.Equal(t, 2, r.Len())
	})

	t.Run("composite", func(t *testing.T) {
		r := newTestRegistry()

		call1 := r.CallMethod(r.Static("Foo"), r.Static("new"), r.StaticInt(1))
		call2 := r.CallMethod(r.Static("Foo"), r.Static("new"), r.StaticInt(1))
		assert.Same(t, call1, call2)

		//same operands but function call instead of method call
		call3 := r.CallStatic(r.Static("Foo"), r.Static("new"), r.StaticInt(1))
		assert.NotSame(t, call1, call3)
		assert.False(t, Equal(call1, call3))
	})

	t.Run("blessed", func(t *testing.T) {
		r := newTestRegistry()

		ref := r.Reference(UNKNOWN)
		blessed1 := r.Bless(ref, r.Static("Foo"))
		blessed2 := r.Bless(r.Reference(UNKNOWN), r.Static("Foo"))

		assert.Same(t, blessed1, blessed2)
		assert.NotSame(t, ref, blessed1)
		assert.Nil(t, ref.Bless())
		assert.Same(t, r.Static("Foo"), blessed1.Bless())
	})

	t.Run("concurrent creation of equal values", func(t *testing.T) {
		r := newTestRegistry()

		const goroutines = 16
		results := make([]Value, goroutines)

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(i int) {
				defer wg.Done()
				results[i] = r.OneOf(
					r.CallObject(r.Reference(r.Static("x")), r.Static("get")),
					r.Static("Foo"),
				)
			}(i)
		}
		wg.Wait()

		for _, result := range results[1:] {
			assert.Same(t, results[0], result)
		}
	})

	t.Run("ids are distinct", func(t *testing.T) {
		r := newTestRegistry()

		a := r.Static("a")
		b := r.Static("b")
		ref := r.Reference(a)

		assert.NotZero(t, a.ID())
		assert.NotZero(t, b.ID())
		assert.NotZero(t, ref.ID())
		assert.NotEqual(t, a.ID(), b.ID())
		assert.NotEqual(t, a.ID(), ref.ID())
		assert.Zero(t, UNKNOWN.ID())
	})
}

func TestRegistryClear(t *testing.T) {
	r := newTestRegistry()

	before := r.Static("Foo")
	epoch := r.Epoch()

	r.Clear()

	assert.NotEqual(t, epoch, r.Epoch())
	assert.Zero(t, r.Len())

	after := r.Static("Foo")
	assert.NotSame(t, before, after)
	assert.True(t, Equal(before, after))
	assert.Equal(t, before.Hash(), after.Hash())
}

func TestRegistryContractViolations(t *testing.T) {

	t.Run("value of a previous epoch", func(t *testing.T) {
		r := newTestRegistry()
		old := r.Static("Foo")
		r.Clear()

		assert.PanicsWithValue(t, ErrForeignEpoch, func() {
			r.Reference(old)
		})
	})

	t.Run("value of another registry", func(t *testing.T) {
		r1 := newTestRegistry()
		r2 := newTestRegistry()

		assert.PanicsWithValue(t, ErrForeignEpoch, func() {
			r2.OneOf(r1.Static("a"), r1.Static("b"))
		})
	})

	t.Run("value not created by a registry", func(t *testing.T) {
		r := newTestRegistry()

		assert.PanicsWithValue(t, ErrNotInterned, func() {
			r.Deref(&Static{literal: "Foo"})
		})
	})

	t.Run("UNKNOWN is valid in every epoch", func(t *testing.T) {
		r := newTestRegistry()
		r.Clear()

		assert.NotPanics(t, func() {
			r.Reference(UNKNOWN)
		})
	})
}

func TestKindIds(t *testing.T) {
	//persisted ids, they must never change.
	expected := map[Kind]uint64{
		KindUnknown:    1,
		KindStatic:     2,
		KindOneOf:      3,
		KindReference:  4,
		KindDeref:      5,
		KindCallStatic: 6,
		KindCallObject: 7,
		KindConcat:     8,
	}

	for kind, id := range expected {
		assert.Equal(t, id, KindID(kind), kind.String())

		k, ok := KindForID(id)
		if assert.True(t, ok) {
			assert.Equal(t, kind, k)
		}
	}

	_, ok := KindForID(NO_VALUE_ID)
	assert.False(t, ok)

	_, ok = KindForID(1000)
	assert.False(t, ok)
}
