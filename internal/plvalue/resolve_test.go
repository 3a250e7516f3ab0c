package plvalue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type testScope struct {
	returnValues map[string]Value
	parents      map[string][]string
	lookups      int
}

func (s *testScope) SubReturnValue(namespaceName, subName string) (Value, bool) {
	s.lookups++
	v, ok := s.returnValues[namespaceName+"::"+subName]
	return v, ok
}

func (s *testScope) ParentNamespaces(namespaceName string) []string {
	return s.parents[namespaceName]
}

func TestResolveCalls(t *testing.T) {
	r := newTestRegistry()

	t.Run("function call", func(t *testing.T) {
		scope := &testScope{
			returnValues: map[string]Value{
				"Foo::get_class": r.Static("Bar"),
			},
		}
		call := r.CallStatic(r.Static("Foo"), r.Static("get_class"))
		rctx := NewResolutionContext(scope, DefaultResolutionOptions())

		assert.Equal(t, []string{"Bar"}, NamespaceNames(call, rctx).Names())
	})

	t.Run("function calls are not inherited", func(t *testing.T) {
		scope := &testScope{
			returnValues: map[string]Value{
				"Base::get_class": r.Static("Bar"),
			},
			parents: map[string][]string{
				"Foo": {"Base"},
			},
		}
		rctx := NewResolutionContext(scope, DefaultResolutionOptions())

		assert.True(t, NamespaceNames(r.CallStatic(r.Static("Foo"), r.Static("get_class")), rctx).IsEmpty())
		assert.Equal(t, []string{"Bar"}, NamespaceNames(r.CallMethod(r.Static("Foo"), r.Static("get_class")), rctx).Names())
	})

	t.Run("method resolution order", func(t *testing.T) {
		scope := &testScope{
			returnValues: map[string]Value{
				"Left::create":  r.Static("FromLeft"),
				"Right::create": r.Static("FromRight"),
				"Root::create":  r.Static("FromRoot"),
			},
			parents: map[string][]string{
				"Child": {"Middle", "Right"},
				"Middle": {"Root"},
				"Right":  {"Left"},
			},
		}
		rctx := NewResolutionContext(scope, DefaultResolutionOptions())
		call := r.CallMethod(r.Static("Child"), r.Static("create"))

		//depth-first: Child, Middle, Root
		assert.Equal(t, []string{"FromRoot"}, NamespaceNames(call, rctx).Names())
	})

	t.Run("inheritance cycle", func(t *testing.T) {
		scope := &testScope{
			parents: map[string][]string{
				"A": {"B"},
				"B": {"A"},
			},
		}
		rctx := NewResolutionContext(scope, ResolutionOptions{})

		assert.True(t, NamespaceNames(r.CallMethod(r.Static("A"), r.Static("missing")), rctx).IsEmpty())
		assert.Equal(t, 2, scope.lookups)
	})

	t.Run("constructor", func(t *testing.T) {
		rctx := NewResolutionContext(NO_SCOPE, DefaultResolutionOptions())
		call := r.CallMethod(r.OneOf(r.Static("Foo"), r.Static("Bar")), r.Static("new"))

		assert.Equal(t, []string{"Bar", "Foo"}, NamespaceNames(call, rctx).Names())
		assert.True(t, SubNames(call, rctx).IsEmpty())

		//only for method calls
		assert.True(t, NamespaceNames(r.CallStatic(r.Static("Foo"), r.Static("new")), rctx).IsEmpty())

		//configurable
		rctx = NewResolutionContext(NO_SCOPE, ResolutionOptions{ConstructorNames: []string{"create"}})
		assert.True(t, NamespaceNames(call, rctx).IsEmpty())
	})

	t.Run("object method call", func(t *testing.T) {
		scope := &testScope{
			returnValues: map[string]Value{
				"Foo::clone":   r.Bless(r.Reference(UNKNOWN), r.Static("Foo::Clone")),
				"Bar::handler": r.Reference(r.Static("Bar::handle")),
			},
		}
		rctx := NewResolutionContext(scope, DefaultResolutionOptions())

		object := r.Bless(r.Reference(UNKNOWN), r.Static("Foo"))
		assert.Equal(t, []string{"Foo::Clone"}, NamespaceNames(r.CallObject(object, r.Static("clone")), rctx).Names())

		other := r.Bless(r.Reference(UNKNOWN), r.Static("Bar"))
		assert.Equal(t, []string{"Bar::handle"}, SubNames(r.CallObject(other, r.Static("handler")), rctx).Names())
	})

	t.Run("method name built at runtime", func(t *testing.T) {
		scope := &testScope{
			returnValues: map[string]Value{
				"Foo::get_a": r.Static("A"),
				"Foo::get_b": r.Static("B"),
			},
		}
		rctx := NewResolutionContext(scope, DefaultResolutionOptions())

		method := r.Concat(r.Static("get_"), r.OneOf(r.Static("a"), r.Static("b")))
		call := r.CallMethod(r.Static("Foo"), method)

		diff := cmp.Diff([]string{"A", "B"}, NamespaceNames(call, rctx).Names())
		assert.Empty(t, diff)
	})

	t.Run("unknown operands", func(t *testing.T) {
		rctx := NewResolutionContext(NO_SCOPE, DefaultResolutionOptions())

		assert.True(t, NamespaceNames(r.CallMethod(UNKNOWN, r.Static("new")), rctx).IsEmpty())
		assert.True(t, NamespaceNames(r.CallMethod(r.Static("Foo"), UNKNOWN), rctx).IsEmpty())
		assert.True(t, NamespaceNames(r.CallObject(nil, nil), rctx).IsEmpty())
	})
}

func TestResolveCycles(t *testing.T) {

	t.Run("value returning itself", func(t *testing.T) {
		r := newTestRegistry()
		scope := &testScope{returnValues: map[string]Value{}}

		x := r.CallStatic(r.Static("Foo"), r.Static("loop"))
		scope.returnValues["Foo::loop"] = x

		rctx := NewResolutionContext(scope, DefaultResolutionOptions())
		assert.True(t, SubNames(x, rctx).IsEmpty())
		assert.Equal(t, 1, rctx.Steps())

		rctx = NewResolutionContext(scope, DefaultResolutionOptions())
		assert.True(t, NamespaceNames(x, rctx).IsEmpty())
		assert.Equal(t, 1, rctx.Steps())
	})

	t.Run("mutual recursion", func(t *testing.T) {
		r := newTestRegistry()
		scope := &testScope{returnValues: map[string]Value{}}

		a := r.CallMethod(r.Static("A"), r.Static("next"))
		b := r.CallMethod(r.Static("B"), r.Static("next"))

		scope.returnValues["A::next"] = r.OneOf(b, r.Static("FromA"))
		scope.returnValues["B::next"] = r.OneOf(a, r.Static("FromB"))

		rctx := NewResolutionContext(scope, DefaultResolutionOptions())
		assert.Equal(t, []string{"FromA", "FromB"}, NamespaceNames(a, rctx).Names())
		assert.Equal(t, 4, rctx.Steps())
	})

	t.Run("blessed into itself", func(t *testing.T) {
		r := newTestRegistry()
		scope := &testScope{returnValues: map[string]Value{}}

		call := r.CallStatic(r.Static("Foo"), r.Static("class"))
		object := r.Bless(r.Reference(UNKNOWN), call)
		scope.returnValues["Foo::class"] = r.CallObject(object, r.Static("class"))
		scope.parents = map[string][]string{}

		rctx := NewResolutionContext(scope, DefaultResolutionOptions())
		assert.True(t, NamespaceNames(object, rctx).IsEmpty())
	})
}

func TestResolutionContextSharing(t *testing.T) {
	r := newTestRegistry()
	scope := &testScope{
		returnValues: map[string]Value{
			"Foo::instance": r.Bless(r.Reference(UNKNOWN), r.Static("Foo")),
		},
	}

	call := r.CallMethod(r.Static("Foo"), r.Static("instance"))
	right := []Value{call, r.OneOf(call, r.Static("Bar"))}

	rctx := NewResolutionContext(scope, DefaultResolutionOptions())

	var names []NameSet
	for _, v := range right {
		names = append(names, NamespaceNames(v, rctx))
	}

	assert.Equal(t, []string{"Foo"}, names[0].Names())
	assert.Equal(t, []string{"Bar", "Foo"}, names[1].Names())
	//the call was only resolved once
	assert.Equal(t, 1, scope.lookups)
}

func TestNameSet(t *testing.T) {
	set := NewNameSet("b", "a", "b")

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("a"))
	assert.False(t, set.Has("c"))
	assert.Equal(t, []string{"a", "b"}, set.Names())
	assert.Equal(t, "{a, b}", set.String())

	assert.True(t, EMPTY_NAME_SET.IsEmpty())
	assert.False(t, EMPTY_NAME_SET.Has("a"))
	assert.Empty(t, EMPTY_NAME_SET.Names())

	union := unionNameSets(set, NewNameSet("c"), EMPTY_NAME_SET)
	assert.Equal(t, []string{"a", "b", "c"}, union.Names())
	assert.Equal(t, 2, set.Len())
}
