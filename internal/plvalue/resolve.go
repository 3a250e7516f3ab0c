package plvalue

import (
	"github.com/bits-and-blooms/bitset"
)

const (
	DEFAULT_MAX_CONCAT_CANDIDATES = 64
	DEFAULT_CONSTRUCTOR_NAME      = "new"
)

// A Scope gives access to the facts collected by the indexing layer.
type Scope interface {
	// SubReturnValue returns the value returned by the sub named subName declared in the namespace namespaceName.
	SubReturnValue(namespaceName, subName string) (Value, bool)

	// ParentNamespaces returns the direct parents of namespaceName (@ISA), in declaration order.
	ParentNamespaces(namespaceName string) []string
}

// NO_SCOPE knows nothing.
var NO_SCOPE Scope = noScope{}

type noScope struct{}

func (noScope) SubReturnValue(namespaceName, subName string) (Value, bool) {
	return nil, false
}

func (noScope) ParentNamespaces(namespaceName string) []string {
	return nil
}

type ResolutionOptions struct {
	// MaxConcatCandidates is the maximum number of names a Concat value can resolve to,
	// a Concat value exceeding it resolves to no names.
	MaxConcatCandidates int

	// ConstructorNames are the names of the methods assumed to return an instance of their
	// invocant when the scope knows nothing about them.
	ConstructorNames []string
}

func DefaultResolutionOptions() ResolutionOptions {
	return ResolutionOptions{
		MaxConcatCandidates: DEFAULT_MAX_CONCAT_CANDIDATES,
		ConstructorNames:    []string{DEFAULT_CONSTRUCTOR_NAME},
	}
}

type role int

const (
	namespaceRole role = iota
	subRole
)

// A ResolutionContext is the per-request bookkeeping of the resolution of values into names.
// It can be shared by the resolutions of related values within a single request (e.g. all the values
// of the right side of an assignment) but never between requests. It is NOT thread safe.
//
// A composite value is marked as visited before its children are resolved: a value encountered
// while it is still being resolved contributes no names, a value encountered after its resolution
// contributes its memoized names. The visited sets only grow, so the number of resolution steps
// is bounded by the number of distinct values.
type ResolutionContext struct {
	scope   Scope
	options ResolutionOptions

	visited  [2]*bitset.BitSet
	resolved [2]map[uint32]NameSet
	steps    int
}

func NewResolutionContext(scope Scope, options ResolutionOptions) *ResolutionContext {
	if scope == nil {
		scope = NO_SCOPE
	}
	if options.MaxConcatCandidates <= 0 {
		options.MaxConcatCandidates = DEFAULT_MAX_CONCAT_CANDIDATES
	}

	return &ResolutionContext{
		scope:   scope,
		options: options,
		visited: [2]*bitset.BitSet{bitset.New(64), bitset.New(64)},
		resolved: [2]map[uint32]NameSet{
			make(map[uint32]NameSet),
			make(map[uint32]NameSet),
		},
	}
}

func (c *ResolutionContext) Scope() Scope {
	return c.scope
}

// Steps returns the number of composite values whose resolution was started.
func (c *ResolutionContext) Steps() int {
	return c.steps
}

// NamespaceNames returns the names of the namespaces v may denote at runtime.
// A nil rctx is replaced by a fresh context without scope.
func NamespaceNames(v Value, rctx *ResolutionContext) NameSet {
	if v == nil {
		return EMPTY_NAME_SET
	}
	if rctx == nil {
		rctx = NewResolutionContext(NO_SCOPE, DefaultResolutionOptions())
	}

	if bless := v.Bless(); bless != nil {
		return rctx.walk(v, namespaceRole, func() NameSet {
			return NamespaceNames(bless, rctx)
		})
	}

	return rctx.walk(v, namespaceRole, func() NameSet {
		return v.namespaceNames(rctx)
	})
}

// SubNames returns the names of the subs v may denote at runtime.
// A nil rctx is replaced by a fresh context without scope.
func SubNames(v Value, rctx *ResolutionContext) NameSet {
	if v == nil {
		return EMPTY_NAME_SET
	}
	if rctx == nil {
		rctx = NewResolutionContext(NO_SCOPE, DefaultResolutionOptions())
	}

	return rctx.walk(v, subRole, func() NameSet {
		return v.subNames(rctx)
	})
}

func (c *ResolutionContext) names(v Value, r role) NameSet {
	if r == namespaceRole {
		return NamespaceNames(v, c)
	}
	return SubNames(v, c)
}

func (c *ResolutionContext) walk(v Value, r role, compute func() NameSet) NameSet {
	id := v.ID()
	if id == 0 || v.Kind() == KindStatic { //leaf
		return compute()
	}

	if c.visited[r].Test(uint(id)) {
		//empty if the value is still being resolved (cycle)
		return c.resolved[r][id]
	}

	c.visited[r].Set(uint(id))
	c.steps++

	result := compute()
	c.resolved[r][id] = result
	return result
}

func (c *ResolutionContext) isConstructor(subName string) bool {
	for _, name := range c.options.ConstructorNames {
		if name == subName {
			return true
		}
	}
	return false
}

// callNames resolves the names of the results of calling the subs named by subOperand
// in each namespace of namespaces. Method calls look up the parent namespaces too.
func (c *ResolutionContext) callNames(namespaces NameSet, subOperand Value, method bool, r role) NameSet {
	if namespaces.IsEmpty() {
		return EMPTY_NAME_SET
	}
	subNames := SubNames(subOperand, c)
	if subNames.IsEmpty() {
		return EMPTY_NAME_SET
	}

	var results []NameSet

	namespaces.ForEach(func(namespace string) bool {
		subNames.ForEach(func(subName string) bool {
			returnValue, ok := c.findSubReturnValue(namespace, subName, method)
			if ok {
				results = append(results, c.names(returnValue, r))
			} else if method && r == namespaceRole && c.isConstructor(subName) {
				results = append(results, NewNameSet(namespace))
			}
			return true
		})
		return true
	})

	return unionNameSets(results...)
}

// findSubReturnValue searches the sub in namespace and, for method calls, in its parents (depth-first, left to right).
func (c *ResolutionContext) findSubReturnValue(namespace, subName string, method bool) (Value, bool) {
	if !method {
		return c.scope.SubReturnValue(namespace, subName)
	}

	seen := map[string]struct{}{}
	stack := []string{namespace}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := seen[current]; ok {
			continue
		}
		seen[current] = struct{}{}

		if value, ok := c.scope.SubReturnValue(current, subName); ok {
			return value, true
		}

		parents := c.scope.ParentNamespaces(current)
		for i := len(parents) - 1; i >= 0; i-- {
			stack = append(stack, parents[i])
		}
	}
	return nil, false
}
