package plvalue

import (
	"strings"

	"github.com/tidwall/btree"
)

// A NameSet is an immutable sorted set of namespace names or sub names. The zero value is the empty set.
// The empty string is not a name, it is never part of a set.
type NameSet struct {
	set *btree.Set[string]
}

var EMPTY_NAME_SET = NameSet{}

func NewNameSet(names ...string) NameSet {
	var set *btree.Set[string]
	for _, name := range names {
		if name == "" {
			continue
		}
		if set == nil {
			set = &btree.Set[string]{}
		}
		set.Insert(name)
	}
	if set == nil {
		return EMPTY_NAME_SET
	}
	return NameSet{set: set}
}

func (s NameSet) Len() int {
	if s.set == nil {
		return 0
	}
	return s.set.Len()
}

func (s NameSet) IsEmpty() bool {
	return s.Len() == 0
}

func (s NameSet) Has(name string) bool {
	if s.set == nil {
		return false
	}
	return s.set.Contains(name)
}

// ForEach calls fn for each name in ascending order until fn returns false.
func (s NameSet) ForEach(fn func(name string) bool) {
	if s.set == nil {
		return
	}
	s.set.Scan(fn)
}

// Names returns the names in ascending order.
func (s NameSet) Names() []string {
	names := make([]string, 0, s.Len())
	s.ForEach(func(name string) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (s NameSet) String() string {
	return "{" + strings.Join(s.Names(), ", ") + "}"
}

func unionNameSets(sets ...NameSet) NameSet {
	var nonEmpty []NameSet
	for _, set := range sets {
		if !set.IsEmpty() {
			nonEmpty = append(nonEmpty, set)
		}
	}

	switch len(nonEmpty) {
	case 0:
		return EMPTY_NAME_SET
	case 1:
		return nonEmpty[0]
	}

	union := &btree.Set[string]{}
	for _, set := range nonEmpty {
		set.ForEach(func(name string) bool {
			union.Insert(name)
			return true
		})
	}
	return NameSet{set: union}
}
