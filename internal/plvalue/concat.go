package plvalue

import "strings"

// A Concat represents a string built at runtime by concatenating values: "Foo::" . $suffix.
// Adjacent static parts are merged, so a Concat always has at least one non-static part.
type Concat struct {
	header
	parts []Value
}

// Concat returns the concatenation of parts, the concatenation of static values is a Static value.
func (r *Registry) Concat(parts ...Value) Value {
	var (
		merged  []Value
		pending strings.Builder
		hasText bool
	)

	flushText := func() {
		if hasText {
			merged = append(merged, r.Static(pending.String()))
			pending.Reset()
			hasText = false
		}
	}

	var add func(part Value)
	add = func(part Value) {
		switch p := part.(type) {
		case nil:
			add(UNKNOWN)
		case *Static:
			pending.WriteString(p.literal)
			hasText = true
		case *Concat:
			if p.bless != nil {
				flushText()
				merged = append(merged, p)
				return
			}
			for _, nested := range p.parts {
				add(nested)
			}
		default:
			flushText()
			merged = append(merged, p)
		}
	}

	for _, part := range parts {
		add(part)
	}
	flushText()

	switch len(merged) {
	case 0:
		return r.Static("")
	case 1:
		return merged[0]
	}
	return r.intern(newConcat(nil, merged))
}

func newConcat(bless Value, parts []Value) *Concat {
	return &Concat{
		header: newHeader(KindConcat, bless, hashValues(hashInit, parts)),
		parts:  parts,
	}
}

func (c *Concat) Kind() Kind {
	return KindConcat
}

func (c *Concat) Parts() []Value {
	return append([]Value(nil), c.parts...)
}

func (c *Concat) children() []Value {
	return c.parts
}

func (c *Concat) createBlessedCopy(r *Registry, bless Value) Value {
	return r.intern(newConcat(bless, c.parts))
}

func (c *Concat) namespaceNames(rctx *ResolutionContext) NameSet {
	return c.product(rctx, namespaceRole)
}

func (c *Concat) subNames(rctx *ResolutionContext) NameSet {
	return c.product(rctx, subRole)
}

// product returns all the concatenations of the names of the parts, or no names if there are too many.
func (c *Concat) product(rctx *ResolutionContext, r role) NameSet {
	limit := rctx.options.MaxConcatCandidates
	candidates := []string{""}

	for _, part := range c.parts {
		partNames := rctx.names(part, r)
		if partNames.IsEmpty() || len(candidates)*partNames.Len() > limit {
			return EMPTY_NAME_SET
		}

		next := make([]string, 0, len(candidates)*partNames.Len())
		for _, prefix := range candidates {
			partNames.ForEach(func(name string) bool {
				next = append(next, prefix+name)
				return true
			})
		}
		candidates = next
	}

	return NewNameSet(candidates...)
}

func (c *Concat) CanRepresentNamespace(name string) bool {
	if result, blessed := c.blessCanRepresentNamespace(name); blessed {
		return result
	}
	return c.canRepresent(name)
}

func (c *Concat) CanRepresentSubName(name string) bool {
	return c.canRepresent(name)
}

// canRepresent checks the static prefix and suffix of the concatenation. A concatenation with
// an unknown part represents no name, like its name sets.
func (c *Concat) canRepresent(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range c.parts {
		if part.Kind() == KindUnknown {
			return false
		}
	}

	prefix, suffix := "", ""
	if first, ok := c.parts[0].(*Static); ok {
		prefix = first.literal
	}
	if last, ok := c.parts[len(c.parts)-1].(*Static); ok {
		suffix = last.literal
	}

	return len(name) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix)
}

func (c *Concat) appendPayloadKey(key []byte) []byte {
	return appendChildKeys(key, c.parts)
}

func (c *Concat) equalPayload(other Value) bool {
	return equalSlices(c.parts, other.(*Concat).parts)
}

func (c *Concat) comparePayload(other Value) int {
	return compareSlices(c.parts, other.(*Concat).parts)
}

func (c *Concat) String() string {
	var b strings.Builder
	for i, part := range c.parts {
		if i > 0 {
			b.WriteString(" . ")
		}
		if static, ok := part.(*Static); ok {
			b.WriteByte('"')
			b.WriteString(static.literal)
			b.WriteByte('"')
		} else {
			b.WriteString(part.String())
		}
	}
	return c.render(b.String())
}
