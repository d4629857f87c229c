// Package factored implements the "collection plus complement set"
// container the CRG builder uses to annotate transitions with per-agent
// action-dependency and state-influence sets.
//
// At most one explicit item is held per owning agent (an "explicit
// branch": this exact item), or — independently — an "other" exclusion set
// per agent (any item not in that set). An item matches the collection if
// it equals the explicit item for its agent, or if an other-set is present
// for its agent and the item is absent from it.
package factored

// Item is anything a Collection can hold: it must know which agent it
// belongs to and support equality.
type Item[T any] interface {
	OwnerAgent() int
	EqualItem(T) bool
}

// Collection holds at most one explicit item per agent plus, independently,
// an optional complement exclusion set per agent.
type Collection[T Item[T]] struct {
	explicit map[int]T
	other    map[int][]T
}

// New creates an empty Collection.
func New[T Item[T]]() *Collection[T] {
	return &Collection[T]{explicit: make(map[int]T), other: make(map[int][]T)}
}

// Copy returns a deep-enough copy (the per-agent slices are copied; items
// themselves are assumed immutable value types).
func (c *Collection[T]) Copy() *Collection[T] {
	cp := New[T]()
	for k, v := range c.explicit {
		cp.explicit[k] = v
	}
	for k, v := range c.other {
		cp.other[k] = append([]T(nil), v...)
	}
	return cp
}

// Add records obj as the (unique) explicit item for its owning agent. It
// panics if that agent already has an explicit item — the collection holds
// at most one item per agent, matching the original's duplicate-agent
// assertion.
func (c *Collection[T]) Add(obj T) {
	a := obj.OwnerAgent()
	if _, ok := c.explicit[a]; ok {
		panic("factored: agent already has an explicit item in collection")
	}
	c.explicit[a] = obj
}

// Remove clears the explicit item held for agent a, if any.
func (c *Collection[T]) Remove(a int) { delete(c.explicit, a) }

// Has reports whether the collection has an explicit item for agent a. This
// intentionally does not consider the "other" set — it asks only whether an
// explicit branch exists, matching the transition-matching rule in §4.3.4.
func (c *Collection[T]) Has(a int) bool {
	_, ok := c.explicit[a]
	return ok
}

// Get returns the explicit item stored for agent a, if any.
func (c *Collection[T]) Get(a int) (T, bool) {
	v, ok := c.explicit[a]
	return v, ok
}

// Agents returns the set of agents that have an explicit item.
func (c *Collection[T]) Agents() []int {
	ids := make([]int, 0, len(c.explicit))
	for a := range c.explicit {
		ids = append(ids, a)
	}
	return ids
}

// SetOther sets the complement exclusion set for agent a. It panics if the
// collection already has an explicit item for a, or an other-set is already
// present, mirroring the original's assertions.
func (c *Collection[T]) SetOther(a int, other []T) {
	if _, ok := c.explicit[a]; ok {
		panic("factored: the explicit collection already contains an item for this agent")
	}
	if _, ok := c.other[a]; ok {
		panic("factored: an other set is already set for this agent")
	}
	c.other[a] = append([]T(nil), other...)
}

// ClearOther removes the complement set for agent a.
func (c *Collection[T]) ClearOther(a int) { delete(c.other, a) }

// HasOther reports whether a complement set is present for agent a.
func (c *Collection[T]) HasOther(a int) bool {
	_, ok := c.other[a]
	return ok
}

// Other returns the complement exclusion set for agent a.
func (c *Collection[T]) Other(a int) []T { return c.other[a] }

// Matches reports whether obj matches this collection: either it equals the
// explicit item stored for its agent, or an other-set is present for its
// agent and obj is not among its members.
func (c *Collection[T]) Matches(obj T) bool {
	a := obj.OwnerAgent()
	if v, ok := c.explicit[a]; ok && v.EqualItem(obj) {
		return true
	}
	if others, ok := c.other[a]; ok {
		for _, o := range others {
			if o.EqualItem(obj) {
				return false
			}
		}
		return true
	}
	return false
}
