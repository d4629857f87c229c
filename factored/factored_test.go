package factored

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	agent int
	name  string
}

func (i item) OwnerAgent() int          { return i.agent }
func (i item) EqualItem(o item) bool    { return i == o }

func TestMatchesExplicit(t *testing.T) {
	c := New[item]()
	x := item{agent: 1, name: "x"}
	c.Add(x)
	assert.True(t, c.Matches(x))
	assert.False(t, c.Matches(item{agent: 1, name: "y"}))
}

func TestMatchesOtherExcludes(t *testing.T) {
	c := New[item]()
	excluded := item{agent: 2, name: "bad"}
	c.SetOther(2, []item{excluded})

	assert.False(t, c.Matches(excluded))
	assert.True(t, c.Matches(item{agent: 2, name: "anything-else"}))
}

func TestMatchesNoBranchNoMatch(t *testing.T) {
	c := New[item]()
	assert.False(t, c.Matches(item{agent: 3, name: "z"}))
}

func TestAddPanicsOnDuplicateAgent(t *testing.T) {
	c := New[item]()
	c.Add(item{agent: 1, name: "x"})
	assert.Panics(t, func() { c.Add(item{agent: 1, name: "y"}) })
}

func TestSetOtherPanicsWithExplicit(t *testing.T) {
	c := New[item]()
	c.Add(item{agent: 1, name: "x"})
	assert.Panics(t, func() { c.SetOther(1, nil) })
}

func TestCopyIsIndependent(t *testing.T) {
	c := New[item]()
	c.Add(item{agent: 1, name: "x"})
	c.SetOther(2, []item{{agent: 2, name: "bad"}})

	cp := c.Copy()
	cp.Remove(1)
	cp.ClearOther(2)

	require.True(t, c.Has(1))
	require.True(t, c.HasOther(2))
	assert.False(t, cp.Has(1))
	assert.False(t, cp.HasOther(2))
}
