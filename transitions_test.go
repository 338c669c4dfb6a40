package goflow_test

import (
	"testing"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/stretchr/testify/assert"
)

func TestTransitionsDefaultSlot(t *testing.T) {
	tr := goflow.NewTransitions()
	a := nodes.NewBaseNode("a")
	b := nodes.NewBaseNode("b")

	_, ok := tr.Lookup(goflow.NoAction)
	assert.False(t, ok)

	assert.Nil(t, tr.Set(goflow.NoAction, a))
	tr.Set("default", b)

	next, ok := tr.Lookup(goflow.NoAction)
	assert.True(t, ok)
	assert.Same(t, a, next)

	next, ok = tr.Lookup("default")
	assert.True(t, ok)
	assert.Same(t, b, next)
	assert.Equal(t, 2, tr.Len())
}

func TestTransitionsReplaceAndRemove(t *testing.T) {
	tr := goflow.NewTransitions()
	a := nodes.NewBaseNode("a")
	b := nodes.NewBaseNode("b")

	assert.Nil(t, tr.Set("go", a))
	assert.Same(t, a, tr.Set("go", b))

	next, _ := tr.Lookup("go")
	assert.Same(t, b, next)

	assert.Same(t, b, tr.Set("go", nil))
	_, ok := tr.Lookup("go")
	assert.False(t, ok)
	assert.Zero(t, tr.Len())
}

func TestTransitionsActionsSorted(t *testing.T) {
	tr := goflow.NewTransitions()
	n := nodes.NewBaseNode("n")
	tr.Set("zeta", n)
	tr.Set("alpha", n)
	tr.Set(goflow.NoAction, n)
	tr.Set("mid", n)

	assert.Equal(t, []goflow.Action{"alpha", "mid", "zeta"}, tr.Actions())
	assert.Same(t, n, tr.Default())
}

func TestActionString(t *testing.T) {
	assert.True(t, goflow.NoAction.IsAbsent())
	assert.Equal(t, "<default>", goflow.NoAction.String())
	assert.Equal(t, "end", goflow.ActionEnd.String())
	assert.False(t, goflow.ActionEnd.IsAbsent())
}
