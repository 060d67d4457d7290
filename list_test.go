package evdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listContents(l *sourceList) []*Source {
	var out []*Source
	for s := l.head.next; !l.isHead(s); s = s.next {
		out = append(out, s)
	}
	return out
}

func TestSourceList(t *testing.T) {
	var l sourceList
	l.init()
	assert.True(t, l.empty())
	assert.Nil(t, l.first())

	a, b, c := new(Source), new(Source), new(Source)
	l.pushBack(a)
	l.pushBack(b)
	l.pushFront(c)
	assert.Equal(t, []*Source{c, a, b}, listContents(&l))
	assert.Same(t, c, l.first())

	cursor := &Source{sentinel: true}
	insertAfter(&l.head, cursor)
	assert.Same(t, c, l.first())

	unlink(c)
	unlink(c)
	assert.Nil(t, c.next)
	assert.Equal(t, []*Source{cursor, a, b}, listContents(&l))
	assert.Same(t, a, l.first())

	unlink(cursor)
	unlink(a)
	unlink(b)
	assert.True(t, l.empty())
}

func TestRegistry(t *testing.T) {
	var r registry
	a, b := new(Source), new(Source)

	ta := r.add(a)
	tb := r.add(b)
	require.True(t, ta.valid())
	assert.NotEqual(t, ta.slot, tb.slot)
	assert.Same(t, a, r.lookup(ta))
	assert.Same(t, b, r.lookup(tb))
	assert.Equal(t, ta, tokenFromUint64(ta.uint64()))
	assert.Nil(t, r.lookup(token{}))
	assert.Nil(t, r.lookup(token{slot: 99, gen: 1}))

	r.remove(ta)
	assert.Nil(t, r.lookup(ta))
	assert.Nil(t, r.bySlot(ta.slot))
	r.remove(ta)

	c := new(Source)
	tc := r.add(c)
	assert.Equal(t, ta.slot, tc.slot)
	assert.NotEqual(t, ta.gen, tc.gen)
	assert.Nil(t, r.lookup(ta))
	assert.Same(t, c, r.lookup(tc))
	assert.Same(t, c, r.bySlot(tc.slot))
	assert.Nil(t, r.bySlot(0))
	assert.Nil(t, r.bySlot(42))
	assert.Len(t, r.free, 0)
}
