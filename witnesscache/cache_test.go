package witnesscache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	m := New(4)
	assert.True(t, m.Set("a", "1"))
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestSetIsIdempotent(t *testing.T) {
	m := New(4)
	assert.True(t, m.Set("a", "1"))
	assert.False(t, m.Set("a", "2"))
	v, _ := m.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, m.Len())
}

func TestFIFOEviction(t *testing.T) {
	m := New(3)
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3")

	// neither a read nor a duplicate insert refreshes "a"
	m.Get("a")
	m.Set("a", "x")

	m.Set("d", "4")
	_, ok := m.Get("a")
	assert.False(t, ok)
	for _, k := range []string{"b", "c", "d"} {
		_, ok := m.Get(k)
		assert.True(t, ok, k)
	}
}

func TestCapacityBound(t *testing.T) {
	m := New(0)
	for i := 0; i < DEFAULT_CAPACITY+50; i++ {
		m.Set(fmt.Sprintf("k%d", i), "v")
	}
	assert.Equal(t, DEFAULT_CAPACITY, m.Len())
	_, ok := m.Get("k49")
	assert.False(t, ok)
	_, ok = m.Get("k50")
	assert.True(t, ok)
}
