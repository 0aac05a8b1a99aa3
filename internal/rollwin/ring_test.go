package rollwin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingEviction(t *testing.T) {
	r := NewRing[string](2)
	r.Push("a")
	r.Push("b")
	r.Push("c")
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"b", "c"}, r.Values())
}

func TestRingUnderCapacity(t *testing.T) {
	r := NewRing[int](5)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{1, 2}, r.Values())
}
