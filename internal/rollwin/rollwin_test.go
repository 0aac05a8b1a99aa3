package rollwin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushEvictsOldest(t *testing.T) {
	w := New[float64](3)
	w.Push(1)
	w.Push(2)
	w.Push(3)
	assert.Equal(t, 3, w.Count())
	assert.True(t, w.Full())
	assert.Equal(t, []float64{1, 2, 3}, w.Values())

	w.Push(4)
	assert.Equal(t, 3, w.Count())
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
	assert.Equal(t, 9.0, w.Sum())
}

func TestMeanAndStdDev(t *testing.T) {
	w := New[float64](5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		w.Push(v)
	}
	assert.InDelta(t, 3.8, w.Mean(), 0.001)
	assert.True(t, w.StdDev() > 0)
}

func TestMinMax(t *testing.T) {
	w := New[int](4)
	_, ok := w.Min()
	assert.False(t, ok)

	for _, v := range []int{5, 1, 9, 3} {
		w.Push(v)
	}
	min, ok := w.Min()
	assert.True(t, ok)
	assert.Equal(t, 1, min)

	max, ok := w.Max()
	assert.True(t, ok)
	assert.Equal(t, 9, max)
}

func TestClear(t *testing.T) {
	w := New[float64](3)
	w.Push(1)
	w.Push(2)
	w.Clear()
	assert.Equal(t, 0, w.Count())
	assert.Equal(t, 0.0, w.Sum())
	assert.Equal(t, 0.0, w.Mean())
}

func TestSumInvariantAfterEviction(t *testing.T) {
	w := New[float64](100)
	seq := []float64{}
	for i := 0; i < 250; i++ {
		v := float64(i%17) - 5
		seq = append(seq, v)
		w.Push(v)
	}
	live := seq[len(seq)-100:]
	var want float64
	for _, v := range live {
		want += v
	}
	assert.InDelta(t, want, w.Sum(), 1e-6)
}

func TestForEachOrder(t *testing.T) {
	w := New[int](3)
	w.Push(1)
	w.Push(2)
	w.Push(3)
	w.Push(4)
	var got []int
	w.ForEach(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{2, 3, 4}, got)
}
