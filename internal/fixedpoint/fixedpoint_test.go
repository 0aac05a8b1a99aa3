package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeDivide(t *testing.T) {
	cases := []struct {
		name     string
		a, b     float64
		def      float64
		expected float64
	}{
		{"normal", 10, 2, -1, 5},
		{"zero denom", 10, 0, -1, -1},
		{"near zero denom", 10, 1e-12, -1, -1},
		{"nan numerator", math.NaN(), 2, -1, -1},
		{"inf numerator", math.Inf(1), 2, -1, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SafeDivide(c.a, c.b, c.def)
			assert.Equal(t, c.expected, got)
			assert.True(t, IsValid(got))
		})
	}
}

func TestSafeAddSubOverflow(t *testing.T) {
	_, ok := SafeAdd(math.MaxInt64, 1)
	assert.False(t, ok)

	sum, ok := SafeAdd(5, 10)
	assert.True(t, ok)
	assert.Equal(t, Ticks(15), sum)

	diff, ok := SafeSub(10, 3)
	assert.True(t, ok)
	assert.Equal(t, Ticks(7), diff)

	_, ok = SafeSub(math.MinInt64, 1)
	assert.False(t, ok)
}

func TestSafeMul(t *testing.T) {
	prod, ok := SafeMul(6, 7)
	assert.True(t, ok)
	assert.Equal(t, Ticks(42), prod)

	prod, ok = SafeMul(-6, 7)
	assert.True(t, ok)
	assert.Equal(t, Ticks(-42), prod)

	_, ok = SafeMul(math.MaxInt64, 2)
	assert.False(t, ok)
}

func TestMeanMedianPercentile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 3.0, Mean(xs, -1))
	assert.Equal(t, 3.0, Median(xs, -1))
	assert.Equal(t, 1.0, Percentile(xs, 0, -1))
	assert.Equal(t, 5.0, Percentile(xs, 100, -1))
	assert.InDelta(t, 3.0, Percentile(xs, 50, -1), 0.01)

	assert.Equal(t, -1.0, Mean(nil, -1))
	assert.Equal(t, -1.0, Median(nil, -1))
}

func TestStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, StdDev(xs, -1), 0.01)
	assert.Equal(t, -1.0, StdDev([]float64{1}, -1))
}

func TestCalculateZone(t *testing.T) {
	assert.Equal(t, int64(8905), CalculateZone(89050, 10))
	assert.Equal(t, int64(-1), CalculateZone(-5, 10))
	assert.Equal(t, int64(0), CalculateZone(5, 10))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-5, 0, 1))
	assert.Equal(t, 1.0, Clamp(5, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}
