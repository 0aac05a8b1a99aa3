package rollwin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEWMASeedsOnFirstUpdate(t *testing.T) {
	e := NewEWMA(0.5)
	assert.Equal(t, 10.0, e.Update(10))
}

func TestEWMAWeightsRecentMore(t *testing.T) {
	e := NewEWMA(0.5)
	e.Update(10)
	got := e.Update(20)
	assert.InDelta(t, 15.0, got, 1e-9)
}

func TestEWMAInvalidAlphaDefaults(t *testing.T) {
	e := NewEWMA(0)
	e.Update(5)
	got := e.Update(15)
	assert.InDelta(t, 0.1*15+0.9*5, got, 1e-9)
}
