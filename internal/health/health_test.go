package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
)

func TestMonitorStartsHealthy(t *testing.T) {
	m := New(Config{VolatilityLookbackSamples: 10})
	s := m.Observe(10000, 5, 100, 90)
	assert.True(t, s.IsHealthy)
	assert.Equal(t, RecommendContinue, s.Recommendation)
}

func TestMonitorFlagsFlashCrash(t *testing.T) {
	m := New(Config{VolatilityLookbackSamples: 10, FlashCrashMoveThreshold: 0.05, CautionVolatilityRatio: 0.5})
	m.Observe(10000, 5, 100, 90)
	s := m.Observe(9000, 5, 100, 90) // 10% drop
	assert.Contains(t, s.RecentAnomalyTypes, AnomalyFlashCrash)
}

func TestMonitorFlagsLiquidityVoid(t *testing.T) {
	m := New(Config{VolatilityLookbackSamples: 10, LiquidityVoidSpreadFactor: 2})
	for i := 0; i < 5; i++ {
		m.Observe(10000, 5, 100, 90)
	}
	s := m.Observe(10000, 50, 100, 90)
	assert.Contains(t, s.RecentAnomalyTypes, AnomalyLiquidityVoid)
}

func TestMonitorFlagsFlowImbalance(t *testing.T) {
	m := New(Config{VolatilityLookbackSamples: 10, FlowImbalanceThreshold: 0.5})
	s := m.Observe(10000, 5, fixedpoint.Ticks(1000), fixedpoint.Ticks(10))
	assert.Contains(t, s.RecentAnomalyTypes, AnomalyFlowImbalance)
}

func TestMonitorHaltOverridesCaution(t *testing.T) {
	m := New(Config{VolatilityLookbackSamples: 10, HaltVolatilityRatio: 0.001, CautionVolatilityRatio: 0.5})
	m.Observe(10000, 5, 100, 90)
	s := m.Observe(12000, 5, 100, 90)
	assert.Equal(t, RecommendHalt, s.Recommendation)
	assert.False(t, s.IsHealthy)
}
