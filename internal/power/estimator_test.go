package power

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sample(at time.Time, pct *float64, plugged *bool) collector.Sample {
	return collector.Sample{Timestamp: at, BatteryPercent: pct, PowerPlugged: plugged}
}

func TestEstimate_Draining(t *testing.T) {
	prev := sample(t0, collector.Float(80), collector.Bool(false))
	cur := sample(t0.Add(30*time.Minute), collector.Float(78), collector.Bool(false))

	rate, ok := Estimate(prev, cur)
	require.True(t, ok)
	assert.InDelta(t, 4.0, rate, 1e-9)
}

func TestEstimate_NegativeIsValid(t *testing.T) {
	prev := sample(t0, collector.Float(50), collector.Bool(false))
	cur := sample(t0.Add(time.Hour), collector.Float(51), collector.Bool(false))

	rate, ok := Estimate(prev, cur)
	require.True(t, ok)
	assert.InDelta(t, -1.0, rate, 1e-9)
}

func TestEstimate_Unknown(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur collector.Sample
	}{
		{
			name: "plugged in",
			prev: sample(t0, collector.Float(80), collector.Bool(true)),
			cur:  sample(t0.Add(time.Minute), collector.Float(79), collector.Bool(true)),
		},
		{
			name: "plug state unknown",
			prev: sample(t0, collector.Float(80), nil),
			cur:  sample(t0.Add(time.Minute), collector.Float(79), nil),
		},
		{
			name: "no battery",
			prev: sample(t0, nil, nil),
			cur:  sample(t0.Add(time.Minute), nil, nil),
		},
		{
			name: "previous battery missing",
			prev: sample(t0, nil, collector.Bool(false)),
			cur:  sample(t0.Add(time.Minute), collector.Float(79), collector.Bool(false)),
		},
		{
			name: "zero elapsed",
			prev: sample(t0, collector.Float(80), collector.Bool(false)),
			cur:  sample(t0, collector.Float(79), collector.Bool(false)),
		},
		{
			name: "clock went backwards",
			prev: sample(t0, collector.Float(80), collector.Bool(false)),
			cur:  sample(t0.Add(-time.Minute), collector.Float(79), collector.Bool(false)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Estimate(tt.prev, tt.cur)
			assert.False(t, ok)
		})
	}
}

func TestTimeRemaining(t *testing.T) {
	d, ok := TimeRemaining(50, 10)
	require.True(t, ok)
	assert.Equal(t, 5*time.Hour, d)

	_, ok = TimeRemaining(50, 0)
	assert.False(t, ok)
	_, ok = TimeRemaining(50, -3)
	assert.False(t, ok)
	_, ok = TimeRemaining(0, 10)
	assert.False(t, ok)
}
