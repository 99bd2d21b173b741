package resultbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// TestPublicAPIContract validates the re-exported surface.
func TestPublicAPIContract(t *testing.T) {
	bus := resultbus.New()
	require.NotNil(t, bus)
	defer bus.Close()

	ch := make(chan resultbus.Message, 1)
	require.NoError(t, bus.Subscribe("mqtt", ch))
	assert.ErrorIs(t, bus.Subscribe("mqtt", ch), resultbus.ErrSubscriberExists)
	assert.ErrorIs(t, bus.Subscribe("nil", nil), resultbus.ErrNilChannel)

	rx, err := bus.SubscribeLatest("ws")
	require.NoError(t, err)
	var _ resultbus.Receiver = rx

	bus.Publish(resultbus.Message{PoseID: "p", Result: similarity.Zero(70)})

	got := <-ch
	assert.Equal(t, "p", got.PoseID)
	assert.Equal(t, 70.0, got.Result.ThresholdPct)

	latest, ok := rx.TryReceive()
	require.True(t, ok)
	assert.Equal(t, got.Seq, latest.Seq)

	stats, err := bus.Stats("ws")
	require.NoError(t, err)
	assert.Equal(t, resultbus.DropOld, stats.Policy)
}

func TestCalculateDropRate(t *testing.T) {
	tests := []struct {
		name     string
		stats    *resultbus.SubscriberStats
		expected float64
	}{
		{"nil", nil, 0},
		{"nothing sent", &resultbus.SubscriberStats{}, 0},
		{"drop new half", &resultbus.SubscriberStats{Policy: resultbus.DropNew, Sent: 50, Dropped: 50}, 0.5},
		{"drop new none", &resultbus.SubscriberStats{Policy: resultbus.DropNew, Sent: 10}, 0},
		{"drop old quarter replaced", &resultbus.SubscriberStats{Policy: resultbus.DropOld, Sent: 100, Dropped: 25}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, resultbus.CalculateDropRate(tt.stats), 1e-9)
		})
	}
}
