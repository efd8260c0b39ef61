package progress_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/progress"
)

func TestMeterComputesMovingWindowRate(t *testing.T) {
	m := progress.NewMeter(1000)
	m.Sample(900, 1.0) // 100 bytes/sec over 1 window entry
	require.InDelta(t, 100, m.BytesPerSecond(), 0.001)

	m.Sample(700, 2.0) // delta 200 over 2 entries -> (100+200)/(2*2)=75
	require.InDelta(t, 75, m.BytesPerSecond(), 0.001)
}

func TestMeterIgnoresNegativeDeltas(t *testing.T) {
	m := progress.NewMeter(100)
	m.Sample(150, 1.0) // bytes_left increased: clamp delta to 0
	require.InDelta(t, 0, m.BytesPerSecond(), 0.001)
}

func TestReceptionRateClampedAndZeroTotal(t *testing.T) {
	require.Equal(t, 1.0, progress.ReceptionRate(0, 0))
	require.InDelta(t, 0.75, progress.ReceptionRate(3, 1), 0.001)
	require.Equal(t, 0.0, progress.ReceptionRate(0, 5))
}
