package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/services"
)

type countingDetector struct {
	calls atomic.Int32
	err   error
}

func (d *countingDetector) CheckForThreats(ctx context.Context) (int, error) {
	d.calls.Add(1)
	return 1, d.err
}

func TestNewThreatScanner_Schedule(t *testing.T) {
	logger := services.NewTestLogger()

	scanner, err := NewThreatScanner(&countingDetector{}, "", logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreatScanSchedule, scanner.schedule)

	_, err = NewThreatScanner(&countingDetector{}, "*/10 * * * *", logger)
	assert.NoError(t, err)

	_, err = NewThreatScanner(&countingDetector{}, "every five minutes", logger)
	assert.Error(t, err)
}

func TestThreatScanner_ScanSwallowsErrors(t *testing.T) {
	detector := &countingDetector{err: errors.New("boom")}
	scanner, err := NewThreatScanner(detector, "", services.NewTestLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() { scanner.scan(context.Background()) })
	assert.EqualValues(t, 1, detector.calls.Load())
}

func TestThreatScanner_Run(t *testing.T) {
	detector := &countingDetector{}
	scanner, err := NewThreatScanner(detector, "@every 1s", services.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- scanner.Run(ctx) }()

	assert.Eventually(t, func() bool { return detector.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not stop")
	}
}
