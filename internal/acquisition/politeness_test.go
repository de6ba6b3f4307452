package acquisition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolitenessAcquireEnforcesMinInterval(t *testing.T) {
	p := NewPoliteness(2, 50*time.Millisecond)

	release, err := p.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = p.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	release()
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPolitenessAcquireHonorsContextCancellation(t *testing.T) {
	p := NewPoliteness(1, 0)

	release, err := p.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, "example.org")
	require.Error(t, err, "second acquire should block on the concurrency slot until context is done")
}

func TestPolitenessRecordOutcomeClearsOnSuccess(t *testing.T) {
	p := NewPoliteness(5, 0)

	backoff, blocked := p.RecordOutcome("example.org", 500)
	require.False(t, blocked)
	require.Greater(t, backoff, time.Duration(0))

	backoff, blocked = p.RecordOutcome("example.org", 200)
	require.False(t, blocked)
	require.Equal(t, time.Duration(0), backoff)
}

func TestPolitenessRecordOutcomeBlocksAfterPersistentFailure(t *testing.T) {
	p := NewPoliteness(5, 0)

	var blocked bool
	for i := 0; i < 10; i++ {
		_, blocked = p.RecordOutcome("example.org", 503)
		if blocked {
			break
		}
	}
	require.True(t, blocked)
	require.True(t, p.IsBlocked("example.org"))
}

func TestPolitenessSetCrawlDelayRaisesMinInterval(t *testing.T) {
	p := NewPoliteness(5, 10*time.Millisecond)
	p.SetCrawlDelay("example.org", 5*time.Millisecond)
	s := p.stateFor("example.org")
	require.Equal(t, 10*time.Millisecond, s.minInterval, "crawl delay below the existing minimum interval is ignored")

	p.SetCrawlDelay("example.org", 200*time.Millisecond)
	require.Equal(t, 200*time.Millisecond, s.minInterval)
}
