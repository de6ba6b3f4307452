package acquisition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBudgetFraction(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBudget(start, start.Add(10*time.Second), true)

	require.Equal(t, 0.0, b.Fraction(start))
	require.Equal(t, 0.5, b.Fraction(start.Add(5*time.Second)))
	require.Equal(t, 1.0, b.Fraction(start.Add(20*time.Second)), "fraction clamps at 1")
}

func TestBudgetPastFraction(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBudget(start, start.Add(10*time.Second), true)

	require.False(t, b.PastFraction(start.Add(3*time.Second), Layer0Checkpoint))
	require.True(t, b.PastFraction(start.Add(5*time.Second), Layer0Checkpoint))
}

func TestBudgetExpired(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBudget(start, start.Add(time.Second), true)

	require.False(t, b.Expired(start))
	require.True(t, b.Expired(start.Add(2*time.Second)))
}

func TestNewBudgetDefaultsWithoutDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBudget(start, time.Time{}, false)

	require.Equal(t, 10*time.Second, b.Total())
}

func TestBudgetRemainingNeverNegative(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBudget(start, start.Add(time.Second), true)

	require.Equal(t, time.Duration(0), b.Remaining(start.Add(5*time.Second)))
}
