package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysToExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := OptionContract{Expiry: now.Add(21 * 24 * time.Hour)}
	assert.InDelta(t, 21, c.DaysToExpiry(now), 1e-9)

	expired := OptionContract{Expiry: now.Add(-24 * time.Hour)}
	assert.InDelta(t, -1, expired.DaysToExpiry(now), 1e-9)
}

func TestWindowSpan(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	e := FlowEvent{WindowStart: start, WindowEnd: start.Add(25 * time.Second)}
	assert.Equal(t, 25*time.Second, e.WindowSpan())

	single := FlowEvent{WindowStart: start, WindowEnd: start}
	assert.Zero(t, single.WindowSpan())
}
