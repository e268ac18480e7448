package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantloop/refreshengine/internal/domain"
)

func TestShouldRefresh_Force(t *testing.T) {
	now := time.Now()
	assert.True(t, ShouldRefresh(domain.RefreshModeScheduled, domain.DataTypeFundamentals, &now, now, true))
}

func TestShouldRefresh_OnDemandAlwaysTrue(t *testing.T) {
	now := time.Now()
	assert.True(t, ShouldRefresh(domain.RefreshModeOnDemand, domain.DataTypeFundamentals, &now, now, false))
}

func TestShouldRefresh_ScheduledWindow(t *testing.T) {
	now := time.Date(2026, 3, 5, 6, 10, 0, 0, time.UTC) // within ±30m of 06:00
	last := now.Add(-time.Hour)
	assert.True(t, ShouldRefresh(domain.RefreshModeScheduled, domain.DataTypeFundamentals, &last, now, false, WithScheduleTime("06:00")))

	outside := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	assert.False(t, ShouldRefresh(domain.RefreshModeScheduled, domain.DataTypeFundamentals, &last, outside, false, WithScheduleTime("06:00")))
}

func TestShouldRefresh_ScheduledStaleBoundOverridesWindow(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	last := now.Add(-24 * time.Hour)
	assert.True(t, ShouldRefresh(domain.RefreshModeScheduled, domain.DataTypeFundamentals, &last, now, false, WithScheduleTime("06:00")))
}

func TestShouldRefresh_ScheduledNilLastSuccess(t *testing.T) {
	now := time.Now()
	assert.True(t, ShouldRefresh(domain.RefreshModeScheduled, domain.DataTypeFundamentals, nil, now, false))
}

func TestShouldRefresh_PeriodicIntervals(t *testing.T) {
	now := time.Now()

	recentCurrent := now.Add(-30 * time.Second)
	assert.False(t, ShouldRefresh(domain.RefreshModePeriodic, domain.DataTypePriceCurrent, &recentCurrent, now, false))

	staleCurrent := now.Add(-2 * time.Minute)
	assert.True(t, ShouldRefresh(domain.RefreshModePeriodic, domain.DataTypePriceCurrent, &staleCurrent, now, false))

	staleOther := now.Add(-7 * time.Hour)
	assert.True(t, ShouldRefresh(domain.RefreshModePeriodic, domain.DataTypeFundamentals, &staleOther, now, false))

	recentOther := now.Add(-time.Hour)
	assert.False(t, ShouldRefresh(domain.RefreshModePeriodic, domain.DataTypeFundamentals, &recentOther, now, false))
}

func TestShouldRefresh_Live(t *testing.T) {
	now := time.Now()
	stale := now.Add(-2 * time.Minute)
	assert.True(t, ShouldRefresh(domain.RefreshModeLive, domain.DataTypePriceCurrent, &stale, now, false))

	fresh := now.Add(-30 * time.Second)
	assert.False(t, ShouldRefresh(domain.RefreshModeLive, domain.DataTypePriceCurrent, &fresh, now, false))

	assert.True(t, ShouldRefresh(domain.RefreshModeLive, domain.DataTypePriceCurrent, &fresh, now, false, WithLiveMaxAge(10*time.Second)))
}
