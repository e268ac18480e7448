// Package strategy implements the C5 Refresh Strategy: a pure decision of
// whether a (symbol, dataType) pair is due for refresh under a given
// RefreshMode. It holds no state of its own — every input is passed by the
// caller (internal/refresh), mirroring the teacher's preference for small,
// side-effect-free decision helpers over stateful policy objects.
package strategy

import (
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
)

const hhmmLayout = "15:04"

// DefaultLiveMaxAge is the staleness bound applied in RefreshModeLive when
// the caller does not override it.
const DefaultLiveMaxAge = time.Minute

// scheduledWindow is how far from ScheduleTime "now" may be and still count
// as the scheduled run's window.
const scheduledWindow = 30 * time.Minute

// scheduledStaleBound forces a scheduled refresh regardless of the window
// once the last success is this old.
const scheduledStaleBound = 23 * time.Hour

// periodicIntervals gives the periodic-mode refresh cadence per data type.
// Anything not listed falls back to defaultPeriodicInterval.
var periodicIntervals = map[domain.DataType]time.Duration{
	domain.DataTypePriceCurrent:     time.Minute,
	domain.DataTypePriceIntraday15m: 15 * time.Minute,
	domain.DataTypeIndicators:       60 * time.Minute,
}

const defaultPeriodicInterval = 6 * time.Hour

// ShouldRefresh decides whether dataType is due for refresh under mode,
// given the last successful fetch (nil if never attempted) and the current
// time. force bypasses every rule and always returns true.
func ShouldRefresh(mode domain.RefreshMode, dataType domain.DataType, lastSuccess *time.Time, now time.Time, force bool, opts ...Option) bool {
	if force {
		return true
	}

	cfg := applyOptions(opts)

	switch mode {
	case domain.RefreshModeOnDemand:
		return true

	case domain.RefreshModeScheduled:
		if lastSuccess == nil {
			return true
		}
		if now.Sub(*lastSuccess) > scheduledStaleBound {
			return true
		}
		return withinScheduledWindow(cfg.scheduleTime, now)

	case domain.RefreshModePeriodic:
		if lastSuccess == nil {
			return true
		}
		return now.Sub(*lastSuccess) > periodicInterval(dataType)

	case domain.RefreshModeLive:
		if lastSuccess == nil {
			return true
		}
		maxAge := cfg.liveMaxAge
		if maxAge <= 0 {
			maxAge = DefaultLiveMaxAge
		}
		return now.Sub(*lastSuccess) > maxAge

	default:
		return false
	}
}

func periodicInterval(dt domain.DataType) time.Duration {
	if iv, ok := periodicIntervals[dt]; ok {
		return iv
	}
	return defaultPeriodicInterval
}

// withinScheduledWindow reports whether now falls within ±scheduledWindow
// of the "HH:MM" scheduleTime, evaluated against now's own calendar day. An
// unparseable scheduleTime never matches (the stale-bound rule above is the
// remaining fallback).
func withinScheduledWindow(scheduleTime string, now time.Time) bool {
	parsed, err := time.Parse(hhmmLayout, scheduleTime)
	if err != nil {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= scheduledWindow
}

// Option customizes a ShouldRefresh call beyond its positional arguments.
type Option func(*options)

type options struct {
	scheduleTime string
	liveMaxAge   time.Duration
}

// WithScheduleTime sets the daily "HH:MM" schedule time consulted by
// RefreshModeScheduled. Defaults to "06:00" matching the engine's config
// default.
func WithScheduleTime(hhmm string) Option {
	return func(o *options) { o.scheduleTime = hhmm }
}

// WithLiveMaxAge overrides DefaultLiveMaxAge for RefreshModeLive.
func WithLiveMaxAge(d time.Duration) Option {
	return func(o *options) { o.liveMaxAge = d }
}

func applyOptions(opts []Option) options {
	cfg := options{scheduleTime: "06:00"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
