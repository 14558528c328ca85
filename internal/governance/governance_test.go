// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		MaxTestsPerHourPerPeer: 10,
		CooldownSec:            0,
		MaxBytesPerDayPerPeer:  1 << 30,
		AllowUDPEcho:           true,
		AllowThroughput:        true,
	}
}

func TestPreflight_DisabledTestType(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowUDPEcho = false
	e := NewEngine(cfg)

	err := e.Preflight("P", "udp_echo", time.Now())
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidParams, err.(*DeniedError).Reason)
}

func TestPreflight_RateLimitAfterNStarts(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTestsPerHourPerPeer = 3
	e := NewEngine(cfg)

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Preflight("P", "udp_echo", now))
		e.RecordStart("P", "s"+string(rune('0'+i)), now)
	}

	err := e.Preflight("P", "udp_echo", now)
	require.Error(t, err)
	denied := err.(*DeniedError)
	assert.Equal(t, ReasonRateLimited, denied.Reason)
	assert.InDelta(t, time.Hour.Seconds(), denied.RetryAfter.Seconds(), 2)
}

func TestPreflight_RateLimitIsPerPeer(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTestsPerHourPerPeer = 1
	e := NewEngine(cfg)

	now := time.Now()
	require.NoError(t, e.Preflight("P", "udp_echo", now))
	e.RecordStart("P", "s0", now)

	err := e.Preflight("P", "udp_echo", now)
	require.Error(t, err)

	assert.NoError(t, e.Preflight("P2", "udp_echo", now))
}

func TestPreflight_SlidingWindowExpires(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTestsPerHourPerPeer = 1
	e := NewEngine(cfg)

	start := time.Now()
	require.NoError(t, e.Preflight("P", "udp_echo", start))
	e.RecordStart("P", "s0", start)

	err := e.Preflight("P", "udp_echo", start.Add(61*time.Minute))
	assert.NoError(t, err)
}

func TestPreflight_Cooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.CooldownSec = 30
	e := NewEngine(cfg)

	now := time.Now()
	e.RecordStart("P", "s0", now)
	e.RecordCompletion("P", "s0", now)

	err := e.Preflight("P", "udp_echo", now.Add(10*time.Second))
	require.Error(t, err)
	denied := err.(*DeniedError)
	assert.Equal(t, ReasonRateLimited, denied.Reason)
	assert.InDelta(t, 20, denied.RetryAfter.Seconds(), 1)

	assert.NoError(t, e.Preflight("P", "udp_echo", now.Add(31*time.Second)))
}

func TestPreflight_DailyByteQuota(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBytesPerDayPerPeer = 100
	e := NewEngine(cfg)

	now := time.Now()
	e.RecordBytes("P", 100, now)

	err := e.Preflight("P", "udp_echo", now)
	require.Error(t, err)
	assert.Equal(t, ReasonQuotaExceeded, err.(*DeniedError).Reason)
}

func TestRecordBytes_ResetsAcrossUTCMidnight(t *testing.T) {
	e := NewEngine(baseConfig())

	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)

	e.RecordBytes("P", 500, day1)
	assert.EqualValues(t, 500, e.BytesToday("P", day1))

	assert.EqualValues(t, 0, e.BytesToday("P", day2))
	e.RecordBytes("P", 10, day2)
	assert.EqualValues(t, 10, e.BytesToday("P", day2))
}
