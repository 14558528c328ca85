// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package throughput

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReservePort_NoTwoConcurrentSessionsOverlap(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t), Config{
		PortLow: 20100, PortHigh: 20200, MaxPortAttempts: 100,
	})

	a, err := e.reservePort()
	require.NoError(t, err)
	b, err := e.reservePort()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	e.releasePort(a)
	e.releasePort(b)
}

func TestReservePort_ExhaustionReturnsNoPortAvailable(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t), Config{
		PortLow: 20300, PortHigh: 20302, MaxPortAttempts: 3,
	})

	for i := 0; i < 3; i++ {
		_, err := e.reservePort()
		require.NoError(t, err)
	}

	_, err := e.reservePort()
	require.Error(t, err)
	assert.True(t, ErrNoPortAvailable.Has(err))
}

func TestReservePort_DyingPortIsNotReusedUntilReleased(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t), Config{
		PortLow: 20400, PortHigh: 20401, MaxPortAttempts: 10,
	})

	p, err := e.reservePort()
	require.NoError(t, err)
	e.markDying(p)

	// The other port in range is still free.
	other, err := e.reservePort()
	require.NoError(t, err)
	assert.NotEqual(t, p, other)

	e.releasePort(p)
	e.releasePort(other)
}

func TestReadFinalReport_ParsesTrailingByteCount(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("starting\nbytes=4096\n"))
	n := readFinalReport(r)
	assert.EqualValues(t, 4096, n)
}

func TestReadFinalReport_ReturnsNegativeOneWhenAbsent(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("starting\nno report here\n"))
	n := readFinalReport(r)
	assert.EqualValues(t, -1, n)
}
