// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package healthsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestServe_RespondsWithStatusVersionAndLoad(t *testing.T) {
	s := New(zaptest.NewLogger(t), "v1.2.3", func() float64 { return 0.5 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:18099") }()

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18099/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "v1.2.3", body.Version)
	assert.Equal(t, 0.5, body.Load)

	cancel()
	require.NoError(t, <-done)
}
