// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package authgate

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/reflector/internal/audit"
)

func newTestGate(t *testing.T, initial ...string) *Gate {
	t.Helper()
	log, err := audit.Open(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return New(zaptest.NewLogger(t), log, initial)
}

func TestDecide_AllowsAuthorizedPeer(t *testing.T) {
	gate := newTestGate(t, "PP-AAAA")
	assert.Equal(t, Allow, gate.Decide("PP-AAAA", time.Now()))
}

func TestDecide_DeniesUnknownPeerWithNoPairing(t *testing.T) {
	gate := newTestGate(t)
	assert.Equal(t, Deny, gate.Decide("PP-ZZZZ", time.Now()))
}

func TestDecide_PairingRequiredWhileActive(t *testing.T) {
	gate := newTestGate(t)
	_, err := gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)

	assert.Equal(t, PairingRequired, gate.Decide("PP-NEWPEER", time.Now()))
}

func TestDecide_PairingExpiredIsEquivalentToDeny(t *testing.T) {
	gate := newTestGate(t)
	_, err := gate.EnablePairing(time.Minute)
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Minute)
	assert.Equal(t, Deny, gate.Decide("PP-NEWPEER", future))
}

func TestCompletePairing_SucceedsOnceThenConsumed(t *testing.T) {
	gate := newTestGate(t)
	token, err := gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)

	require.NoError(t, gate.CompletePairing("PP-NEWPEER", token, time.Now()))
	assert.Equal(t, Allow, gate.Decide("PP-NEWPEER", time.Now()))

	err = gate.CompletePairing("PP-OTHER", token, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonTokenConsumed)
}

func TestCompletePairing_Mismatched(t *testing.T) {
	gate := newTestGate(t)
	_, err := gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)

	err = gate.CompletePairing("PP-NEWPEER", "not-the-token", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonTokenMismatched)
}

func TestCompletePairing_Expired(t *testing.T) {
	gate := newTestGate(t)
	token, err := gate.EnablePairing(time.Minute)
	require.NoError(t, err)

	err = gate.CompletePairing("PP-NEWPEER", token, time.Now().Add(2*time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonTokenExpired)
}

func TestCompletePairing_ConcurrentRaceHasExactlyOneWinner(t *testing.T) {
	gate := newTestGate(t)
	token, err := gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)

	const racers = 25
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gate.CompletePairing("PP-NEWPEER", token, time.Now())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestEnablePairing_ReplacesPriorToken(t *testing.T) {
	gate := newTestGate(t)
	first, err := gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)
	_, err = gate.EnablePairing(10 * time.Minute)
	require.NoError(t, err)

	err = gate.CompletePairing("PP-NEWPEER", first, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonTokenMismatched)
}

func TestAddRemovePeer(t *testing.T) {
	gate := newTestGate(t)
	gate.AddPeer("PP-AAAA")
	assert.Equal(t, Allow, gate.Decide("PP-AAAA", time.Now()))

	gate.RemovePeer("PP-AAAA")
	assert.Equal(t, Deny, gate.Decide("PP-AAAA", time.Now()))
}

func TestAuthorizedPeers_ReturnsConfiguredSet(t *testing.T) {
	gate := newTestGate(t, "PP-AAAA", "PP-BBBB")
	peers := gate.AuthorizedPeers()
	assert.ElementsMatch(t, []string{"PP-AAAA", "PP-BBBB"}, peers)
}
