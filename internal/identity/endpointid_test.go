// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveEndpointID_RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id := DeriveEndpointID(pub)
	assert.True(t, strings.HasPrefix(id, EndpointIDPrefix))

	canonical, err := ValidateEndpointID(id)
	require.NoError(t, err)
	assert.Equal(t, id, canonical)
}

func TestValidateEndpointID_CaseInsensitive(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id := DeriveEndpointID(pub)
	canonical, err := ValidateEndpointID(strings.ToLower(id))
	require.NoError(t, err)
	assert.Equal(t, id, canonical)
}

func TestValidateEndpointID_MutationFailsCheckDigit(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id := DeriveEndpointID(pub)

	// Substitute every other alphabet symbol at every character position
	// in turn and count how many mutations are rejected. The check digit
	// is the sum of symbol indices modulo 32, and a single substitution
	// changes that sum by a nonzero amount below 32, so every mutation
	// is caught; the assertion only requires more than 90%.
	failed := 0
	total := 0
	for i := len(EndpointIDPrefix); i < len(id); i++ {
		if id[i] == '-' {
			continue
		}
		for _, r := range crockford {
			if byte(r) == id[i] {
				continue
			}
			mutated := []byte(id)
			mutated[i] = byte(r)
			total++
			if _, err := ValidateEndpointID(string(mutated)); err != nil {
				failed++
			}
		}
	}
	require.Greater(t, total, 0)
	ratio := float64(failed) / float64(total)
	assert.Greater(t, ratio, 0.9)
}

func TestValidateEndpointID_RejectsMissingPrefix(t *testing.T) {
	_, err := ValidateEndpointID("ABCD-EFGH-1")
	assert.Error(t, err)
}

func TestValidateEndpointID_RejectsInvalidCharacter(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	id := DeriveEndpointID(pub)

	mutated := strings.Replace(id, id[len(EndpointIDPrefix):len(EndpointIDPrefix)+1], "U", 1)
	_, err = ValidateEndpointID(mutated)
	assert.Error(t, err)
}

func TestDeriveEndpointID_Deterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	assert.Equal(t, DeriveEndpointID(pub), DeriveEndpointID(pub))
}
