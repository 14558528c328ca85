// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package identity implements the Reflector's cryptographic identity: a
// persisted Ed25519 keypair, the human-safe Endpoint ID derived from it,
// and the self-signed certificate that binds the two together for the
// TLS listener.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
)

// Error is the errs class for identity failures.
var Error = errs.Class("identity error")

const keyFilePerm = 0600

// Identity is the Reflector's own cryptographic identity: an Ed25519
// keypair and the Endpoint ID it derives.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	id         string
}

// EndpointID returns the stable, human-safe Endpoint ID for this identity.
func (ident *Identity) EndpointID() string {
	return ident.id
}

// Zero overwrites the private key material in place. Callers should call
// this once the identity is no longer needed.
func (ident *Identity) Zero() {
	for i := range ident.PrivateKey {
		ident.PrivateKey[i] = 0
	}
}

// LoadOrCreate loads the identity persisted at path, creating a fresh one
// if the file does not exist. Repeated calls against an existing file
// return byte-for-byte the same identity.
func LoadOrCreate(path string) (*Identity, error) {
	seed, err := ioutil.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, Error.Wrap(err)
		}
		return create(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if info.Mode().Perm() != keyFilePerm {
		return nil, Error.New("identity key file %s has unsafe permissions %o, expected %o", path, info.Mode().Perm(), keyFilePerm)
	}

	return fromSeed(seed)
}

// Rotate replaces the identity at path with a freshly generated one,
// writing to a temporary file and atomically renaming it into place. The
// previous Endpoint ID is permanently abandoned.
func Rotate(path string) (*Identity, error) {
	ident, seed, err := generate()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, ".identity-rotate-*")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(keyFilePerm); err != nil {
		_ = tmp.Close()
		return nil, Error.Wrap(err)
	}
	if _, err := tmp.Write(seed); err != nil {
		_ = tmp.Close()
		return nil, Error.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, Error.Wrap(err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, Error.Wrap(err)
	}

	return ident, nil
}

func create(path string) (*Identity, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, Error.Wrap(err)
	}

	ident, seed, err := generate()
	if err != nil {
		return nil, err
	}

	if err := ioutil.WriteFile(path, seed, keyFilePerm); err != nil {
		return nil, Error.Wrap(err)
	}

	return ident, nil
}

func generate() (ident *Identity, seed []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	s := priv.Seed()
	ident = &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		id:         DeriveEndpointID(pub),
	}
	return ident, s, nil
}

func fromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, Error.New("identity key file is corrupt: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		id:         DeriveEndpointID(pub),
	}, nil
}
