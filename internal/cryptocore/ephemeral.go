// Package cryptocore implements HKDF-style session key derivation,
// packet-layer AEAD, and the X25519/Ed25519 primitives the handshake
// driver needs.
package cryptocore

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
)

// Ephemeral is a one-shot X25519 keypair used for a single handshake.
// Destroy wipes the private key; callers must invoke it once the
// shared secret has been computed so the private key never outlives
// the handshake that produced it.
type Ephemeral struct {
	priv      *ecdh.PrivateKey
	privBytes []byte
	pub       []byte
	destroyed bool
}

func (e *Ephemeral) String() string   { return "Ephemeral{REDACTED}" }
func (e *Ephemeral) GoString() string { return "cryptocore.Ephemeral{REDACTED}" }

// GenerateEphemeral creates a fresh X25519 keypair.
func GenerateEphemeral() (*Ephemeral, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	privBytes := priv.Bytes()
	privCopy := make([]byte, len(privBytes))
	copy(privCopy, privBytes)
	pubBytes := priv.PublicKey().Bytes()
	pubCopy := make([]byte, len(pubBytes))
	copy(pubCopy, pubBytes)
	return &Ephemeral{priv: priv, privBytes: privCopy, pub: pubCopy}, nil
}

// Public returns a copy of the public key.
func (e *Ephemeral) Public() ([]byte, error) {
	if e == nil || e.destroyed {
		return nil, errors.New("cryptocore: ephemeral key destroyed")
	}
	out := make([]byte, len(e.pub))
	copy(out, e.pub)
	return out, nil
}

// Shared computes the X25519 shared secret with a peer's public key.
func (e *Ephemeral) Shared(peerPub []byte) ([]byte, error) {
	if e == nil || e.destroyed {
		return nil, errors.New("cryptocore: ephemeral key destroyed")
	}
	if len(peerPub) == 0 {
		return nil, errors.New("cryptocore: empty key material")
	}
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return e.priv.ECDH(pub)
}

// Destroy zeroes the private key material. Idempotent.
func (e *Ephemeral) Destroy() {
	if e == nil || e.destroyed {
		return
	}
	Wipe(e.privBytes)
	Wipe(e.pub)
	e.priv = nil
	e.destroyed = true
}

// ValidatePublicKey checks that peerPub decodes to a valid X25519
// point.
func ValidatePublicKey(peerPub []byte) error {
	_, err := ecdh.X25519().NewPublicKey(peerPub)
	return err
}

// Wipe zeroes b in place. Used on every exit path that has touched
// key material, in the absence of RAII destructors.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
