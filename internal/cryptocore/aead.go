package cryptocore

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize, IVSize and TagSize are the packet AEAD's framing
	// (32-byte key / 12-byte IV / 16-byte tag), using the standard
	// (non-X) chacha20poly1305 constructor, whose 12-byte nonce lines
	// up with the IV size directly.
	KeySize = chacha20poly1305.KeySize
	IVSize  = chacha20poly1305.NonceSize
	TagSize = chacha20poly1305.Overhead
)

// PacketCipher derives a per-packet IV = base IV with the full
// sequence number added into the first 8 bytes (read as a
// little-endian uint64). The sum is computed on a copy, so the base IV
// field is never modified and accumulates no state across packets.
type PacketCipher struct {
	key   []byte
	baseI [IVSize]byte
}

// NewPacketCipher builds a cipher bound to key and base IV. Both must
// be exactly KeySize/IVSize bytes, as produced by DeriveSessionKeys.
func NewPacketCipher(key, baseIV []byte) (*PacketCipher, error) {
	if len(key) != KeySize {
		return nil, errors.New("cryptocore: bad key size")
	}
	if len(baseIV) != IVSize {
		return nil, errors.New("cryptocore: bad iv size")
	}
	pc := &PacketCipher{key: append([]byte(nil), key...)}
	copy(pc.baseI[:], baseIV)
	return pc, nil
}

// Wipe zeroes the cipher's key and base IV.
func (pc *PacketCipher) Wipe() {
	if pc == nil {
		return
	}
	Wipe(pc.key)
	Wipe(pc.baseI[:])
}

func perPacketIV(base [IVSize]byte, fullSeq int64) [IVSize]byte {
	var iv [IVSize]byte
	copy(iv[:], base[:])
	v := binary.LittleEndian.Uint64(iv[:8])
	v += uint64(fullSeq)
	binary.LittleEndian.PutUint64(iv[:8], v)
	return iv
}

// Seal encrypts plaintext under the per-packet IV derived from
// fullSeq, with no associated data.
func (pc *PacketCipher) Seal(fullSeq int64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(pc.key)
	if err != nil {
		return nil, err
	}
	iv := perPacketIV(pc.baseI, fullSeq)
	return aead.Seal(nil, iv[:], plaintext, nil), nil
}

// Open decrypts ciphertext sealed by the peer's matching Seal call. A
// tag mismatch returns an error; callers must drop the packet silently
// and rate-limit any resulting log line.
func (pc *PacketCipher) Open(fullSeq int64, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(pc.key)
	if err != nil {
		return nil, err
	}
	iv := perPacketIV(pc.baseI, fullSeq)
	return aead.Open(nil, iv[:], ciphertext, nil)
}
