package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// MinProtocolVersion is the floor accepted in a peer's
// crypt_remote.protocol_version field.
const MinProtocolVersion = 1

// CurrentProtocolVersion is the version this implementation writes
// into every crypt_local it generates.
const CurrentProtocolVersion = 1

// SessionCryptInfo is the {protocol_version, key_type CURVE25519,
// key_data, nonce} payload exchanged during the handshake.
type SessionCryptInfo struct {
	ProtocolVersion uint32
	KeyData         [32]byte // X25519 public key
	Nonce           uint64
}

// SignedSessionCryptInfo is the {info, signature} envelope: signature
// is produced by the cert's own private key over info.
type SignedSessionCryptInfo struct {
	Info      []byte // serialized SessionCryptInfo
	Signature [64]byte
}

// EncodeSessionCryptInfo serializes a SessionCryptInfo.
func EncodeSessionCryptInfo(c SessionCryptInfo) []byte {
	buf := make([]byte, 4+32+8)
	binary.BigEndian.PutUint32(buf[0:4], c.ProtocolVersion)
	copy(buf[4:36], c.KeyData[:])
	binary.BigEndian.PutUint64(buf[36:44], c.Nonce)
	return buf
}

// DecodeSessionCryptInfo is the inverse of EncodeSessionCryptInfo.
func DecodeSessionCryptInfo(data []byte) (SessionCryptInfo, error) {
	if len(data) != 44 {
		return SessionCryptInfo{}, errors.New("identity: bad crypt info length")
	}
	var c SessionCryptInfo
	c.ProtocolVersion = binary.BigEndian.Uint32(data[0:4])
	copy(c.KeyData[:], data[4:36])
	c.Nonce = binary.BigEndian.Uint64(data[36:44])
	return c, nil
}

// SignSessionCryptInfo signs info's serialized bytes with the cert's
// Ed25519 private key.
func SignSessionCryptInfo(info SessionCryptInfo, certPriv ed25519.PrivateKey) SignedSessionCryptInfo {
	raw := EncodeSessionCryptInfo(info)
	sig := ed25519.Sign(certPriv, raw)
	out := SignedSessionCryptInfo{Info: raw}
	copy(out.Signature[:], sig)
	return out
}

// VerifySessionCryptInfo checks signed's signature against certPub (the
// peer's certificate public key) and decodes the enclosed
// SessionCryptInfo.
func VerifySessionCryptInfo(signed SignedSessionCryptInfo, certPub ed25519.PublicKey) (SessionCryptInfo, error) {
	if !ed25519.Verify(certPub, signed.Info, signed.Signature[:]) {
		return SessionCryptInfo{}, fmt.Errorf("%w: invalid crypt info signature", ErrBadCrypto)
	}
	return DecodeSessionCryptInfo(signed.Info)
}
