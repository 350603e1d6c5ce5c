package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"sdconn/internal/identity"
)

func sampleCert(t *testing.T) identity.SignedCertificate {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var keyData [32]byte
	copy(keyData[:], pub)
	cert := identity.Certificate{
		KeyType:        identity.KeyTypeED25519,
		KeyData:        keyData,
		Identity:       identity.Loopback(),
		HasTimeCreated: true,
		TimeCreated:    1700000000,
	}
	raw, err := identity.EncodeCertificate(cert)
	if err != nil {
		t.Fatalf("encode certificate: %v", err)
	}
	return identity.SignedCertificate{Cert: raw}
}

func TestSignedCertificateRoundTrip(t *testing.T) {
	sc := sampleCert(t)
	sc.HasCAKeyID = true
	sc.CAKeyID = 42
	sc.HasCASignature = true
	for i := range sc.CASignature {
		sc.CASignature[i] = byte(i)
	}

	encoded := EncodeSignedCertificate(sc)
	decoded, err := DecodeSignedCertificate(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Cert, sc.Cert) {
		t.Fatalf("cert bytes mismatch")
	}
	if decoded.CAKeyID != sc.CAKeyID || decoded.CASignature != sc.CASignature {
		t.Fatalf("ca fields mismatch")
	}
}

func TestCertPEMRoundTrip(t *testing.T) {
	sc := sampleCert(t)
	text := EncodeCertPEM(sc)

	if !bytes.Contains(text, []byte("BEGIN STEAMDATAGRAM CERT")) {
		t.Fatalf("missing PEM begin marker: %s", text)
	}
	if !bytes.Contains(text, []byte("END STEAMDATAGRAM CERT")) {
		t.Fatalf("missing PEM end marker: %s", text)
	}

	decoded, err := DecodeCertPEM(text)
	if err != nil {
		t.Fatalf("decode pem: %v", err)
	}
	if !bytes.Equal(decoded.Cert, sc.Cert) {
		t.Fatalf("cert bytes mismatch after pem round trip")
	}
}

func TestDecodeCertPEMRejectsWrongBlockType(t *testing.T) {
	bogus := []byte("-----BEGIN SOMETHING ELSE-----\nAA==\n-----END SOMETHING ELSE-----\n")
	if _, err := DecodeCertPEM(bogus); err == nil {
		t.Fatalf("expected error for wrong PEM block type")
	}
}

func TestSignedSessionCryptInfoRoundTrip(t *testing.T) {
	info := identity.SessionCryptInfo{
		ProtocolVersion: identity.CurrentProtocolVersion,
		Nonce:           12345,
	}
	for i := range info.KeyData {
		info.KeyData[i] = byte(i)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signed := identity.SignSessionCryptInfo(info, priv)

	encoded := EncodeSignedSessionCryptInfo(signed)
	decoded, err := DecodeSignedSessionCryptInfo(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Info, signed.Info) || decoded.Signature != signed.Signature {
		t.Fatalf("signed crypt info mismatch")
	}
}
