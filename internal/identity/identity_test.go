package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func mustCert(t *testing.T, ident Identity, appID uint32, expiry uint32) (Certificate, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("genkey: %v", err)
	}
	c := Certificate{KeyType: KeyTypeED25519, Identity: ident}
	copy(c.KeyData[:], pub)
	if appID != 0 {
		c.HasAppID = true
		c.AppID = appID
	}
	if expiry != 0 {
		c.HasTimeExpiry = true
		c.TimeExpiry = expiry
	}
	return c, pub, priv
}

func signCert(t *testing.T, c Certificate, caPriv ed25519.PrivateKey, caKeyID uint64) SignedCertificate {
	t.Helper()
	raw, err := EncodeCertificate(c)
	if err != nil {
		t.Fatalf("encode cert: %v", err)
	}
	sig := ed25519.Sign(caPriv, raw)
	sc := SignedCertificate{Cert: raw, HasCAKeyID: true, CAKeyID: caKeyID, HasCASignature: true}
	copy(sc.CASignature[:], sig)
	return sc
}

func TestCertificateRoundTrip(t *testing.T) {
	ident := Identity{Kind: GenericString, Str: "server-1"}
	c, _, _ := mustCert(t, ident, 480, 1700000000)
	c.GameserverDatacenterIDs = []uint32{1, 2, 3}
	raw, err := EncodeCertificate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCertificate(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Identity.Equal(c.Identity) || decoded.AppID != c.AppID || decoded.TimeExpiry != c.TimeExpiry {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, c)
	}
	raw2, err := EncodeCertificate(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(raw) != string(raw2) {
		t.Fatalf("encode not a fixed point")
	}
}

func TestVerifySignedCertAppIDMismatch(t *testing.T) {
	caPub, caPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ca keygen: %v", err)
	}
	RegisterTrustedCAKey(1, caPub)

	ident := Identity{Kind: GenericString, Str: "gs"}
	c, _, _ := mustCert(t, ident, 730, 0)
	sc := signCert(t, c, caPriv, 1)

	_, _, err = VerifySignedCert(sc, VerifyOptions{
		ExpectedIdentity: ident,
		LocalAppID:       480,
	})
	if err == nil {
		t.Fatalf("expected AppID mismatch error")
	}
	want := "Cert is for AppID 730 instead of 480"
	if !containsSubstring(err.Error(), want) {
		t.Fatalf("error %q does not contain %q", err.Error(), want)
	}
}

func TestVerifySignedCertBadSignature(t *testing.T) {
	caPub, caPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ca keygen: %v", err)
	}
	RegisterTrustedCAKey(2, caPub)

	ident := Identity{Kind: GenericString, Str: "gs2"}
	c, _, _ := mustCert(t, ident, 480, 0)
	sc := signCert(t, c, caPriv, 2)
	sc.CASignature[0] ^= 0xff

	_, _, err = VerifySignedCert(sc, VerifyOptions{ExpectedIdentity: ident, LocalAppID: 480})
	if err == nil {
		t.Fatalf("expected signature failure")
	}
	if !containsSubstring(err.Error(), "Invalid cert signature") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySignedCertExpiredLenient(t *testing.T) {
	caPub, caPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ca keygen: %v", err)
	}
	RegisterTrustedCAKey(3, caPub)

	ident := Identity{Kind: GenericString, Str: "gs3"}
	c, _, _ := mustCert(t, ident, 480, 1000)
	sc := signCert(t, c, caPriv, 3)

	cert, warned, err := VerifySignedCert(sc, VerifyOptions{
		ExpectedIdentity: ident,
		LocalAppID:       480,
		Now:              1100,
	})
	if err != nil {
		t.Fatalf("expected lenient acceptance, got: %v", err)
	}
	if !warned {
		t.Fatalf("expected expiry warning flag")
	}
	if cert.AppID != 480 {
		t.Fatalf("unexpected cert returned")
	}
}

func TestVerifySignedCertAnonymousLocalHost(t *testing.T) {
	ident := Loopback()
	c, _, _ := mustCert(t, ident, 0, 0)
	raw, err := EncodeCertificate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sc := SignedCertificate{Cert: raw}

	_, _, err = VerifySignedCert(sc, VerifyOptions{
		ExpectedIdentity: Identity{Kind: GenericString, Str: "unrelated"},
		UnsignedPolicy:   UnsignedAllowWarn,
	})
	if err != nil {
		t.Fatalf("expected anonymous localhost acceptance, got: %v", err)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestCertFingerprintDeterministicAndSensitive(t *testing.T) {
	a := []byte("certificate bytes one")
	b := []byte("certificate bytes two")

	fpA1 := CertFingerprint(a)
	fpA2 := CertFingerprint(a)
	if fpA1 != fpA2 {
		t.Fatalf("fingerprint not deterministic: %q vs %q", fpA1, fpA2)
	}
	if len(fpA1) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%q)", len(fpA1), fpA1)
	}
	if fpA1 == CertFingerprint(b) {
		t.Fatalf("expected different inputs to produce different fingerprints")
	}
}
