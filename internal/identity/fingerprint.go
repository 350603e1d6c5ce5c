package identity

import "golang.org/x/crypto/sha3"

// CertFingerprint renders a short, non-keying SHA3-256 digest of a
// certificate's raw encoded bytes, for connection descriptions and
// debug log lines: once the remote cert is known, appending its
// fingerprint makes two connections to the same identity but
// different certs distinguishable in logs. SHA3-256 is used here, as
// elsewhere, for digests that are neither AEAD keys nor KDF inputs.
func CertFingerprint(raw []byte) string {
	sum := sha3.Sum256(raw)
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i*2] = hexDigits[sum[i]>>4]
		out[i*2+1] = hexDigits[sum[i]&0xf]
	}
	return string(out)
}
