// Package identity implements the tagged-union Identity type, the
// Certificate payload it binds, and signature verification against a
// compiled-in trusted CA key table.
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
)

// Kind tags the Identity variant.
type Kind int

const (
	Invalid Kind = iota
	SteamID
	LocalHost
	IP
	GenericString
	GenericBytes
)

// Identity is a tagged variant over
// {SteamID u64 | LocalHost | IP | GenericString | GenericBytes | Invalid}.
// Two identities compare equal by tag+payload (see Equal).
type Identity struct {
	Kind Kind

	SteamID64 uint64
	// Anon marks a SteamID identity as an anonymous gameserver
	// account. The real client derives this from the account-type
	// bits packed into the 64-bit SteamID; that bit layout is out of
	// scope here (see DESIGN.md), so it is tracked explicitly.
	Anon bool

	IPAddr net.IP
	IPPort uint16

	Str string

	Bytes []byte
}

// AnonGameserver builds the sentinel identity used for certificates
// bound to a datacenter rather than a specific account.
func AnonGameserver(steamID uint64) Identity {
	return Identity{Kind: SteamID, SteamID64: steamID, Anon: true}
}

// Loopback is the LocalHost sentinel used for anonymous self-signed
// endpoints, such as a loopback connection pair.
func Loopback() Identity {
	return Identity{Kind: LocalHost}
}

// Equal compares two identities by tag and payload.
func (id Identity) Equal(other Identity) bool {
	if id.Kind != other.Kind {
		return false
	}
	switch id.Kind {
	case SteamID:
		return id.SteamID64 == other.SteamID64 && id.Anon == other.Anon
	case LocalHost:
		return true
	case IP:
		return id.IPAddr.Equal(other.IPAddr) && id.IPPort == other.IPPort
	case GenericString:
		return id.Str == other.Str
	case GenericBytes:
		return string(id.Bytes) == string(other.Bytes)
	case Invalid:
		return true
	default:
		return false
	}
}

// IsLocalHost reports whether id is the anonymous LocalHost sentinel.
func (id Identity) IsLocalHost() bool {
	return id.Kind == LocalHost
}

func (id Identity) String() string {
	switch id.Kind {
	case SteamID:
		if id.Anon {
			return fmt.Sprintf("anon-gs:%d", id.SteamID64)
		}
		return fmt.Sprintf("steam:%d", id.SteamID64)
	case LocalHost:
		return "localhost"
	case IP:
		return fmt.Sprintf("%s:%d", id.IPAddr, id.IPPort)
	case GenericString:
		return "str:" + id.Str
	case GenericBytes:
		return fmt.Sprintf("bytes:%x", id.Bytes)
	default:
		return "invalid"
	}
}

// KeyType is the certificate signing-key algorithm. ED25519 is
// currently the only member.
type KeyType int

const (
	KeyTypeInvalid KeyType = iota
	KeyTypeED25519
)

// Certificate is the unsigned certificate payload.
type Certificate struct {
	KeyType  KeyType
	KeyData  [32]byte
	Identity Identity

	HasAppID bool
	AppID    uint32

	HasTimeCreated bool
	TimeCreated    uint32

	HasTimeExpiry bool
	TimeExpiry    uint32

	GameserverDatacenterIDs []uint32
}

// SignedCertificate is the outer envelope: the serialized Certificate
// plus an optional CA signature over those bytes.
type SignedCertificate struct {
	Cert []byte // serialized Certificate

	HasCAKeyID bool
	CAKeyID    uint64

	HasCASignature bool
	CASignature    [64]byte
}

var (
	ErrBadCert   = errors.New("identity: bad certificate")
	ErrBadCrypto = errors.New("identity: bad cryptographic material")
)

// trustedCAKeys is the compiled-in CA public key table: compiled in,
// not file-loaded, to resist tampering by a local attacker. Embedding
// hosts extend this at init time via RegisterTrustedCAKey; it is
// never read from disk.
var trustedCAKeys = map[uint64]ed25519.PublicKey{}

// RegisterTrustedCAKey adds a CA public key to the compiled-in trust
// table, keyed by the same ca_key_id that SignedCertificate carries.
func RegisterTrustedCAKey(keyID uint64, pub ed25519.PublicKey) {
	trustedCAKeys[keyID] = pub
}

// TrustedCAKey looks up a CA public key by id.
func TrustedCAKey(keyID uint64) (ed25519.PublicKey, bool) {
	pub, ok := trustedCAKeys[keyID]
	return pub, ok
}

// UnsignedPolicy mirrors config.UnsignedCertPolicy without importing
// the config package, so identity has no dependency on it.
type UnsignedPolicy int

const (
	UnsignedNever UnsignedPolicy = iota
	UnsignedAllowWarn
	UnsignedAlways
)

// VerifyOptions carries the caller-policy knobs left to the
// embedding host.
type VerifyOptions struct {
	ExpectedIdentity   Identity
	LocalAppID         uint32
	UnsignedPolicy     UnsignedPolicy
	RejectExpiredCerts bool
	Now                uint32 // unix seconds; 0 means "skip expiry check"
}

// VerifySignedCert checks a SignedCertificate's CA signature (or
// unsigned-cert policy), AppID binding, expiry, and identity match.
func VerifySignedCert(signed SignedCertificate, opts VerifyOptions) (Certificate, bool, error) {
	cert, err := DecodeCertificate(signed.Cert)
	if err != nil {
		return Certificate{}, false, fmt.Errorf("%w: %v", ErrBadCert, err)
	}
	if cert.KeyType != KeyTypeED25519 {
		return Certificate{}, false, fmt.Errorf("%w: unsupported key type", ErrBadCert)
	}

	expiredWarning := false

	if signed.HasCASignature {
		pub, ok := TrustedCAKey(signed.CAKeyID)
		if !ok {
			return Certificate{}, false, fmt.Errorf("%w: unknown ca_key_id %d", ErrBadCert, signed.CAKeyID)
		}
		if !ed25519.Verify(pub, signed.Cert, signed.CASignature[:]) {
			return Certificate{}, false, fmt.Errorf("%w: Invalid cert signature", ErrBadCert)
		}
		if len(cert.GameserverDatacenterIDs) > 0 {
			if !(cert.Identity.Kind == SteamID && cert.Identity.Anon) {
				return Certificate{}, false, fmt.Errorf("%w: datacenter list requires an anonymous-gameserver identity", ErrBadCert)
			}
		} else if !cert.HasAppID {
			return Certificate{}, false, fmt.Errorf("%w: CA-signed cert missing AppID", ErrBadCert)
		}
	} else {
		switch opts.UnsignedPolicy {
		case UnsignedNever:
			return Certificate{}, false, fmt.Errorf("%w: unsigned certs not allowed", ErrBadCert)
		case UnsignedAllowWarn, UnsignedAlways:
			// accepted below, subject to the LocalHost special case and
			// identity cross-check.
		}
	}

	anonymousLocalHost := cert.Identity.Kind == LocalHost && !signed.HasCASignature
	if !anonymousLocalHost {
		if opts.ExpectedIdentity.Kind != Invalid && !cert.Identity.Equal(opts.ExpectedIdentity) {
			return Certificate{}, false, fmt.Errorf("%w: identity mismatch", ErrBadCert)
		}
	}

	if cert.HasAppID && opts.LocalAppID != 0 && cert.AppID != opts.LocalAppID {
		return Certificate{}, false, fmt.Errorf("%w: Cert is for AppID %d instead of %d", ErrBadCert, cert.AppID, opts.LocalAppID)
	}

	if cert.HasTimeExpiry && opts.Now != 0 && cert.TimeExpiry < opts.Now {
		if opts.RejectExpiredCerts {
			return Certificate{}, false, fmt.Errorf("%w: certificate expired", ErrBadCert)
		}
		expiredWarning = true
	}

	return cert, expiredWarning, nil
}
