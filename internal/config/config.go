// Package config holds a scoped connection_config override chain: a
// listen socket carries a base Config, and every child Connection gets
// a Child() copy so it can override individual knobs without mutating
// the parent.
//
// Tunables are seeded from package-level env-var accessors with
// defaults, generalized into a struct with an explicit Child() method
// so per-connection overrides compose cleanly.
package config

import (
	"os"
	"strconv"
	"time"
)

// UnsignedCertPolicy controls whether a remote's self-signed
// (non-CA-backed) certificate is accepted.
type UnsignedCertPolicy int

const (
	// UnsignedCertNever rejects any remote cert lacking a CA signature.
	UnsignedCertNever UnsignedCertPolicy = iota
	// UnsignedCertAllowWarn accepts it but the caller should log a
	// warning. This is the documented (if "temporary") default.
	UnsignedCertAllowWarn
	// UnsignedCertAlways accepts it silently.
	UnsignedCertAlways
)

// Config is the set of connection-level tunables. Zero-value fields
// in an override passed to Child are treated as "inherit from
// parent" — set a field explicitly to override it.
type Config struct {
	// TimeoutInitial bounds Connecting/FindingRoute before the
	// connection gives up.
	TimeoutInitial time.Duration
	// TimeoutConnected bounds a Connected connection's silence before
	// it is considered dead.
	TimeoutConnected time.Duration
	// ConnectRetryInterval is k_usecConnectRetryInterval (~50ms).
	ConnectRetryInterval time.Duration
	// AggressivePingInterval is used once a reply timeout has been
	// observed.
	AggressivePingInterval time.Duration
	// KeepAliveInterval is the ordinary ping cadence.
	KeepAliveInterval time.Duration
	// FinWaitTimeout is k_usecFinWaitTimeout.
	FinWaitTimeout time.Duration
	// MaxReplyTimeouts is the count of unanswered keepalives after
	// which the connection is declared dead.
	MaxReplyTimeouts int
	// AppID is the local app_id used for certificate binding checks.
	AppID uint32
	// AllowRemoteUnsignedCert governs whether an unsigned remote cert
	// is accepted.
	AllowRemoteUnsignedCert UnsignedCertPolicy
	// AllowLocalUnsignedCert governs whether this side may generate
	// its own self-signed cert instead of requesting one from the
	// host.
	AllowLocalUnsignedCert bool
	// RejectExpiredCerts turns the lenient "warn but accept" policy
	// for an expired cert into a hard rejection. Default false,
	// matching the documented-lenient behavior.
	RejectExpiredCerts bool
	// SpamReplyInterval is the per-peer reply gate.
	SpamReplyInterval time.Duration
}

// Default returns the process-wide baseline, seeded from env vars
// with named fallback defaults.
func Default() Config {
	return Config{
		TimeoutInitial:          envDuration("SDCONN_TIMEOUT_INITIAL_MS", 10*time.Second, time.Millisecond),
		TimeoutConnected:        envDuration("SDCONN_TIMEOUT_CONNECTED_MS", 10*time.Second, time.Millisecond),
		ConnectRetryInterval:    envDuration("SDCONN_CONNECT_RETRY_MS", 50*time.Millisecond, time.Millisecond),
		AggressivePingInterval:  envDuration("SDCONN_AGGRESSIVE_PING_MS", 200*time.Millisecond, time.Millisecond),
		KeepAliveInterval:       envDuration("SDCONN_KEEPALIVE_MS", 10*time.Second, time.Millisecond),
		FinWaitTimeout:          envDuration("SDCONN_FINWAIT_MS", 2*time.Second, time.Millisecond),
		MaxReplyTimeouts:        envInt("SDCONN_MAX_REPLY_TIMEOUTS", 4),
		AppID:                   uint32(envInt("SDCONN_APP_ID", 0)),
		AllowRemoteUnsignedCert: UnsignedCertAllowWarn,
		AllowLocalUnsignedCert:  true,
		RejectExpiredCerts:      false,
		SpamReplyInterval:       envDuration("SDCONN_SPAM_REPLY_MS", 250*time.Millisecond, time.Millisecond),
	}
}

// Child returns a copy of c with every non-zero field of override
// applied on top, implementing a "chained to parent" scoped override
// model.
func (c Config) Child(override Config) Config {
	out := c
	if override.TimeoutInitial != 0 {
		out.TimeoutInitial = override.TimeoutInitial
	}
	if override.TimeoutConnected != 0 {
		out.TimeoutConnected = override.TimeoutConnected
	}
	if override.ConnectRetryInterval != 0 {
		out.ConnectRetryInterval = override.ConnectRetryInterval
	}
	if override.AggressivePingInterval != 0 {
		out.AggressivePingInterval = override.AggressivePingInterval
	}
	if override.KeepAliveInterval != 0 {
		out.KeepAliveInterval = override.KeepAliveInterval
	}
	if override.FinWaitTimeout != 0 {
		out.FinWaitTimeout = override.FinWaitTimeout
	}
	if override.MaxReplyTimeouts != 0 {
		out.MaxReplyTimeouts = override.MaxReplyTimeouts
	}
	if override.AppID != 0 {
		out.AppID = override.AppID
	}
	if override.AllowRemoteUnsignedCert != 0 {
		out.AllowRemoteUnsignedCert = override.AllowRemoteUnsignedCert
	}
	if override.AllowLocalUnsignedCert {
		out.AllowLocalUnsignedCert = true
	}
	if override.RejectExpiredCerts {
		out.RejectExpiredCerts = true
	}
	if override.SpamReplyInterval != 0 {
		out.SpamReplyInterval = override.SpamReplyInterval
	}
	return out
}

func envDuration(key string, def time.Duration, unit time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * unit
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
