// Package conn implements the connection state machine, the
// handshake driver, and packet-layer crypto as applied to one
// connection's send/recv direction. It is built as a tick-driven
// recovery state machine (mutex-guarded struct, elapsed-time-keyed
// state timers, env-gated debug logging) with handshake orchestration
// generalized to this package's own connection lifecycle.
package conn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"sdconn/internal/config"
	"sdconn/internal/connclock"
	"sdconn/internal/cryptocore"
	"sdconn/internal/identity"
	"sdconn/internal/log"
	"sdconn/internal/metrics"
	"sdconn/internal/msgqueue"
	"sdconn/internal/seqtracker"
	"sdconn/internal/snp"
)

// ErrRekeyNotSupported is returned by BRecvCryptoHandshake on any
// second handshake attempt once crypt_keys_valid is already true,
// rather than silently succeeding as a no-op.
var ErrRekeyNotSupported = errors.New("conn: rekeying is not supported")

// ErrTooManyConnections names the global live-count cap. New does not
// return it; the cap is enforced by the registry's Allocate and Insert,
// which report registry.ErrTooManyConnections.
var ErrTooManyConnections = errors.New("conn: too many connections")

// StatusCallback is invoked on every state transition, carrying the
// collapsed old/new API states.
type StatusCallback func(c *Connection, oldState, newState State)

// CertSource supplies a locally-signed certificate when the
// connection cannot self-sign. RequestCert is called synchronously
// from BThinkCryptoReady and must return the certificate (or an error)
// before that call returns; there is no deferred delivery. A nil
// CertSource means self-sign or fail.
type CertSource interface {
	RequestCert(identity.Identity) (identity.SignedCertificate, ed25519.PrivateKey, error)
}

// Connection is the central entity of the connection core.
type Connection struct {
	mu sync.Mutex

	idLocal  uint32
	idRemote uint32

	identityLocal  identity.Identity
	identityRemote identity.Identity

	state          State
	enteredStateAt time.Time

	sentConnectRequestAt time.Time

	endReason   EndReason
	endDebug    string
	description string
	appName     string
	userData    int64

	isServer bool

	cfg        config.Config
	certSource CertSource

	certPriv        ed25519.PrivateKey
	signedCertLocal identity.SignedCertificate
	certLocalReady  bool

	ephemeralLocal   *cryptocore.Ephemeral
	cryptLocal       identity.SessionCryptInfo
	signedCryptLocal identity.SignedSessionCryptInfo

	certRemote  identity.Certificate
	cryptRemote identity.SessionCryptInfo

	cryptCtxSend   *cryptocore.PacketCipher
	cryptCtxRecv   *cryptocore.PacketCipher
	cryptKeysValid bool

	protocolVersionPeer uint32

	nextSendSeq int64
	seqTracker  *seqtracker.Tracker

	recvQueue         *msgqueue.Queue
	nextMessageNumber int64

	reliability snp.Reliability

	replyTimeoutsSinceLastRecv int
	lastRecvAt                 time.Time
	lastKeepaliveSentAt        time.Time
	haveRecvAnyPacket          bool

	onStatusChanged StatusCallback
	metrics         *metrics.Metrics
}

// New constructs a connection shell in state None. Callers call BInit
// or BBeginAccept to move it to Connecting.
func New(idLocal uint32, localIdentity identity.Identity, cfg config.Config, reliability snp.Reliability) *Connection {
	if reliability == nil {
		reliability = snp.NewLoopback()
	}
	c := &Connection{
		idLocal:        idLocal,
		identityLocal:  localIdentity,
		cfg:            cfg,
		state:          StateNone,
		enteredStateAt: time.Now(),
		recvQueue:      msgqueue.NewQueue(msgqueue.LinkConn),
		seqTracker:     seqtracker.New(),
		reliability:    reliability,
		description:    fmt.Sprintf("conn#%08x", idLocal),
	}
	return c
}

// SetCertSource installs the host's cert-issuance collaborator, used
// when the local identity cannot self-sign and AllowLocalUnsignedCert
// is false.
func (c *Connection) SetCertSource(src CertSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.certSource = src
}

// SetStatusCallback installs the status-changed callback.
func (c *Connection) SetStatusCallback(cb StatusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChanged = cb
}

// SetMetrics installs the counters collaborator. Optional.
func (c *Connection) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IDLocal returns the connection's externally exposed handle.
func (c *Connection) IDLocal() uint32 {
	return c.idLocal
}

// SetIDRemote records the peer's connection id once known (from an
// accept response or a loopback pair's cross-wiring). It feeds into
// the handshake's key-derivation context.
func (c *Connection) SetIDRemote(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idRemote = id
}

// SignedCertLocal and SignedCryptLocal expose this side's handshake
// material so a caller (e.g. internal/pipe) can cross-feed it into the
// peer's BRecvCryptoHandshake.
func (c *Connection) SignedCertLocal() identity.SignedCertificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedCertLocal
}

func (c *Connection) SignedCryptLocal() identity.SignedSessionCryptInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedCryptLocal
}

// IdentityLocal returns the connection's local identity.
func (c *Connection) IdentityLocal() identity.Identity {
	return c.identityLocal
}

// CryptKeysValid reports whether the handshake has completed.
func (c *Connection) CryptKeysValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cryptKeysValid
}

// EndReason and EndDebug report why a non-operational connection
// ended.
func (c *Connection) EndReason() EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

func (c *Connection) EndDebug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endDebug
}

// transition moves the connection to newState if allowed, recording
// entered_state_at and firing the status-changed callback with
// collapsed states. Entering a non-operational state wipes crypto
// material.
func (c *Connection) transition(newState State) error {
	if !CanTransition(c.state, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.state, newState)
	}
	old := c.state
	c.state = newState
	c.enteredStateAt = time.Now()

	switch newState {
	case StateNone, StateLinger, StateProblemDetectedLocally, StateClosedByPeer, StateFinWait, StateDead:
		c.wipeCryptoLocked()
	}

	if newState == StateConnecting && old == StateNone && c.metrics != nil {
		c.metrics.ConnOpened()
	}
	if newState == StateDead && c.metrics != nil {
		c.metrics.ConnClosed(int32(c.endReason), c.isServer)
	}

	if c.onStatusChanged != nil {
		cb := c.onStatusChanged
		oldCollapsed, newCollapsed := old.Collapse(), newState.Collapse()
		c.mu.Unlock()
		cb(c, oldCollapsed, newCollapsed)
		c.mu.Lock()
	}
	return nil
}

// wipeCryptoLocked zeroes the session key material: the ephemeral
// X25519 private key, both packet ciphers' keys and base IVs, and the
// exchanged X25519 public keys. The certificate signing key in
// certPriv is not wiped. Callers must hold c.mu.
func (c *Connection) wipeCryptoLocked() {
	if c.ephemeralLocal != nil {
		c.ephemeralLocal.Destroy()
		c.ephemeralLocal = nil
	}
	if c.cryptCtxSend != nil {
		c.cryptCtxSend.Wipe()
		c.cryptCtxSend = nil
	}
	if c.cryptCtxRecv != nil {
		c.cryptCtxRecv.Wipe()
		c.cryptCtxRecv = nil
	}
	cryptocore.Wipe(c.cryptLocal.KeyData[:])
	cryptocore.Wipe(c.cryptRemote.KeyData[:])
}

// setEndReason applies end-reason precedence: the first non-Invalid
// reason wins, except Linger-state overrides (a local problem
// discovered during linger replaces the reason).
func (c *Connection) setEndReason(reason EndReason, debug string) {
	if c.endReason != EndInvalid && c.state != StateLinger {
		return
	}
	c.endReason = reason
	if len(debug) > 128 {
		debug = debug[:128]
	}
	c.endDebug = debug
}

// BInit starts a client-initiated connection: None -> Connecting.
func (c *Connection) BInit(remoteIdentity identity.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identityRemote = remoteIdentity
	c.isServer = false
	return c.transition(StateConnecting)
}

// BBeginAccept starts a server-side accepted connection: None ->
// Connecting, marking this side as the handshake server role.
func (c *Connection) BBeginAccept(remoteIdentity identity.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identityRemote = remoteIdentity
	c.isServer = true
	return c.transition(StateConnecting)
}

// Close is the host-requested local close. If linger is true and
// reliable data is outstanding, the connection enters Linger first;
// otherwise it goes straight to FinWait.
func (c *Connection) Close(reason EndReason, debugMsg string, linger bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reason != EndInvalid && !validAppReason(reason) {
		reason = EndAppMax
		debugMsg = "Invalid numeric reason code"
	}
	c.setEndReason(reason, debugMsg)

	switch c.state {
	case StateConnected:
		if linger && c.reliability.HasUnacked() {
			return c.transition(StateLinger)
		}
		return c.transition(StateFinWait)
	case StateConnecting, StateFindingRoute, StateProblemDetectedLocally, StateClosedByPeer:
		return c.transition(StateFinWait)
	case StateLinger:
		return nil
	default:
		return fmt.Errorf("%w: close from %s", ErrInvalidState, c.state)
	}
}

// ProblemDetectedLocally transitions on a local fatal error.
func (c *Connection) ProblemDetectedLocally(reason EndReason, debugMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setEndReason(reason, debugMsg)
	log.Debugf("conn %s problem reason=%d debug=%q", c.description, reason, debugMsg)
	return c.transition(StateProblemDetectedLocally)
}

// ClosedByPeer transitions on a peer-initiated close.
func (c *Connection) ClosedByPeer(reason EndReason, debugMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setEndReason(reason, debugMsg)
	return c.transition(StateClosedByPeer)
}

// BThinkCryptoReady ensures a signed (or self-signed) local
// certificate exists, requesting one from the host if policy
// requires it.
func (c *Connection) BThinkCryptoReady() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bThinkCryptoReadyLocked()
}

func (c *Connection) bThinkCryptoReadyLocked() (bool, error) {
	if c.certLocalReady {
		return true, nil
	}

	if c.identityLocal.IsLocalHost() {
		return c.generateSelfSignedLocked()
	}

	if c.cfg.AllowLocalUnsignedCert {
		return c.generateSelfSignedLocked()
	}

	if c.certSource == nil {
		c.setEndReason(EndMiscGeneric, "no cert source configured")
		_ = c.transition(StateProblemDetectedLocally)
		return false, errors.New("conn: no cert source and unsigned certs disallowed")
	}

	signed, priv, err := c.certSource.RequestCert(c.identityLocal)
	if err != nil {
		if c.cfg.AllowLocalUnsignedCert {
			return c.generateSelfSignedLocked()
		}
		c.setEndReason(EndMiscGeneric, "cert request failed")
		_ = c.transition(StateProblemDetectedLocally)
		return false, err
	}
	return c.installCertLocked(signed, priv)
}

func (c *Connection) generateSelfSignedLocked() (bool, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, err
	}
	cert := identity.Certificate{
		KeyType:  identity.KeyTypeED25519,
		Identity: c.identityLocal,
	}
	copy(cert.KeyData[:], pub)
	raw, err := identity.EncodeCertificate(cert)
	if err != nil {
		return false, err
	}
	signed := identity.SignedCertificate{Cert: raw}
	return c.installCertLocked(signed, priv)
}

func (c *Connection) installCertLocked(signed identity.SignedCertificate, priv ed25519.PrivateKey) (bool, error) {
	c.signedCertLocal = signed
	c.certPriv = priv
	c.certLocalReady = true
	return c.initLocalCryptoLocked()
}

// initLocalCryptoLocked generates the ephemeral X25519 keypair and
// signs this side's SessionCryptInfo.
func (c *Connection) initLocalCryptoLocked() (bool, error) {
	eph, err := cryptocore.GenerateEphemeral()
	if err != nil {
		return false, err
	}
	pub, err := eph.Public()
	if err != nil {
		return false, err
	}
	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return false, err
	}

	c.ephemeralLocal = eph
	c.cryptLocal = identity.SessionCryptInfo{ProtocolVersion: identity.CurrentProtocolVersion, Nonce: binary.LittleEndian.Uint64(nonceBuf[:])}
	copy(c.cryptLocal.KeyData[:], pub)
	c.signedCryptLocal = identity.SignSessionCryptInfo(c.cryptLocal, c.certPriv)
	return true, nil
}

// BRecvCryptoHandshake verifies the peer's cert and session crypt
// info, derives session keys, and installs the packet ciphers.
// Not repeatable: a second call after crypt_keys_valid is already true
// returns ErrRekeyNotSupported instead of silently no-op succeeding.
func (c *Connection) BRecvCryptoHandshake(signedCertPeer identity.SignedCertificate, signedCryptPeer identity.SignedSessionCryptInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cryptKeysValid {
		if c.metrics != nil {
			c.metrics.IncHandshakeRekeyRejected()
		}
		return ErrRekeyNotSupported
	}

	cert, warned, err := identity.VerifySignedCert(signedCertPeer, identity.VerifyOptions{
		ExpectedIdentity:   c.identityRemote,
		LocalAppID:         c.cfg.AppID,
		UnsignedPolicy:     identity.UnsignedPolicy(c.cfg.AllowRemoteUnsignedCert),
		RejectExpiredCerts: c.cfg.RejectExpiredCerts,
		Now:                uint32(time.Now().Unix()),
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadCert()
		}
		c.setEndReason(EndRemoteBadCert, err.Error())
		_ = c.transition(StateProblemDetectedLocally)
		return err
	}
	if warned {
		log.RateLimitedf("cert-expiry:"+c.identityRemote.String(), 5*time.Second, "conn %s accepted expired cert for %s", c.description, c.identityRemote)
	}
	c.certRemote = cert

	if !c.certLocalReady {
		if ok, err := c.bThinkCryptoReadyLocked(); err != nil || !ok {
			return err
		}
	}

	certPub := ed25519.PublicKey(cert.KeyData[:])
	cryptRemote, err := identity.VerifySessionCryptInfo(signedCryptPeer, certPub)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadCrypto()
		}
		c.setEndReason(EndRemoteBadCrypt, err.Error())
		_ = c.transition(StateProblemDetectedLocally)
		return err
	}
	if cryptRemote.ProtocolVersion < identity.MinProtocolVersion {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadProtocol()
		}
		c.setEndReason(EndRemoteBadProtocolVersion, "protocol version too old")
		_ = c.transition(StateProblemDetectedLocally)
		return errors.New("conn: peer protocol version too old")
	}
	if c.protocolVersionPeer != 0 && c.protocolVersionPeer != cryptRemote.ProtocolVersion {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadProtocol()
		}
		c.setEndReason(EndRemoteBadProtocolVersion, "protocol version changed")
		_ = c.transition(StateProblemDetectedLocally)
		return errors.New("conn: peer protocol version changed mid-handshake")
	}
	c.protocolVersionPeer = cryptRemote.ProtocolVersion
	c.cryptRemote = cryptRemote
	c.description = fmt.Sprintf("conn#%08x/%s", c.idLocal, identity.CertFingerprint(signedCertPeer.Cert))

	if err := cryptocore.ValidatePublicKey(cryptRemote.KeyData[:]); err != nil {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadCrypto()
		}
		c.setEndReason(EndRemoteBadCrypt, "invalid X25519 public key")
		_ = c.transition(StateProblemDetectedLocally)
		return err
	}

	premaster, err := c.ephemeralLocal.Shared(cryptRemote.KeyData[:])
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncHandshakeBadCrypto()
		}
		c.setEndReason(EndRemoteBadCrypt, "key exchange failed")
		_ = c.transition(StateProblemDetectedLocally)
		return err
	}
	c.ephemeralLocal.Destroy()
	c.ephemeralLocal = nil

	var nonceLocal, noncePeer [8]byte
	binary.LittleEndian.PutUint64(nonceLocal[:], c.cryptLocal.Nonce)
	binary.LittleEndian.PutUint64(noncePeer[:], cryptRemote.Nonce)

	keys, err := cryptocore.DeriveSessionKeys(
		premaster, nonceLocal[:], noncePeer[:],
		c.signedCertLocal.Cert, signedCertPeer.Cert,
		c.signedCryptLocal.Info, signedCryptPeer.Info,
		c.idLocal, c.idRemote, c.isServer,
	)
	if err != nil {
		c.setEndReason(EndMiscGeneric, "key derivation failed")
		_ = c.transition(StateProblemDetectedLocally)
		return err
	}

	sendCipher, err := cryptocore.NewPacketCipher(keys.SendKey, keys.IVSend)
	if err != nil {
		return err
	}
	recvCipher, err := cryptocore.NewPacketCipher(keys.RecvKey, keys.IVRecv)
	if err != nil {
		return err
	}
	c.cryptCtxSend = sendCipher
	c.cryptCtxRecv = recvCipher
	keys.Wipe()

	c.cryptKeysValid = true
	if c.metrics != nil {
		c.metrics.IncHandshakeSucceeded()
	}
	return nil
}

// EncryptOutboundPacket seals payload under the next send sequence
// number and returns the wire 16-bit sequence plus ciphertext.
func (c *Connection) EncryptOutboundPacket(payload []byte) (wireSeq uint16, ciphertext []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cryptKeysValid {
		return 0, nil, errors.New("conn: crypto keys not valid")
	}
	c.nextSendSeq++
	full := c.nextSendSeq
	ct, err := c.cryptCtxSend.Seal(full, payload)
	if err != nil {
		return 0, nil, err
	}
	return uint16(full), ct, nil
}

// DecryptInboundPacket runs the decrypt path: sequence expansion, gap
// policing, AEAD open, and stats bookkeeping.
// On a decrypt failure the packet is dropped with a warning logged at
// most once per interval per connection, and the connection state is
// left alone. On a lurch, the connection transitions to
// ProblemDetectedLocally.
func (c *Connection) DecryptInboundPacket(wireSeq uint16, ciphertext []byte) (plaintext []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cryptKeysValid {
		return nil, errors.New("conn: crypto keys not valid")
	}

	full, ok, lurchErr := c.seqTracker.Expand(wireSeq)
	if lurchErr != nil {
		if c.metrics != nil {
			c.metrics.IncPacketSeqLurch()
		}
		c.setEndReason(EndMiscGeneric, lurchErr.Error())
		_ = c.transition(StateProblemDetectedLocally)
		return nil, lurchErr
	}
	if !ok {
		if c.metrics != nil {
			c.metrics.IncPacketDropReplay()
		}
		return nil, errDroppedReplay
	}

	pt, err := c.cryptCtxRecv.Open(full, ciphertext)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncPacketDropTagFailure()
		}
		log.RateLimitedf("decrypt-tag:"+c.description, 5*time.Second, "conn %s dropped packet with bad AEAD tag", c.description)
		return nil, errDroppedTagFailure
	}

	c.haveRecvAnyPacket = true
	c.lastRecvAt = time.Now()
	c.replyTimeoutsSinceLastRecv = 0
	if c.state == StateConnecting || c.state == StateFindingRoute {
		_ = c.transition(StateConnected)
	}
	return pt, nil
}

var (
	errDroppedReplay     = errors.New("conn: dropped (stale/replay sequence)")
	errDroppedTagFailure = errors.New("conn: dropped (AEAD tag failure)")
)

// MarkSyntheticRecv records a zero-ping received-packet sample without
// any AEAD traffic, for collaborators that have no real wire to
// receive a packet over — such as a loopback pair, which synthesizes
// a sequence number and a zero-ping sample. It drives the same
// Connecting/FindingRoute -> Connected transition a real first packet
// would.
func (c *Connection) MarkSyntheticRecv() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haveRecvAnyPacket = true
	c.lastRecvAt = time.Now()
	if c.state == StateConnecting || c.state == StateFindingRoute {
		return c.transition(StateConnected)
	}
	return nil
}

// DeliverMessage pushes a completed application message (as produced
// by the reliability collaborator) onto the receive queue, assigning
// the next message_number.
func (c *Connection) DeliverMessage(payload []byte) *msgqueue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextMessageNumber++
	m := &msgqueue.Message{Number: c.nextMessageNumber, Payload: payload}
	c.recvQueue.LinkToTail(m)
	return m
}

// RecvQueue exposes the per-connection receive queue.
func (c *Connection) RecvQueue() *msgqueue.Queue {
	return c.recvQueue
}

// NextThink computes the think-scheduling window for the
// connection's current state.
func (c *Connection) NextThink(now time.Time) connclock.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnecting, StateFindingRoute:
		return connclock.Soon(c.enteredStateAt.Add(c.cfg.ConnectRetryInterval))
	case StateConnected, StateLinger:
		return connclock.Earlier(c.reliability.NextWake(), connclock.Soon(c.nextKeepaliveDeadlineLocked(now)))
	case StateFinWait:
		return connclock.Soon(c.enteredStateAt.Add(c.cfg.FinWaitTimeout))
	default:
		return connclock.Window{}
	}
}

func (c *Connection) nextKeepaliveDeadlineLocked(now time.Time) time.Time {
	if c.replyTimeoutsSinceLastRecv > 0 {
		return c.lastKeepaliveSentAt.Add(c.cfg.AggressivePingInterval)
	}
	return c.lastRecvAt.Add(c.cfg.KeepAliveInterval)
}

// Think drives the think-scheduling table for one tick. It is not
// re-entrant; callers (the dispatcher) must serialize calls per
// connection.
func (c *Connection) Think(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting, StateFindingRoute:
		return c.thinkHandshakingLocked(now)
	case StateConnected:
		return c.thinkConnectedLocked(now)
	case StateLinger:
		if !c.reliability.HasUnacked() {
			return c.transition(StateFinWait)
		}
		return c.thinkConnectedLocked(now)
	case StateFinWait:
		if now.Sub(c.enteredStateAt) >= c.cfg.FinWaitTimeout {
			return c.transition(StateDead)
		}
		return nil
	case StateClosedByPeer, StateProblemDetectedLocally:
		return nil
	default:
		return nil
	}
}

func (c *Connection) thinkHandshakingLocked(now time.Time) error {
	if now.Sub(c.enteredStateAt) >= c.cfg.TimeoutInitial && !c.haveRecvAnyPacket {
		if c.metrics != nil {
			c.metrics.IncHandshakeTimeout()
		}
		c.setEndReason(EndMiscTimeout, "timed out waiting for peer")
		return c.transition(StateProblemDetectedLocally)
	}
	if _, err := c.bThinkCryptoReadyLocked(); err != nil {
		return err
	}
	if !c.isServer && now.Sub(c.sentConnectRequestAt) >= c.cfg.ConnectRetryInterval {
		c.sentConnectRequestAt = now
	}
	return nil
}

func (c *Connection) thinkConnectedLocked(now time.Time) error {
	if c.replyTimeoutsSinceLastRecv >= c.cfg.MaxReplyTimeouts {
		c.setEndReason(EndMiscTimeout, "too many unanswered keepalives")
		return c.transition(StateProblemDetectedLocally)
	}
	deadline := c.nextKeepaliveDeadlineLocked(now)
	if !now.Before(deadline) {
		c.lastKeepaliveSentAt = now
		c.replyTimeoutsSinceLastRecv++
		if c.metrics != nil {
			c.metrics.IncPacketKeepaliveSent()
			if c.replyTimeoutsSinceLastRecv > 1 {
				c.metrics.IncPacketReplyTimeout()
			}
		}
	}
	return nil
}
