// Package pipe implements a loopback connection pair: two Connections
// wired directly to each other with no wire and no real encryption
// path between them. The cross-registration shape (two endpoints
// registering pointers to each other instead of dialing a socket) is
// adapted here to wire conn.Connection objects instead of a raw
// packet channel.
package pipe

import (
	"fmt"

	"sdconn/internal/config"
	"sdconn/internal/conn"
	"sdconn/internal/identity"
	"sdconn/internal/registry"
)

// Pair is the two connection endpoints of a loopback pipe, wired
// directly to each other. Sending on one side's Send delivers straight
// into the other side's receive queue.
type Pair struct {
	A, B *Connection
}

// Connection wraps a conn.Connection with its pipe partner, since the
// Connection itself has no notion of "the wire" to short-circuit.
type Connection struct {
	*conn.Connection
	partner  *Connection
	registry *registry.Registry
}

// CreatePair performs, for each side, standard init and installs an
// unsigned self-signed cert, then cross-feeds the other side's signed
// cert and signed crypt into BRecvCryptoHandshake, with one side
// designated is_server=true. Both reach Connected. No real encryption
// happens on the wire since there is no wire — the crypto handshake
// still runs so crypt_keys_valid and the derived keys are
// well-defined, but send/recv payloads are delivered directly rather
// than being encrypted in transit.
func CreatePair(identityA, identityB identity.Identity, cfg config.Config) (*Pair, error) {
	reg := registry.New()

	idA, err := reg.Allocate()
	if err != nil {
		return nil, fmt.Errorf("pipe: allocate id for A: %w", err)
	}
	idB, err := reg.Allocate()
	if err != nil {
		return nil, fmt.Errorf("pipe: allocate id for B: %w", err)
	}

	connA := conn.New(idA, identityA, cfg, nil)
	connB := conn.New(idB, identityB, cfg, nil)

	if err := reg.Insert(idA, connA); err != nil {
		return nil, err
	}
	if err := reg.Insert(idB, connB); err != nil {
		return nil, err
	}

	if err := connA.BInit(identityB); err != nil {
		return nil, fmt.Errorf("pipe: A init: %w", err)
	}
	if err := connB.BBeginAccept(identityA); err != nil {
		return nil, fmt.Errorf("pipe: B accept: %w", err)
	}
	connA.SetIDRemote(idB)
	connB.SetIDRemote(idA)

	if _, err := connA.BThinkCryptoReady(); err != nil {
		return nil, fmt.Errorf("pipe: A crypto ready: %w", err)
	}
	if _, err := connB.BThinkCryptoReady(); err != nil {
		return nil, fmt.Errorf("pipe: B crypto ready: %w", err)
	}

	if err := connB.BRecvCryptoHandshake(connA.SignedCertLocal(), connA.SignedCryptLocal()); err != nil {
		return nil, fmt.Errorf("pipe: B handshake: %w", err)
	}
	if err := connA.BRecvCryptoHandshake(connB.SignedCertLocal(), connB.SignedCryptLocal()); err != nil {
		return nil, fmt.Errorf("pipe: A handshake: %w", err)
	}

	a := &Connection{Connection: connA, registry: reg}
	b := &Connection{Connection: connB, registry: reg}
	a.partner = b
	b.partner = a

	// Fabricate a zero-ping received-packet sample on each side so the
	// state machine's Connecting/FindingRoute -> Connected rule ("at
	// least one received packet recorded") is satisfied without
	// actually pushing bytes through the crypto layer. A real
	// encrypt-then-decrypt round trip against itself would fail here:
	// the two sides derive role-asymmetric send/recv keys, so a
	// connection's own send cipher and recv cipher never agree.
	if err := a.MarkSyntheticRecv(); err != nil {
		return nil, err
	}
	if err := b.MarkSyntheticRecv(); err != nil {
		return nil, err
	}

	return &Pair{A: a, B: b}, nil
}

// Send delivers payload directly into the partner's receive queue.
// message_number is assigned by DeliverMessage; no real encryption
// occurs on the wire since there is no wire.
func (c *Connection) Send(payload []byte) error {
	c.partner.DeliverMessage(append([]byte(nil), payload...))
	return nil
}
