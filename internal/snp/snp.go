// Package snp defines the boundary between the connection core and the
// reliability/reassembly/congestion-control engine. The engine itself
// is out of scope for this package; it only declares the interface
// the core depends on, plus Loopback, a minimal in-memory stand-in
// used by internal/pipe and by the core's own tests.
package snp

import "sdconn/internal/connclock"

// Message is one fragment-reassembled, in-order (per whatever policy
// the real engine implements) application payload ready for delivery
// to a connection's receive queue.
type Message struct {
	Payload []byte
	Channel int32
}

// Reliability is the collaborator interface a Connection drives. A
// real implementation fragments outbound sends, retransmits unacked
// reliable data, reorders and reassembles inbound fragments, and runs
// its own congestion control; it schedules its own wakeups via
// NextWake so the connection's think loop can merge them with the
// handshake/keepalive schedule.
type Reliability interface {
	// OnPacketPayload feeds one decrypted packet payload in and
	// returns zero or more completed application messages.
	OnPacketPayload(payload []byte) ([]Message, error)
	// SendReliable and SendUnreliable enqueue outbound application
	// data; the engine is responsible for eventually producing it as
	// packet payloads via NextOutboundPacket.
	SendReliable(payload []byte) error
	SendUnreliable(payload []byte) error
	// NextOutboundPacket returns the next packet payload ready to be
	// encrypted and sent, if any.
	NextOutboundPacket() ([]byte, bool)
	// NextWake reports when the engine next needs to run (retransmit
	// timers, pacing, etc).
	NextWake() connclock.Window
	// HasUnacked reports whether any reliable data is still awaiting
	// acknowledgment, gating the Linger→FinWait transition.
	HasUnacked() bool
}

// Loopback is a trivial Reliability that does no fragmentation,
// reassembly, or retransmission: every send is immediately available
// as the next outbound packet, and every received payload becomes one
// completed message. It exists for internal/pipe's self-wired
// connections, where there is no wire to be unreliable over.
type Loopback struct {
	outbound [][]byte
}

// NewLoopback returns an empty Loopback collaborator.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) OnPacketPayload(payload []byte) ([]Message, error) {
	return []Message{{Payload: append([]byte(nil), payload...)}}, nil
}

func (l *Loopback) SendReliable(payload []byte) error {
	l.outbound = append(l.outbound, append([]byte(nil), payload...))
	return nil
}

func (l *Loopback) SendUnreliable(payload []byte) error {
	return l.SendReliable(payload)
}

func (l *Loopback) NextOutboundPacket() ([]byte, bool) {
	if len(l.outbound) == 0 {
		return nil, false
	}
	p := l.outbound[0]
	l.outbound = l.outbound[1:]
	return p, true
}

func (l *Loopback) NextWake() connclock.Window {
	return connclock.Window{}
}

func (l *Loopback) HasUnacked() bool {
	return false
}
