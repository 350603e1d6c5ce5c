// Package listensock implements the listen socket: the parent that
// owns a map of child connections and an aggregate receive queue
// merge-ordered by arrival across children, via a "separate link
// pair" dual membership. The accept-loop shape (one goroutine per
// listener, handing inbound bytes to a callback) and a
// map-of-children-keyed-by-id pattern are generalized here to own
// conn.Connection children instead of bare peer records.
package listensock

import (
	"fmt"
	"sync"

	"sdconn/internal/conn"
	"sdconn/internal/config"
	"sdconn/internal/identity"
	"sdconn/internal/metrics"
	"sdconn/internal/msgqueue"
	"sdconn/internal/registry"
)

// Transport is the collaborator a ListenSocket drives to move raw
// bytes to and from the wire, preferring an interface over a
// concrete transport for the listen socket's wire layer.
// Listen/SendTo/Close is that interface's minimal shape, implemented
// by internal/listensock/quicdemo (a real QUIC listener/dialer).
type Transport interface {
	// Listen starts accepting inbound datagrams, invoking recv for
	// each one with the sender's address and raw payload, until Close
	// is called.
	Listen(recv func(remoteAddr string, data []byte)) error
	// SendTo delivers data to remoteAddr.
	SendTo(remoteAddr string, data []byte) error
	Close() error
}

// ChildConn is one connection accepted by a ListenSocket.
type ChildConn struct {
	*conn.Connection
	RemoteAddr string

	parent *ListenSocket
}

// ListenSocket owns a set of accepted connections and the aggregate
// queue their delivered messages are additionally linked onto: each
// message is additionally on the parent's aggregate queue via a
// separate link pair.
type ListenSocket struct {
	mu sync.Mutex

	localIdentity identity.Identity
	cfg           config.Config
	registry      *registry.Registry
	transport     Transport
	metrics       *metrics.Metrics

	children map[uint32]*ChildConn
	byAddr   map[string]*ChildConn
	aggregate *msgqueue.Queue

	inboundHandler func(remoteAddr string, data []byte)
}

// New builds a ListenSocket bound to reg for connection-ID allocation
// and transport for its wire I/O. reg must outlive the ListenSocket.
func New(localIdentity identity.Identity, cfg config.Config, reg *registry.Registry, transport Transport) *ListenSocket {
	return &ListenSocket{
		localIdentity: localIdentity,
		cfg:           cfg,
		registry:      reg,
		transport:     transport,
		children:      make(map[uint32]*ChildConn),
		byAddr:        make(map[string]*ChildConn),
		aggregate:     msgqueue.NewQueue(msgqueue.LinkListen),
	}
}

// SetMetrics installs the counters collaborator shared with every
// accepted child.
func (ls *ListenSocket) SetMetrics(m *metrics.Metrics) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.metrics = m
}

// Listen starts the transport's accept loop. It blocks until the
// transport's Listen returns (normally on Close).
func (ls *ListenSocket) Listen() error {
	return ls.transport.Listen(ls.onInbound)
}

// Close releases the transport and every child connection's
// allocation in the registry.
func (ls *ListenSocket) Close() error {
	ls.mu.Lock()
	children := make([]*ChildConn, 0, len(ls.children))
	for _, c := range ls.children {
		children = append(children, c)
	}
	ls.mu.Unlock()

	for _, c := range children {
		ls.registry.Remove(c.IDLocal())
	}
	return ls.transport.Close()
}

// AcceptChild registers a new server-side connection for remoteAddr,
// allocating a connection id from the registry and moving it to
// Connecting via BBeginAccept. Exported (rather than folded into
// onInbound) so tests and the quicdemo transport can drive acceptance
// directly against a known remote identity.
func (ls *ListenSocket) AcceptChild(remoteAddr string, remoteIdentity identity.Identity) (*ChildConn, error) {
	id, err := ls.registry.Allocate()
	if err != nil {
		return nil, fmt.Errorf("listensock: allocate child id: %w", err)
	}

	c := conn.New(id, ls.localIdentity, ls.cfg, nil)
	ls.mu.Lock()
	m := ls.metrics
	ls.mu.Unlock()
	if m != nil {
		c.SetMetrics(m)
	}
	if err := ls.registry.Insert(id, c); err != nil {
		return nil, err
	}
	if err := c.BBeginAccept(remoteIdentity); err != nil {
		ls.registry.Remove(id)
		return nil, err
	}

	child := &ChildConn{Connection: c, RemoteAddr: remoteAddr, parent: ls}

	ls.mu.Lock()
	ls.children[id] = child
	ls.byAddr[remoteAddr] = child
	ls.mu.Unlock()

	return child, nil
}

// RemoveChild detaches child from this listen socket's maps and
// releases its id back to the registry's recent-ID ring. The
// connection itself has already run its own teardown (wiping crypto,
// reaching Dead) by the time a caller removes it here.
func (ls *ListenSocket) RemoveChild(child *ChildConn) {
	ls.mu.Lock()
	delete(ls.children, child.IDLocal())
	delete(ls.byAddr, child.RemoteAddr)
	ls.mu.Unlock()
	ls.registry.Remove(child.IDLocal())
}

// DeliverToChild delivers payload to child's own receive queue and,
// since every accepted connection has this ListenSocket as its parent,
// additionally links the same Message onto the aggregate queue via
// its independent link pair.
func (ls *ListenSocket) DeliverToChild(child *ChildConn, payload []byte) *msgqueue.Message {
	msg := child.DeliverMessage(payload)
	ls.mu.Lock()
	ls.aggregate.LinkToTail(msg)
	ls.mu.Unlock()
	return msg
}

// RecvQueue returns the aggregate queue, merge-ordered by arrival
// across every child connection.
func (ls *ListenSocket) RecvQueue() *msgqueue.Queue {
	return ls.aggregate
}

// ChildByAddr looks up an already-accepted child by remote address.
func (ls *ListenSocket) ChildByAddr(remoteAddr string) (*ChildConn, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	c, ok := ls.byAddr[remoteAddr]
	return c, ok
}

// onInbound is the transport's per-datagram callback: it hands the
// raw bytes to the handler installed with SetInboundHandler, or drops
// them if none is installed. It does not look up or create children
// and does not touch the child map; the handler does that itself via
// ChildByAddr and AcceptChild. This package stays agnostic of the wire
// frame format (cert/crypt handshake vs. encrypted data packet), so a
// host wiring a real transport supplies its own framing in that
// handler.
func (ls *ListenSocket) onInbound(remoteAddr string, data []byte) {
	ls.mu.Lock()
	handler := ls.inboundHandler
	ls.mu.Unlock()
	if handler != nil {
		handler(remoteAddr, data)
	}
}

// SetInboundHandler installs the host's raw-datagram handler, invoked
// for every inbound datagram the transport receives (including the
// very first one from an address with no child yet, so the handler
// can decide whether to AcceptChild).
func (ls *ListenSocket) SetInboundHandler(handler func(remoteAddr string, data []byte)) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.inboundHandler = handler
}
