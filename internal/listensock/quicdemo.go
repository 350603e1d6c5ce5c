// quicdemo.go adapts a QUIC dial/listen pattern (one QUIC connection,
// one stream per message, a self-signed dev TLS cert keyed off a
// fixed seed) into a listensock.Transport. Low-level socket I/O is an
// external collaborator of the connection core, not a core concern —
// this exists so a host without a real transport of its own can still
// exercise ListenSocket end to end against real sockets in an example
// or integration test.
package listensock

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
)

// QUICTransport is a Transport implementation over github.com/quic-go/quic-go,
// framing each SendTo call as one QUIC stream carrying exactly one
// datagram's worth of bytes (teacher's one-stream-per-message shape).
type QUICTransport struct {
	addr string

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
}

// NewQUICTransport returns a transport that will listen on addr.
func NewQUICTransport(addr string) *QUICTransport {
	return &QUICTransport{addr: addr}
}

func devTLSCert() (tls.Certificate, *x509.Certificate, error) {
	seed := sha256.Sum256([]byte("sdconn-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, template, template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, leaf, nil
}

// zeroReader makes dev-certificate generation deterministic: the only
// randomness x509.CreateCertificate consumes is for the signature,
// which Ed25519 derives entirely from the seed, so an all-zero
// "random" stream is safe here and keeps repeated runs byte-identical.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"sdconn-quic"}}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	_, leaf, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &tls.Config{RootCAs: pool, NextProtos: []string{"sdconn-quic"}}, nil
}

// Listen implements Transport: accept QUIC connections, read one
// stream's full contents as one datagram, and invoke recv.
func (t *QUICTransport) Listen(recv func(remoteAddr string, data []byte)) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(t.addr, tlsConf, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			if t.isClosed() {
				return nil
			}
			return err
		}
		go t.serveConn(conn, recv)
	}
}

func (t *QUICTransport) serveConn(conn quic.Connection, recv func(remoteAddr string, data []byte)) {
	remote := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()
			data, err := io.ReadAll(stream)
			if err != nil && !errors.Is(err, io.EOF) {
				return
			}
			if len(data) == 0 {
				return
			}
			recv(remote, data)
		}()
	}
}

// SendTo dials remoteAddr fresh and writes data as one QUIC stream.
// One connection per call; a host wanting connection reuse would pool
// quic.Connection values itself (out of scope here, same as the rest of socket
// I/O).
func (t *QUICTransport) SendTo(remoteAddr string, data []byte) error {
	tlsConf, err := clientTLSConfig()
	if err != nil {
		return err
	}
	conn, err := quic.DialAddr(context.Background(), remoteAddr, tlsConf, nil)
	if err != nil {
		return err
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return err
	}
	return stream.Close()
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	ln := t.listener
	t.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (t *QUICTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
