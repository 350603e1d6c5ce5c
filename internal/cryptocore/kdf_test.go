package cryptocore

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"golang.org/x/crypto/hkdf"
)

// manualExpandBlocks reproduces the four-iteration HMAC chain by hand,
// independently of hkdf.Expand's io.Reader, and returns each digest
// block T1..T4 in full (32 bytes each) so a test can slice its own
// leading out_size[i] bytes and compare against DeriveSessionKeys.
func manualExpandBlocks(prk, ctx []byte) [4][]byte {
	var blocks [4][]byte
	var prev []byte
	for i := 1; i <= 4; i++ {
		mac := hmac.New(sha256.New, prk)
		mac.Write(prev)
		mac.Write(ctx)
		mac.Write([]byte{byte(i)})
		blocks[i-1] = mac.Sum(nil)
		prev = blocks[i-1]
	}
	return blocks
}

func TestDeriveSessionKeysMatchesPerBlockExpand(t *testing.T) {
	premaster := bytes.Repeat([]byte{0x11}, 32)
	nonceLocal := bytes.Repeat([]byte{0x22}, 8)
	noncePeer := bytes.Repeat([]byte{0x33}, 8)
	certLocal := []byte("cert-local")
	certPeer := []byte("cert-peer")
	infoLocal := []byte("info-local")
	infoPeer := []byte("info-peer")

	got, err := DeriveSessionKeys(append([]byte(nil), premaster...), nonceLocal, noncePeer, certLocal, certPeer, infoLocal, infoPeer, 100, 200, false)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	salt := append(append([]byte{}, noncePeer...), nonceLocal...)
	prk := hkdf.Extract(sha256.New, premaster, salt)

	idLocal := []byte{100, 0, 0, 0}
	idRemote := []byte{200, 0, 0, 0}
	ctx := buildContext(idLocal, idRemote, certLocal, certPeer, infoLocal, infoPeer)

	blocks := manualExpandBlocks(prk, ctx)
	wantSend := blocks[0][:keySize]
	wantRecv := blocks[1][:keySize]
	wantIVSend := blocks[2][:ivSize]
	wantIVRecv := blocks[3][:ivSize]

	if !bytes.Equal(got.SendKey, wantSend) {
		t.Fatalf("send key mismatch: got %x want %x", got.SendKey, wantSend)
	}
	if !bytes.Equal(got.RecvKey, wantRecv) {
		t.Fatalf("recv key mismatch: got %x want %x", got.RecvKey, wantRecv)
	}
	if !bytes.Equal(got.IVSend, wantIVSend) {
		t.Fatalf("iv_send mismatch: got %x want %x", got.IVSend, wantIVSend)
	}
	if !bytes.Equal(got.IVRecv, wantIVRecv) {
		t.Fatalf("iv_recv mismatch: got %x want %x", got.IVRecv, wantIVRecv)
	}

	// A continuous read off hkdf.Expand's reader would instead yield
	// iv_recv = T3[12:24], which must NOT equal T4[:12] here (the two
	// digest blocks are independent HMAC outputs, not a shared block).
	if bytes.Equal(blocks[2][ivSize:2*ivSize], wantIVRecv) {
		t.Fatalf("test fixture degenerate: T3[12:24] coincidentally equals T4[:12]")
	}
}

func TestDeriveSessionKeysRoleSwapSymmetric(t *testing.T) {
	premaster := func() []byte { return bytes.Repeat([]byte{0x44}, 32) }
	nonceA := bytes.Repeat([]byte{0x01}, 8)
	nonceB := bytes.Repeat([]byte{0x02}, 8)
	certA := []byte("cert-a")
	certB := []byte("cert-b")
	infoA := []byte("info-a")
	infoB := []byte("info-b")

	client, err := DeriveSessionKeys(premaster(), nonceA, nonceB, certA, certB, infoA, infoB, 10, 20, false)
	if err != nil {
		t.Fatalf("client derive: %v", err)
	}
	server, err := DeriveSessionKeys(premaster(), nonceB, nonceA, certB, certA, infoB, infoA, 20, 10, true)
	if err != nil {
		t.Fatalf("server derive: %v", err)
	}

	if !bytes.Equal(client.SendKey, server.RecvKey) {
		t.Fatalf("client send key must equal server recv key")
	}
	if !bytes.Equal(client.RecvKey, server.SendKey) {
		t.Fatalf("client recv key must equal server send key")
	}
	if !bytes.Equal(client.IVSend, server.IVRecv) {
		t.Fatalf("client iv_send must equal server iv_recv")
	}
	if !bytes.Equal(client.IVRecv, server.IVSend) {
		t.Fatalf("client iv_recv must equal server iv_send")
	}
}
