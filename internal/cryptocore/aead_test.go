package cryptocore

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKeyIV(t *testing.T) (key, iv []byte) {
	t.Helper()
	key = make([]byte, KeySize)
	iv = make([]byte, IVSize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand key: %v", err)
	}
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand iv: %v", err)
	}
	return key, iv
}

func TestPacketCipherRoundTrip(t *testing.T) {
	key, iv := testKeyIV(t)
	sender, err := NewPacketCipher(key, iv)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	receiver, err := NewPacketCipher(key, iv)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	plaintext := []byte("hello datagram")
	for _, seq := range []int64{0, 1, 2, 65536, 1 << 40} {
		ct, err := sender.Seal(seq, plaintext)
		if err != nil {
			t.Fatalf("seal seq=%d: %v", seq, err)
		}
		pt, err := receiver.Open(seq, ct)
		if err != nil {
			t.Fatalf("open seq=%d: %v", seq, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatalf("round trip mismatch at seq=%d", seq)
		}
	}
}

func TestPacketCipherTamperDetection(t *testing.T) {
	key, iv := testKeyIV(t)
	sender, _ := NewPacketCipher(key, iv)
	receiver, _ := NewPacketCipher(key, iv)

	ct, err := sender.Seal(5, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0xff
		if _, err := receiver.Open(5, tampered); err == nil {
			t.Fatalf("expected tag failure with byte %d flipped", i)
		}
	}
}

func TestPacketCipherWrongSequenceRejected(t *testing.T) {
	key, iv := testKeyIV(t)
	sender, _ := NewPacketCipher(key, iv)
	receiver, _ := NewPacketCipher(key, iv)

	ct, err := sender.Seal(10, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := receiver.Open(11, ct); err == nil {
		t.Fatalf("expected failure decrypting under wrong sequence number")
	}
}

func TestPacketCipherBaseIVUnmodified(t *testing.T) {
	key, iv := testKeyIV(t)
	origIV := append([]byte(nil), iv...)
	pc, err := NewPacketCipher(key, iv)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := pc.Seal(12345, []byte("x")); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !bytes.Equal(pc.baseI[:], origIV) {
		t.Fatalf("base IV mutated across calls")
	}
}
