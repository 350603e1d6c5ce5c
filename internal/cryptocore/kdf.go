package cryptocore

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	ivSize    = 12
	contextID = "Steam datagram"
)

// SessionKeys is the HKDF Expand output, already role-resolved:
// SendKey/RecvKey/IVSend/IVRecv are from this side's point of view.
type SessionKeys struct {
	SendKey []byte
	RecvKey []byte
	IVSend  []byte
	IVRecv  []byte
}

// Wipe zeroes every key and IV in ks.
func (ks SessionKeys) Wipe() {
	Wipe(ks.SendKey)
	Wipe(ks.RecvKey)
	Wipe(ks.IVSend)
	Wipe(ks.IVRecv)
}

// DeriveSessionKeys derives a role-resolved key/IV bundle from a
// shared secret. It is RFC 5869 HKDF under the hood: the Extract step
// is PRK = HMAC_SHA256(salt, premaster) with a role-swapped salt, and
// the Expand step chains four digest blocks T1..T4 = HMAC_SHA256(PRK,
// T(i-1) ∥ context ∥ i) off the same context buffer, then takes each
// output's own leading slice of each block rather than a continuous
// substring of the concatenated stream: key_send = T1[:32],
// key_recv = T2[:32], iv_send = T3[:12], iv_recv = T4[:12]. Reading a
// continuous run of hkdf.Expand's io.Reader would instead hand back
// iv_recv = T3[12:24], which is wrong whenever an output is shorter
// than the hash size — so this reads one full hash-sized block per
// output and slices each block independently.
//
// premaster is wiped before returning.
func DeriveSessionKeys(premaster, nonceLocal, noncePeer []byte, certLocal, certPeer, infoLocal, infoPeer []byte, connIDLocal, connIDRemote uint32, isServer bool) (SessionKeys, error) {
	if len(premaster) == 0 {
		return SessionKeys{}, errors.New("cryptocore: empty premaster secret")
	}
	defer Wipe(premaster)

	salt := make([]byte, 0, 16)
	salt = append(salt, noncePeer...)
	salt = append(salt, nonceLocal...)
	// salt = nonce_peer ∥ nonce_local; if is_server, swap the two
	// halves so both sides agree on byte order.
	if isServer {
		salt = swapHalves(salt, 8)
	}

	prk := hkdf.Extract(sha256.New, premaster, salt)

	idLocal := make([]byte, 4)
	idRemote := make([]byte, 4)
	binary.LittleEndian.PutUint32(idLocal, connIDLocal)
	binary.LittleEndian.PutUint32(idRemote, connIDRemote)

	var ctx []byte
	if isServer {
		ctx = buildContext(idRemote, idLocal, certPeer, certLocal, infoPeer, infoLocal)
	} else {
		ctx = buildContext(idLocal, idRemote, certLocal, certPeer, infoLocal, infoPeer)
	}

	const hashSize = sha256.Size
	reader := hkdf.Expand(sha256.New, prk, ctx)
	blocks := make([]byte, 4*hashSize)
	if _, err := io.ReadFull(reader, blocks); err != nil {
		return SessionKeys{}, err
	}

	t1 := blocks[0*hashSize : 1*hashSize]
	t2 := blocks[1*hashSize : 2*hashSize]
	t3 := blocks[2*hashSize : 3*hashSize]
	t4 := blocks[3*hashSize : 4*hashSize]

	keyA := t1[:keySize]
	keyB := t2[:keySize]
	ivA := t3[:ivSize]
	ivB := t4[:ivSize]

	if isServer {
		keyA, keyB = keyB, keyA
		ivA, ivB = ivB, ivA
	}

	return SessionKeys{SendKey: keyA, RecvKey: keyB, IVSend: ivA, IVRecv: ivB}, nil
}

func buildContext(connIDFirst, connIDSecond, certFirst, certSecond, infoFirst, infoSecond []byte) []byte {
	buf := make([]byte, 0, 4+4+len(contextID)+len(certFirst)+len(certSecond)+len(infoFirst)+len(infoSecond))
	buf = append(buf, connIDFirst...)
	buf = append(buf, connIDSecond...)
	buf = append(buf, []byte(contextID)...)
	buf = append(buf, certFirst...)
	buf = append(buf, certSecond...)
	buf = append(buf, infoFirst...)
	buf = append(buf, infoSecond...)
	return buf
}

func swapHalves(b []byte, half int) []byte {
	out := make([]byte, len(b))
	copy(out[:half], b[half:half*2])
	copy(out[half:half*2], b[:half])
	return out
}
