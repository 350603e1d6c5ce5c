// Package wire implements the on-the-wire envelope formats for a
// SignedCertificate and a SignedSessionCryptInfo, plus the
// certificate's PEM-style text representation ("BEGIN/END
// STEAMDATAGRAM CERT markers wrapping base64 of the signed
// envelope"). The binary envelope shape generalizes a length-prefixed
// framing pattern from a single flat frame into the two fixed
// sub-fields (cert bytes + optional CA signature) a certificate
// actually needs.
package wire

import (
	"encoding/binary"
	"encoding/pem"
	"errors"

	"sdconn/internal/identity"
)

// PEMType is the PEM block type: "BEGIN STEAMDATAGRAM CERT" /
// "END STEAMDATAGRAM CERT".
const PEMType = "STEAMDATAGRAM CERT"

// EncodeSignedCertificate serializes a SignedCertificate to its binary
// wire envelope: the serialized certificate, then an optional
// {ca_key_id, ca_signature} trailer.
func EncodeSignedCertificate(sc identity.SignedCertificate) []byte {
	buf := make([]byte, 0, len(sc.Cert)+16)
	buf = appendUvarint(buf, uint64(len(sc.Cert)))
	buf = append(buf, sc.Cert...)

	var flags byte
	if sc.HasCAKeyID {
		flags |= 1 << 0
	}
	if sc.HasCASignature {
		flags |= 1 << 1
	}
	buf = append(buf, flags)
	if sc.HasCAKeyID {
		buf = appendUint64(buf, sc.CAKeyID)
	}
	if sc.HasCASignature {
		buf = append(buf, sc.CASignature[:]...)
	}
	return buf
}

// DecodeSignedCertificate is the inverse of EncodeSignedCertificate.
func DecodeSignedCertificate(data []byte) (identity.SignedCertificate, error) {
	var sc identity.SignedCertificate
	r := &reader{buf: data}

	n, err := r.uvarint()
	if err != nil {
		return sc, err
	}
	cert, err := r.take(int(n))
	if err != nil {
		return sc, err
	}
	sc.Cert = append([]byte(nil), cert...)

	flags, err := r.byte_()
	if err != nil {
		return sc, err
	}
	sc.HasCAKeyID = flags&(1<<0) != 0
	sc.HasCASignature = flags&(1<<1) != 0
	if sc.HasCAKeyID {
		sc.CAKeyID, err = r.uint64()
		if err != nil {
			return sc, err
		}
	}
	if sc.HasCASignature {
		sig, err := r.take(64)
		if err != nil {
			return sc, err
		}
		copy(sc.CASignature[:], sig)
	}
	if !r.empty() {
		return sc, errors.New("wire: trailing bytes in signed certificate")
	}
	return sc, nil
}

// EncodeSignedSessionCryptInfo serializes a SignedSessionCryptInfo to
// its binary wire envelope: the serialized SessionCryptInfo, then its
// fixed-size signature.
func EncodeSignedSessionCryptInfo(s identity.SignedSessionCryptInfo) []byte {
	buf := make([]byte, 0, len(s.Info)+64+8)
	buf = appendUvarint(buf, uint64(len(s.Info)))
	buf = append(buf, s.Info...)
	buf = append(buf, s.Signature[:]...)
	return buf
}

// DecodeSignedSessionCryptInfo is the inverse of
// EncodeSignedSessionCryptInfo.
func DecodeSignedSessionCryptInfo(data []byte) (identity.SignedSessionCryptInfo, error) {
	var s identity.SignedSessionCryptInfo
	r := &reader{buf: data}

	n, err := r.uvarint()
	if err != nil {
		return s, err
	}
	info, err := r.take(int(n))
	if err != nil {
		return s, err
	}
	s.Info = append([]byte(nil), info...)

	sig, err := r.take(64)
	if err != nil {
		return s, err
	}
	copy(s.Signature[:], sig)

	if !r.empty() {
		return s, errors.New("wire: trailing bytes in signed crypt info")
	}
	return s, nil
}

// EncodeCertPEM renders a SignedCertificate as PEM-style text:
// BEGIN/END STEAMDATAGRAM CERT markers wrapping base64 of the binary
// envelope.
func EncodeCertPEM(sc identity.SignedCertificate) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  PEMType,
		Bytes: EncodeSignedCertificate(sc),
	})
}

// DecodeCertPEM is the inverse of EncodeCertPEM.
func DecodeCertPEM(text []byte) (identity.SignedCertificate, error) {
	block, _ := pem.Decode(text)
	if block == nil {
		return identity.SignedCertificate{}, errors.New("wire: no PEM block found")
	}
	if block.Type != PEMType {
		return identity.SignedCertificate{}, errors.New("wire: unexpected PEM block type " + block.Type)
	}
	return DecodeSignedCertificate(block.Bytes)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) empty() bool { return r.pos >= len(r.buf) }

func (r *reader) byte_() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("wire: truncated")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.pos {
		return nil, errors.New("wire: truncated")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New("wire: bad varint")
	}
	r.pos += n
	return v, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
