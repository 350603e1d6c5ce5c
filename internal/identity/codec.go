package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// The wire format here is a small fixed-schema binary encoding rather
// than a general-purpose serialization library (see DESIGN.md):
// Certificate's shape is stable and small enough that hand-rolled TLV
// framing is the natural choice a library would make for it
// internally anyway.

// EncodeCertificate serializes a Certificate to bytes. Serialize then
// DecodeCertificate is a fixed point for well-formed input.
func EncodeCertificate(c Certificate) ([]byte, error) {
	if c.KeyType != KeyTypeED25519 {
		return nil, fmt.Errorf("identity: unsupported key type")
	}
	buf := make([]byte, 0, 96)
	buf = append(buf, byte(c.KeyType))
	buf = append(buf, c.KeyData[:]...)

	idBytes, err := encodeIdentity(c.Identity)
	if err != nil {
		return nil, err
	}
	buf = appendUvarint(buf, uint64(len(idBytes)))
	buf = append(buf, idBytes...)

	var flags byte
	if c.HasAppID {
		flags |= 1 << 0
	}
	if c.HasTimeCreated {
		flags |= 1 << 1
	}
	if c.HasTimeExpiry {
		flags |= 1 << 2
	}
	buf = append(buf, flags)
	if c.HasAppID {
		buf = appendUint32(buf, c.AppID)
	}
	if c.HasTimeCreated {
		buf = appendUint32(buf, c.TimeCreated)
	}
	if c.HasTimeExpiry {
		buf = appendUint32(buf, c.TimeExpiry)
	}
	buf = appendUvarint(buf, uint64(len(c.GameserverDatacenterIDs)))
	for _, id := range c.GameserverDatacenterIDs {
		buf = appendUint32(buf, id)
	}
	return buf, nil
}

// DecodeCertificate is the inverse of EncodeCertificate.
func DecodeCertificate(data []byte) (Certificate, error) {
	var c Certificate
	r := &reader{buf: data}

	kt, err := r.byte_()
	if err != nil {
		return c, err
	}
	c.KeyType = KeyType(kt)

	keyData, err := r.take(32)
	if err != nil {
		return c, err
	}
	copy(c.KeyData[:], keyData)

	idLen, err := r.uvarint()
	if err != nil {
		return c, err
	}
	idBytes, err := r.take(int(idLen))
	if err != nil {
		return c, err
	}
	ident, err := decodeIdentity(idBytes)
	if err != nil {
		return c, err
	}
	c.Identity = ident

	flags, err := r.byte_()
	if err != nil {
		return c, err
	}
	c.HasAppID = flags&(1<<0) != 0
	c.HasTimeCreated = flags&(1<<1) != 0
	c.HasTimeExpiry = flags&(1<<2) != 0
	if c.HasAppID {
		c.AppID, err = r.uint32()
		if err != nil {
			return c, err
		}
	}
	if c.HasTimeCreated {
		c.TimeCreated, err = r.uint32()
		if err != nil {
			return c, err
		}
	}
	if c.HasTimeExpiry {
		c.TimeExpiry, err = r.uint32()
		if err != nil {
			return c, err
		}
	}
	n, err := r.uvarint()
	if err != nil {
		return c, err
	}
	if n > uint64(len(r.buf)-r.pos)/4 {
		return c, errors.New("identity: truncated")
	}
	ids := make([]uint32, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := r.uint32()
		if err != nil {
			return c, err
		}
		ids = append(ids, v)
	}
	c.GameserverDatacenterIDs = ids
	if !r.empty() {
		return c, errors.New("identity: trailing bytes in certificate")
	}
	return c, nil
}

func encodeIdentity(id Identity) ([]byte, error) {
	buf := []byte{byte(id.Kind)}
	switch id.Kind {
	case SteamID:
		buf = appendUint64(buf, id.SteamID64)
		if id.Anon {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case LocalHost, Invalid:
		// no payload
	case IP:
		ip4 := id.IPAddr.To4()
		if ip4 != nil {
			buf = append(buf, 4)
			buf = append(buf, ip4...)
		} else {
			ip16 := id.IPAddr.To16()
			if ip16 == nil {
				return nil, fmt.Errorf("identity: invalid IP")
			}
			buf = append(buf, 16)
			buf = append(buf, ip16...)
		}
		buf = appendUint16(buf, id.IPPort)
	case GenericString:
		buf = appendUvarint(buf, uint64(len(id.Str)))
		buf = append(buf, id.Str...)
	case GenericBytes:
		buf = appendUvarint(buf, uint64(len(id.Bytes)))
		buf = append(buf, id.Bytes...)
	default:
		return nil, fmt.Errorf("identity: unknown identity kind %d", id.Kind)
	}
	return buf, nil
}

func decodeIdentity(data []byte) (Identity, error) {
	r := &reader{buf: data}
	k, err := r.byte_()
	if err != nil {
		return Identity{}, err
	}
	id := Identity{Kind: Kind(k)}
	switch id.Kind {
	case SteamID:
		v, err := r.uint64()
		if err != nil {
			return Identity{}, err
		}
		id.SteamID64 = v
		anon, err := r.byte_()
		if err != nil {
			return Identity{}, err
		}
		id.Anon = anon != 0
	case LocalHost, Invalid:
	case IP:
		l, err := r.byte_()
		if err != nil {
			return Identity{}, err
		}
		raw, err := r.take(int(l))
		if err != nil {
			return Identity{}, err
		}
		id.IPAddr = net.IP(append([]byte(nil), raw...))
		port, err := r.uint16()
		if err != nil {
			return Identity{}, err
		}
		id.IPPort = port
	case GenericString:
		n, err := r.uvarint()
		if err != nil {
			return Identity{}, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return Identity{}, err
		}
		id.Str = string(raw)
	case GenericBytes:
		n, err := r.uvarint()
		if err != nil {
			return Identity{}, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return Identity{}, err
		}
		id.Bytes = append([]byte(nil), raw...)
	default:
		return Identity{}, fmt.Errorf("identity: unknown identity kind %d", k)
	}
	if !r.empty() {
		return Identity{}, errors.New("identity: trailing bytes in identity")
	}
	return id, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) empty() bool { return r.pos >= len(r.buf) }

func (r *reader) byte_() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("identity: truncated")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.pos {
		return nil, errors.New("identity: truncated")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
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
		return 0, errors.New("identity: bad varint")
	}
	r.pos += n
	return v, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
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
