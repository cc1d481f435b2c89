package packet

import "encoding/binary"

// Credentials identifies the crypto epoch and connection-scoped key used
// to open/seal a packet. Its contents are opaque to this package; crypto
// is an external collaborator.
type Credentials struct {
	ID    [16]byte
	Epoch uint16
}

const credentialsLen = 18

func (c Credentials) encode(dst []byte) []byte {
	dst = append(dst, c.ID[:]...)
	var e [2]byte
	binary.BigEndian.PutUint16(e[:], c.Epoch)
	return append(dst, e[:]...)
}

func decodeCredentials(buf []byte) (Credentials, []byte, error) {
	if len(buf) < credentialsLen {
		return Credentials{}, nil, ErrShortBuffer
	}
	var c Credentials
	copy(c.ID[:], buf[:16])
	c.Epoch = binary.BigEndian.Uint16(buf[16:18])
	return c, buf[credentialsLen:], nil
}
