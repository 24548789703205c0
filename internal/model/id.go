package model

import (
	"crypto/rand"
	"encoding/binary"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// idBits is the entropy of a message id: 10 base64 characters.
const idBits = 60

// NewMessageID returns a random 60-bit identifier encoded as 10 base64
// characters. Message ids double as command receipt ids.
func NewMessageID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	v := binary.BigEndian.Uint64(buf[:]) >> (64 - idBits)
	out := make([]byte, idBits/6)
	for i := range out {
		out[i] = idAlphabet[v&0x3f]
		v >>= 6
	}
	return string(out)
}
