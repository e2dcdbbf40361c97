package envelope

import "crypto/rand"

// CryptoRand generates nonces from crypto/rand, at least 16 random
// bytes per call.
type CryptoRand struct {
	Size int
}

// NewCryptoRand returns a CryptoRand producing 16-byte nonces.
func NewCryptoRand() CryptoRand { return CryptoRand{Size: 16} }

func (c CryptoRand) Nonce() []byte {
	size := c.Size
	if size < 16 {
		size = 16
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable system state
	}
	return b
}
