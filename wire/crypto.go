package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
)

// KeySize is the shared key size of the basic encryption mode.
const KeySize = 16

// ParseKey normalizes a shared key given either as raw characters or as
// a hex string. An empty key selects the unencrypted protocol mode.
func ParseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	if len(key) == KeySize*2 {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("shared key must be %d bytes or %d hex characters, got %d characters", KeySize, KeySize*2, len(key))
	}
	return []byte(key), nil
}

// cryptPayload encrypts or decrypts a message payload in place. The
// basic encryption mode is AES-128-CTR with a per-message counter block:
// the first 12 header bytes followed by a zeroed 4 byte block counter.
// CTR is symmetric, so the same call serves both directions.
func cryptPayload(key, header, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wire: bad shared key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, header[:12])
	out := make([]byte, len(payload))
	cipher.NewCTR(block, iv).XORKeyStream(out, payload)
	return out, nil
}
