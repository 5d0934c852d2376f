package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/colorfulnotion/vmpilot/common"
	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// KeySize is the AES-256 key length every secret is fitted to.
const KeySize = 32

// Cipher encrypts and decrypts whole buffers in place or into dst.
// Implementations must be deterministic for a fixed key and safe for
// concurrent use.
type Cipher interface {
	Encrypt(dst, src []byte) error
	Decrypt(dst, src []byte) error
}

// AESCipher is AES-256 in CTR mode with an all-zero initial counter block.
// CTR keeps every plaintext byte tied to one ciphertext byte, so the 24-byte
// instruction record needs no block alignment and rewriting its trailing
// checksum after encryption leaves the other fields decryptable.
//
// The fixed counter means every record is masked with the same 24-byte
// keystream. One known plaintext/ciphertext record pair recovers that
// keystream and decrypts every other record under the same key without the
// key itself, and equal OIDs encrypt to equal opcode fields. Together with the
// 16-bit checksum, which a forger defeats in about 2^16 attempts, this makes
// the record layer an obfuscation and corruption check, not confidentiality.
type AESCipher struct {
	block cipher.Block
}

// NewAESCipher fits key to KeySize bytes (zero padded or truncated) and
// prepares the block cipher.
func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) == 0 {
		return nil, vmerrors.ErrEmptyKey
	}
	block, err := aes.NewCipher(common.FitKey(key, KeySize))
	if err != nil {
		return nil, fmt.Errorf("aes: %v: %w", err, vmerrors.ErrCipherFailure)
	}
	return &AESCipher{block: block}, nil
}

func (c *AESCipher) Encrypt(dst, src []byte) error {
	return c.xorKeyStream(dst, src)
}

func (c *AESCipher) Decrypt(dst, src []byte) error {
	return c.xorKeyStream(dst, src)
}

func (c *AESCipher) xorKeyStream(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("aes: output %d bytes, input %d bytes: %w", len(dst), len(src), vmerrors.ErrCipherFailure)
	}
	var iv [aes.BlockSize]byte
	cipher.NewCTR(c.block, iv[:]).XORKeyStream(dst, src)
	return nil
}
