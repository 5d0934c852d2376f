package crypto

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

const (
	DigestBlake3  = "blake3"
	DigestBlake2b = "blake2b"

	DefaultDigest = DigestBlake3
)

// KeyedDigest derives a digest of message bound to key. The opcode table
// builder and every consumer of its tables must agree on one implementation.
type KeyedDigest interface {
	Name() string
	Sum(message, key []byte) []byte
}

// Blake3Digest hashes message || key with BLAKE3-256.
type Blake3Digest struct{}

func (Blake3Digest) Name() string { return DigestBlake3 }

func (Blake3Digest) Sum(message, key []byte) []byte {
	h := blake3.New()
	h.Write(message)
	h.Write(key)
	return h.Sum(nil)
}

// Blake2bDigest is the BLAKE2b-256 MAC of message under key. Keys longer than
// the 64-byte BLAKE2b limit are first compressed with BLAKE2b-512.
type Blake2bDigest struct{}

func (Blake2bDigest) Name() string { return DigestBlake2b }

func (Blake2bDigest) Sum(message, key []byte) []byte {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// unreachable: key length is bounded above
		panic(err)
	}
	h.Write(message)
	return h.Sum(nil)
}

// DigestByName resolves a configured digest name. The empty name selects DefaultDigest.
func DigestByName(name string) (KeyedDigest, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DigestBlake3:
		return Blake3Digest{}, nil
	case DigestBlake2b:
		return Blake2bDigest{}, nil
	default:
		return nil, fmt.Errorf("digest %q: %w", name, vmerrors.ErrUnknownDigest)
	}
}
