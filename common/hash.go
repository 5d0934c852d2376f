package common

import (
	"crypto/sha256"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SaltedSHA256 computes SHA-256 over data followed by salt.
func SaltedSHA256(data, salt []byte) []byte {
	h := sha256.New()
	h.Write(data)
	h.Write(salt)
	return h.Sum(nil)
}

// FoldChecksum reduces a digest to a 16-bit tag: the low 16 bits of its xxhash64.
// The fold is lossy; a 16-bit tag detects corruption but is not a MAC.
func FoldChecksum(digest []byte) uint16 {
	return uint16(xxhash.Sum64(digest))
}

// DecimalConcat renders every value in base 10 and concatenates the results
// without separators.
func DecimalConcat(vals ...uint64) []byte {
	buf := make([]byte, 0, 20*len(vals))
	for _, v := range vals {
		buf = strconv.AppendUint(buf, v, 10)
	}
	return buf
}

// FitKey zero-pads key to n bytes, or truncates it when longer.
func FitKey(key []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, key)
	return out
}
