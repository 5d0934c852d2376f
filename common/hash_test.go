package common

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecimalConcat(t *testing.T) {
	assert.Equal(t, "1", string(DecimalConcat(1)))
	assert.Equal(t, "4096018446744073709551615", string(DecimalConcat(4096, 0, 18446744073709551615)))
	assert.Empty(t, DecimalConcat())
}

func TestSaltedSHA256(t *testing.T) {
	want := sha256.Sum256([]byte("1242"))
	assert.Equal(t, want[:], SaltedSHA256([]byte("12"), []byte("42")))
	assert.NotEqual(t, SaltedSHA256([]byte("12"), []byte("43")), SaltedSHA256([]byte("12"), []byte("42")))
}

func TestFoldChecksumDeterministic(t *testing.T) {
	d := SaltedSHA256([]byte("data"), []byte("salt"))
	assert.Equal(t, FoldChecksum(d), FoldChecksum(append([]byte(nil), d...)))
}

func TestFitKey(t *testing.T) {
	k := FitKey([]byte("test"), 32)
	assert.Len(t, k, 32)
	assert.Equal(t, []byte("test"), k[:4])
	assert.Equal(t, make([]byte, 28), k[4:])

	long := []byte("0123456789abcdef0123456789abcdefEXTRA")
	assert.Equal(t, long[:32], FitKey(long, 32))
}

func TestColorize(t *testing.T) {
	assert.Equal(t, "ok", Colorize("ok", ColorGreen, false))
	assert.Equal(t, "\033[32mok\033[0m", Colorize("ok", ColorGreen, true))
	assert.Equal(t, "ok", Colorize("ok", "", true))
}
