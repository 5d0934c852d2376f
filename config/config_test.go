package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "vmpilot.toml", `
key = "inline"
digest = "blake2b"
workers = 4

[log]
level = "debug"
modules = "optable_mod,encoder_mod"

[segmentator]
begin-symbol = "Protect_Begin"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "inline", c.Key)
	assert.Equal(t, crypto.DigestBlake2b, c.Digest)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "optable_mod,encoder_mod", c.Log.Modules)
	assert.Equal(t, "Protect_Begin", c.Segmentator.BeginSymbol)
	assert.Equal(t, "VMPilot_End", c.Segmentator.EndSymbol, "unset keys keep defaults")

	d, err := c.KeyedDigest()
	require.NoError(t, err)
	assert.Equal(t, crypto.DigestBlake2b, d.Name())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "workers = ["))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "digest.toml", `digest = "sha1"`))
	assert.ErrorIs(t, err, vmerrors.ErrUnknownDigest)

	_, err = Load(writeFile(t, "workers.toml", `workers = -2`))
	assert.ErrorIs(t, err, vmerrors.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   error
	}{
		"defaults":    {func(*Config) {}, nil},
		"level":       {func(c *Config) { c.Log.Level = "chatty" }, vmerrors.ErrInvalidConfig},
		"same marker": {func(c *Config) { c.Segmentator.EndSymbol = c.Segmentator.BeginSymbol }, vmerrors.ErrInvalidConfig},
		"no marker":   {func(c *Config) { c.Segmentator.BeginSymbol = "" }, vmerrors.ErrInvalidConfig},
		"digest":      {func(c *Config) { c.Digest = "crc32" }, vmerrors.ErrUnknownDigest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestResolveKey(t *testing.T) {
	t.Setenv(KeyEnv, "")

	c := Default()
	_, err := c.ResolveKey()
	assert.ErrorIs(t, err, vmerrors.ErrEmptyKey)

	c.Key = "inline"
	k, err := c.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, "inline", k)

	c.KeyFile = writeFile(t, "key", "from-file\n")
	k, err = c.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, "from-file", k)

	t.Setenv(KeyEnv, "from-env")
	k, err = c.ResolveKey()
	require.NoError(t, err)
	assert.Equal(t, "from-env", k)
}

func TestResolveKeyEmptyFile(t *testing.T) {
	t.Setenv(KeyEnv, "")
	c := Default()
	c.KeyFile = writeFile(t, "key", "\n")
	_, err := c.ResolveKey()
	assert.ErrorIs(t, err, vmerrors.ErrEmptyKey)
}
