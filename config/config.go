// Package config handles vmpilot.toml tool configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// KeyEnv overrides every other key source when set.
const KeyEnv = "VMPILOT_KEY"

type Config struct {
	Key         string      `toml:"key"`
	KeyFile     string      `toml:"key-file"`
	Digest      string      `toml:"digest"`
	Workers     int         `toml:"workers"`
	Log         Log         `toml:"log"`
	Segmentator Segmentator `toml:"segmentator"`
}

type Log struct {
	Level   string `toml:"level"`
	Modules string `toml:"modules"`
	JSON    bool   `toml:"json"`
}

// Segmentator names the marker functions that bracket protected regions.
type Segmentator struct {
	BeginSymbol string `toml:"begin-symbol"`
	EndSymbol   string `toml:"end-symbol"`
}

func Default() *Config {
	return &Config{
		Digest:  crypto.DefaultDigest,
		Workers: 1,
		Log:     Log{Level: "info"},
		Segmentator: Segmentator{
			BeginSymbol: "VMPilot_Begin",
			EndSymbol:   "VMPilot_End",
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if _, err := crypto.DigestByName(c.Digest); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers %d: %w", c.Workers, vmerrors.ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level %q: %w", c.Log.Level, vmerrors.ErrInvalidConfig)
	}
	if c.Segmentator.BeginSymbol == "" || c.Segmentator.EndSymbol == "" || c.Segmentator.BeginSymbol == c.Segmentator.EndSymbol {
		return fmt.Errorf("marker symbols %q/%q: %w", c.Segmentator.BeginSymbol, c.Segmentator.EndSymbol, vmerrors.ErrInvalidConfig)
	}
	return nil
}

// ResolveKey returns the secret key from, in order, $VMPILOT_KEY, key-file
// and the inline key. A key file is read verbatim minus one trailing newline.
func (c *Config) ResolveKey() (string, error) {
	if k := os.Getenv(KeyEnv); k != "" {
		return k, nil
	}
	if c.KeyFile != "" {
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return "", fmt.Errorf("key file: %w", err)
		}
		k := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
		if k == "" {
			return "", fmt.Errorf("key file %s: %w", c.KeyFile, vmerrors.ErrEmptyKey)
		}
		return k, nil
	}
	if c.Key == "" {
		return "", vmerrors.ErrEmptyKey
	}
	return c.Key, nil
}

// KeyedDigest resolves the configured digest name.
func (c *Config) KeyedDigest() (crypto.KeyedDigest, error) {
	return crypto.DigestByName(c.Digest)
}
