// Package bundle is the on-disk container that carries an encrypted
// instruction stream from the build pipeline to the runtime decoder.
//
// Only ciphertext and the metadata the decoder needs to pick its tables travel
// in a bundle. The key never does.
package bundle

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/fxamacker/cbor/v2"
)

const Version uint8 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Region locates the protected code the stream was lifted from.
type Region struct {
	Name  string `cbor:"1,keyasint"`
	Begin uint64 `cbor:"2,keyasint"`
	End   uint64 `cbor:"3,keyasint"`
}

type Bundle struct {
	Version uint8   `cbor:"1,keyasint"`
	Digest  string  `cbor:"2,keyasint"`
	Count   uint32  `cbor:"3,keyasint"`
	Region  *Region `cbor:"4,keyasint,omitempty"`
	Records []byte  `cbor:"5,keyasint"`
}

// New wraps an encoded stream. digest names the keyed digest the opcode
// table was ordered with.
func New(digest string, records []byte, region *Region) (*Bundle, error) {
	b := &Bundle{
		Version: Version,
		Digest:  digest,
		Count:   uint32(len(records) / instruction.Size),
		Region:  region,
		Records: records,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks that the header describes the payload.
func (b *Bundle) Validate() error {
	if b.Version != Version {
		return fmt.Errorf("version %d: %w", b.Version, vmerrors.ErrMalformedBundle)
	}
	if _, err := crypto.DigestByName(b.Digest); err != nil || b.Digest == "" {
		return fmt.Errorf("digest %q: %w", b.Digest, vmerrors.ErrMalformedBundle)
	}
	if uint64(len(b.Records)) != uint64(b.Count)*instruction.Size {
		return fmt.Errorf("%d records declared, %d bytes carried: %w", b.Count, len(b.Records), vmerrors.ErrMalformedBundle)
	}
	if b.Region != nil && b.Region.End < b.Region.Begin {
		return fmt.Errorf("region %s [%#x, %#x): %w", b.Region.Name, b.Region.Begin, b.Region.End, vmerrors.ErrMalformedBundle)
	}
	return nil
}

// Marshal serializes b to canonical CBOR.
func Marshal(b *Bundle) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(b)
}

// Unmarshal deserializes and validates a bundle.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %v: %w", err, vmerrors.ErrMalformedBundle)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func WriteFile(path string, b *Bundle) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Debug(log.BundleMonitoring, "bundle written", "path", path, "records", b.Count, "bytes", len(data))
	return nil
}

func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug(log.BundleMonitoring, "bundle read", "path", path, "records", b.Count, "digest", b.Digest)
	return b, nil
}
