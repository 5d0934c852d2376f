// Package optable derives the key-dependent opcode translation tables.
//
//	digest(RealOpcode, key) -> sort -> OI -> OID = start_number + OI
//
// The build side uses RealOpcode -> OID to emit obfuscated records. The
// runtime side maps an observed OID to its OI through a private table and
// the OI to the real opcode through the runtime table. Both sides share only
// the key; identical (space, key, digest) always yields identical tables.
package optable

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"golang.org/x/exp/slices"
)

type (
	// OI is the dense rank of a real opcode after digest sorting.
	OI = uint16
	// OID is the obfuscated opcode id stored in encrypted records.
	OID = uint16
)

// Entry is one row of the sorted three-way table.
type Entry struct {
	OI     OI
	OID    OID
	Real   opcode.Opcode
	Digest []byte
}

// Generator holds the three tables derived from one (space, key, digest).
// It is immutable after NewGenerator returns and safe for concurrent reads.
type Generator struct {
	key         string
	digest      crypto.KeyedDigest
	space       *opcode.Space
	startNumber uint16
	entries     []Entry

	oiToReal  map[OI]opcode.Opcode
	realToOID map[opcode.Opcode]OID
	oidToOI   map[OID]OI
}

type Option func(*Generator)

// WithDigest selects the keyed digest used for ordering. Defaults to BLAKE3.
func WithDigest(d crypto.KeyedDigest) Option {
	return func(g *Generator) {
		if d != nil {
			g.digest = d
		}
	}
}

// NewGenerator builds the three-way table for space under key.
func NewGenerator(space *opcode.Space, key string, opts ...Option) (*Generator, error) {
	if key == "" {
		return nil, vmerrors.ErrEmptyKey
	}
	if space == nil || space.Len() == 0 {
		return nil, fmt.Errorf("empty opcode space: %w", vmerrors.ErrInvalidOpcodeSpace)
	}
	g := &Generator{
		key:    key,
		digest: crypto.Blake3Digest{},
		space:  space,
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.threeWayTableInit(); err != nil {
		return nil, err
	}
	log.Debug(log.OptableMonitoring, "opcode table built", "opcodes", len(g.entries), "digest", g.digest.Name())
	return g, nil
}

// threeWayTableInit
//  1. digests every real opcode in space order as digest(decimal(op), key)
//  2. sorts by digest bytes; equal digests keep space order
//  3. assigns OI by sorted position
//  4. takes start_number from the last byte of the smallest digest
//  5. sets OID = start_number + OI without reducing modulo 256
//  6. fills the three maps
func (g *Generator) threeWayTableInit() error {
	ops := g.space.Opcodes()
	entries := make([]Entry, len(ops))
	key := []byte(g.key)
	for i, op := range ops {
		entries[i] = Entry{
			Real:   op,
			Digest: g.digest.Sum(strconv.AppendUint(nil, uint64(op), 10), key),
		}
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		return bytes.Compare(a.Digest, b.Digest)
	})

	first := entries[0].Digest
	g.startNumber = uint16(first[len(first)-1])
	if int(g.startNumber)+len(entries)-1 > 0xFFFF {
		return fmt.Errorf("%d opcodes from start %d exceed the opcode width: %w", len(entries), g.startNumber, vmerrors.ErrInvalidOpcodeSpace)
	}

	g.oiToReal = make(map[OI]opcode.Opcode, len(entries))
	g.realToOID = make(map[opcode.Opcode]OID, len(entries))
	g.oidToOI = make(map[OID]OI, len(entries))
	for i := range entries {
		oi := OI(i)
		oid := g.startNumber + oi
		entries[i].OI = oi
		entries[i].OID = oid
		g.oiToReal[oi] = entries[i].Real
		g.realToOID[entries[i].Real] = oid
		g.oidToOI[oid] = oi
	}
	g.entries = entries
	return nil
}

// GetOpcodeIndex translates an observed OID to its OI.
func (g *Generator) GetOpcodeIndex(oid OID) (OI, error) {
	oi, ok := g.oidToOI[oid]
	if !ok {
		return 0, fmt.Errorf("oid 0x%04x: %w", oid, vmerrors.ErrUnknownOpcodeID)
	}
	return oi, nil
}

// Generate returns a copy of the runtime table OI -> RealOpcode.
func (g *Generator) Generate() map[OI]opcode.Opcode {
	out := make(map[OI]opcode.Opcode, len(g.oiToReal))
	for k, v := range g.oiToReal {
		out[k] = v
	}
	return out
}

// GetRealOpToOID returns a copy of the build-time table RealOpcode -> OID.
func (g *Generator) GetRealOpToOID() map[opcode.Opcode]OID {
	out := make(map[opcode.Opcode]OID, len(g.realToOID))
	for k, v := range g.realToOID {
		out[k] = v
	}
	return out
}

// GetOIDToOI returns a copy of the private conversion table. Debug use only.
func (g *Generator) GetOIDToOI() map[OID]OI {
	out := make(map[OID]OI, len(g.oidToOI))
	for k, v := range g.oidToOI {
		out[k] = v
	}
	return out
}

// OIDOf is the build-time lookup of a single real opcode.
func (g *Generator) OIDOf(op opcode.Opcode) (OID, error) {
	oid, ok := g.realToOID[op]
	if !ok {
		return 0, fmt.Errorf("%s: %w", g.space.Name(op), vmerrors.ErrUnknownOpcode)
	}
	return oid, nil
}

// Entries returns the sorted rows. Digests are shared and must not be modified.
func (g *Generator) Entries() []Entry {
	return slices.Clone(g.entries)
}

func (g *Generator) StartNumber() uint16        { return g.startNumber }
func (g *Generator) Space() *opcode.Space       { return g.space }
func (g *Generator) Digest() crypto.KeyedDigest { return g.digest }
