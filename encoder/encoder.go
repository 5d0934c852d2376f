// Package encoder is the build-time inverse of the decoder: it replaces real
// opcodes with their obfuscated ids, salts and encrypts each record, and
// emits the stream the runtime decoder consumes.
package encoder

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/optable"
)

type options struct {
	space  *opcode.Space
	digest crypto.KeyedDigest
	nonces io.Reader
}

type Option func(*options)

func WithSpace(s *opcode.Space) Option {
	return func(o *options) { o.space = s }
}

func WithDigest(d crypto.KeyedDigest) Option {
	return func(o *options) { o.digest = d }
}

// WithNonceSource draws record nonces from r instead of crypto/rand.
func WithNonceSource(r io.Reader) Option {
	return func(o *options) { o.nonces = r }
}

// Encoder is not safe for concurrent use when its nonce source is not.
type Encoder struct {
	gen    *optable.Generator
	cipher crypto.Cipher
	space  *opcode.Space
	nonces io.Reader
}

func New(key string, opts ...Option) (*Encoder, error) {
	o := options{nonces: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	if o.space == nil {
		o.space = opcode.DefaultSpace()
	}
	if o.digest == nil {
		o.digest = crypto.Blake3Digest{}
	}
	gen, err := optable.NewGenerator(o.space, key, optable.WithDigest(o.digest))
	if err != nil {
		return nil, err
	}
	c, err := crypto.NewAESCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return &Encoder{gen: gen, cipher: c, space: o.space, nonces: o.nonces}, nil
}

func (e *Encoder) Space() *opcode.Space { return e.space }

// EncodeInstruction turns a record carrying a real opcode into its wire form.
func (e *Encoder) EncodeInstruction(inst instruction.Instruction) (instruction.Instruction, error) {
	oid, err := e.gen.OIDOf(opcode.Opcode(inst.Opcode))
	if err != nil {
		return inst, err
	}
	var n [4]byte
	if _, err := io.ReadFull(e.nonces, n[:]); err != nil {
		return inst, fmt.Errorf("nonce: %w", err)
	}
	inst.Opcode = oid
	if err := inst.EncryptWithNonce(e.cipher, binary.BigEndian.Uint32(n[:])); err != nil {
		return inst, err
	}
	return inst, nil
}

// Encode emits the concatenated wire records for insts.
func (e *Encoder) Encode(insts []instruction.Instruction) ([]byte, error) {
	out := make([]byte, 0, len(insts)*instruction.Size)
	for i, inst := range insts {
		enc, err := e.EncodeInstruction(inst)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = enc.AppendFlat(out)
	}
	log.Debug(log.EncoderMonitoring, "stream encoded", "records", len(insts), "bytes", len(out))
	return out, nil
}
