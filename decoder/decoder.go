// Package decoder restores encrypted, opcode-obfuscated instruction streams
// to records carrying real opcodes.
//
// A Decoder is built once per key; table construction is the expensive step
// and is amortized across Decode calls. Decode is a 1:1, order-preserving
// transform: every 24-byte input record yields one 24-byte output record at
// the same position. Any failing record aborts the whole call and no output
// is returned. The decoder never logs; callers classify errors with
// vmerrors.IsSecurityRelevant.
package decoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/optable"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"golang.org/x/sync/errgroup"
)

// minRecordsPerWorker keeps tiny streams on the sequential path.
const minRecordsPerWorker = 64

type options struct {
	space   *opcode.Space
	digest  crypto.KeyedDigest
	workers int
}

type Option func(*options)

// WithSpace decodes against a custom opcode space. Defaults to opcode.DefaultSpace.
func WithSpace(s *opcode.Space) Option {
	return func(o *options) { o.space = s }
}

// WithDigest selects the keyed digest the opcode table is ordered by. It must
// match the digest the stream was built with.
func WithDigest(d crypto.KeyedDigest) Option {
	return func(o *options) { o.digest = d }
}

// WithWorkers partitions large streams across n goroutines. Output is
// identical to the sequential path.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// RecordError locates the record that stopped a Decode call. Err carries the
// vmerrors kind.
type RecordError struct {
	Index  int
	Offset int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Decoder holds the key-derived state shared by every Decode call. It is
// read-only after New and safe for concurrent use.
type Decoder struct {
	cipher  crypto.Cipher
	gen     *optable.Generator
	table   *optable.Table
	space   *opcode.Space
	workers int
}

// New initializes a Decoder for key: it builds the opcode tables and the
// record cipher.
func New(key string, opts ...Option) (*Decoder, error) {
	o := options{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.space == nil {
		o.space = opcode.DefaultSpace()
	}
	if o.digest == nil {
		o.digest = crypto.Blake3Digest{}
	}
	if o.workers < 1 {
		o.workers = 1
	}

	gen, err := optable.NewGenerator(o.space, key, optable.WithDigest(o.digest))
	if err != nil {
		return nil, err
	}
	c, err := crypto.NewAESCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return &Decoder{
		cipher:  c,
		gen:     gen,
		table:   optable.NewTable(gen.Generate()),
		space:   o.space,
		workers: o.workers,
	}, nil
}

// Space returns the opcode space the decoder resolves against.
func (d *Decoder) Space() *opcode.Space { return d.space }

// Decode validates and restores every record of data.
func (d *Decoder) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%instruction.Size != 0 {
		return nil, fmt.Errorf("decode %d bytes: %w", len(data), vmerrors.ErrMalformedLength)
	}
	out := make([]byte, len(data))
	n := len(data) / instruction.Size

	workers := d.workers
	if limit := n / minRecordsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		if err := d.decodeRange(context.Background(), data, out, 0, n); err != nil {
			return nil, err
		}
		return out, nil
	}

	// each partition writes a disjoint slice of out
	errs := make([]error, workers)
	starts := make([]int, workers)
	g, ctx := errgroup.WithContext(context.Background())
	per := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		w, from, to := w, w*per, min((w+1)*per, n)
		starts[w] = from
		if from >= to {
			continue
		}
		g.Go(func() error {
			errs[w] = d.decodeRange(ctx, data, out, from, to)
			return errs[w]
		})
	}
	if g.Wait() == nil {
		return out, nil
	}
	return nil, d.firstFailure(data, out, errs, starts)
}

// firstFailure reports the lowest-indexed failing record, matching the
// sequential path. Partitions below the lowest observed failure may have been
// cancelled before reaching a bad record of their own; those are rescanned.
func (d *Decoder) firstFailure(data, out []byte, errs []error, starts []int) error {
	var first *RecordError
	for _, err := range errs {
		var re *RecordError
		if errors.As(err, &re) && (first == nil || re.Index < first.Index) {
			first = re
		}
	}
	if first == nil {
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}
	for w, err := range errs {
		if starts[w] >= first.Index {
			break
		}
		if errors.Is(err, context.Canceled) {
			if err := d.decodeRange(context.Background(), data, out, starts[w], first.Index); err != nil {
				return err
			}
			break
		}
	}
	return first
}

func (d *Decoder) decodeRange(ctx context.Context, data, out []byte, from, to int) error {
	for i := from; i < to; i++ {
		if (i-from)%minRecordsPerWorker == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		off := i * instruction.Size
		inst, err := d.decodeRecord(data, off)
		if err != nil {
			return &RecordError{Index: i, Offset: off, Err: err}
		}
		flat := inst.Flatten()
		copy(out[off:off+instruction.Size], flat[:])
	}
	return nil
}

func (d *Decoder) decodeRecord(data []byte, off int) (instruction.Instruction, error) {
	inst, err := instruction.Fetch(data, off)
	if err != nil {
		return inst, err
	}
	if !inst.Check() {
		return inst, vmerrors.ErrAuthenticationFailure
	}
	if err := inst.Decrypt(d.cipher); err != nil {
		return inst, err
	}
	oi, err := d.gen.GetOpcodeIndex(inst.Opcode)
	if err != nil {
		return inst, err
	}
	realOp, err := d.table.Find(oi)
	if err != nil {
		return inst, err
	}
	inst.Opcode = uint16(realOp)
	inst.UpdateChecksum()
	return inst, nil
}

// Records splits a decoded buffer into instructions.
func Records(data []byte) ([]instruction.Instruction, error) {
	if len(data)%instruction.Size != 0 {
		return nil, fmt.Errorf("split %d bytes: %w", len(data), vmerrors.ErrMalformedLength)
	}
	out := make([]instruction.Instruction, 0, len(data)/instruction.Size)
	for off := 0; off < len(data); off += instruction.Size {
		inst, err := instruction.Fetch(data, off)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
