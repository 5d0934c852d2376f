package decoder

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/encoder"
	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/optable"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter yields big-endian 1, 2, 3, ... as nonces.
type counter struct{ n uint32 }

func (c *counter) Read(p []byte) (int, error) {
	for i := 0; i+4 <= len(p); i += 4 {
		c.n++
		binary.BigEndian.PutUint32(p[i:], c.n)
	}
	return len(p) - len(p)%4, nil
}

func encode(t *testing.T, key string, insts []instruction.Instruction, opts ...encoder.Option) []byte {
	t.Helper()
	opts = append(opts, encoder.WithNonceSource(&counter{}))
	e, err := encoder.New(key, opts...)
	require.NoError(t, err)
	stream, err := e.Encode(insts)
	require.NoError(t, err)
	return stream
}

func program(n int) []instruction.Instruction {
	ops := opcode.DefaultSpace().Opcodes()
	insts := make([]instruction.Instruction, n)
	for i := range insts {
		insts[i] = instruction.Instruction{
			Opcode:       uint16(ops[i%len(ops)]),
			LeftOperand:  uint64(i),
			RightOperand: uint64(i) * 31,
		}
	}
	return insts
}

func TestDecodeTwoMovRecords(t *testing.T) {
	stream := encode(t, "test", []instruction.Instruction{
		{Opcode: uint16(opcode.MOV), LeftOperand: 1, RightOperand: 2},
		{Opcode: uint16(opcode.MOV), LeftOperand: 3, RightOperand: 4},
	})

	d, err := New("test")
	require.NoError(t, err)
	out, err := d.Decode(stream)
	require.NoError(t, err)
	require.Len(t, out, len(stream))

	records, err := Records(out)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, r := range records {
		assert.Equal(t, uint16(opcode.MOV), r.Opcode)
		assert.True(t, r.Check(), "record %d checksum", i)
	}
	assert.EqualValues(t, 1, records[0].LeftOperand)
	assert.EqualValues(t, 4, records[1].RightOperand)
	assert.EqualValues(t, 1, records[0].Nonce)
	assert.EqualValues(t, 2, records[1].Nonce)
}

func TestDecodeFullCatalogPreservesOrder(t *testing.T) {
	insts := program(52)
	for _, digest := range []crypto.KeyedDigest{crypto.Blake3Digest{}, crypto.Blake2bDigest{}} {
		t.Run(digest.Name(), func(t *testing.T) {
			stream := encode(t, "a much longer key that exceeds thirty-two bytes", insts, encoder.WithDigest(digest))
			d, err := New("a much longer key that exceeds thirty-two bytes", WithDigest(digest))
			require.NoError(t, err)
			out, err := d.Decode(stream)
			require.NoError(t, err)
			records, err := Records(out)
			require.NoError(t, err)
			for i, r := range records {
				assert.Equal(t, insts[i].Opcode, r.Opcode)
				assert.Equal(t, insts[i].LeftOperand, r.LeftOperand)
				assert.Equal(t, insts[i].RightOperand, r.RightOperand)
			}
		})
	}
}

func TestDecodeMalformedLength(t *testing.T) {
	d, err := New("test")
	require.NoError(t, err)
	for n := 0; n < 4; n++ {
		out, err := d.Decode(make([]byte, n*instruction.Size+1))
		assert.ErrorIs(t, err, vmerrors.ErrMalformedLength)
		assert.Nil(t, out)
	}
	out, err := d.Decode(nil)
	assert.ErrorIs(t, err, vmerrors.ErrMalformedLength)
	assert.Nil(t, out)
}

func TestDecodeTamperedRecord(t *testing.T) {
	stream := encode(t, "test", program(4))
	// flip a bit inside record 2's left operand
	stream[2*instruction.Size+5] ^= 0x10

	d, err := New("test")
	require.NoError(t, err)
	out, err := d.Decode(stream)
	assert.ErrorIs(t, err, vmerrors.ErrAuthenticationFailure)
	assert.True(t, vmerrors.IsSecurityRelevant(err))
	assert.Contains(t, err.Error(), "record 2")
	assert.Nil(t, out)
}

func TestDecodeWrongKey(t *testing.T) {
	stream := encode(t, "build key", program(8))
	d, err := New("other key")
	require.NoError(t, err)
	out, err := d.Decode(stream)
	assert.ErrorIs(t, err, vmerrors.ErrUnknownOpcodeID)
	assert.Nil(t, out)
}

func TestDecodeTableConsistency(t *testing.T) {
	stream := encode(t, "test", program(1))
	d, err := New("test")
	require.NoError(t, err)
	d.table = optable.NewTable(map[optable.OI]opcode.Opcode{})

	out, err := d.Decode(stream)
	assert.ErrorIs(t, err, vmerrors.ErrTableConsistency)
	assert.False(t, vmerrors.IsSecurityRelevant(err))
	assert.Nil(t, out)
}

func TestDecodeParallelMatchesSequential(t *testing.T) {
	stream := encode(t, "test", program(1000))

	seq, err := New("test")
	require.NoError(t, err)
	par, err := New("test", WithWorkers(4))
	require.NoError(t, err)

	a, err := seq.Decode(stream)
	require.NoError(t, err)
	b, err := par.Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeParallelFailsAtomically(t *testing.T) {
	stream := encode(t, "test", program(1000))
	stream[700*instruction.Size] ^= 0x01

	par, err := New("test", WithWorkers(8))
	require.NoError(t, err)
	out, err := par.Decode(stream)
	assert.ErrorIs(t, err, vmerrors.ErrAuthenticationFailure)
	assert.Contains(t, err.Error(), "record 700")
	assert.Nil(t, out)
}

// foreignRecord is a well-formed wire record whose OID no table under key holds.
func foreignRecord(t *testing.T, key string) []byte {
	t.Helper()
	c, err := crypto.NewAESCipher([]byte(key))
	require.NoError(t, err)
	inst := instruction.Instruction{Opcode: 0xFFFF, LeftOperand: 1}
	require.NoError(t, inst.EncryptWithNonce(c, 7))
	return inst.AppendFlat(nil)
}

func TestDecodeParallelReportsFirstFailure(t *testing.T) {
	cases := map[string]struct {
		low, high func(stream []byte, index int)
		want      error
	}{
		"checksum before foreign id": {
			low:  func(stream []byte, i int) { stream[i*instruction.Size+3] ^= 0x40 },
			high: func(stream []byte, i int) { copy(stream[i*instruction.Size:], foreignRecord(t, "test")) },
			want: vmerrors.ErrAuthenticationFailure,
		},
		"foreign id before checksum": {
			low:  func(stream []byte, i int) { copy(stream[i*instruction.Size:], foreignRecord(t, "test")) },
			high: func(stream []byte, i int) { stream[i*instruction.Size+3] ^= 0x40 },
			want: vmerrors.ErrUnknownOpcodeID,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stream := encode(t, "test", program(1024))
			tc.low(stream, 10)
			tc.high(stream, 900)

			seq, err := New("test")
			require.NoError(t, err)
			_, seqErr := seq.Decode(stream)
			require.ErrorIs(t, seqErr, tc.want)

			par, err := New("test", WithWorkers(8))
			require.NoError(t, err)
			// repeat to cover different goroutine schedules
			for run := 0; run < 20; run++ {
				out, err := par.Decode(stream)
				assert.Nil(t, out)
				assert.ErrorIs(t, err, tc.want)
				assert.Equal(t, seqErr.Error(), err.Error())
			}
		})
	}
}

func TestRecordErrorLocatesFailure(t *testing.T) {
	stream := encode(t, "test", program(3))
	stream[instruction.Size+5] ^= 0x01

	d, err := New("test")
	require.NoError(t, err)
	_, err = d.Decode(stream)
	var re *RecordError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, instruction.Size, re.Offset)
	assert.ErrorIs(t, re, vmerrors.ErrAuthenticationFailure)
}

func TestDecodeWideOIDs(t *testing.T) {
	// "k5" starts OIDs at 246, so part of the stream carries OIDs above 255
	insts := program(opcode.DefaultSpace().Len())
	stream := encode(t, "k5", insts)

	gen, err := optable.NewGenerator(opcode.DefaultSpace(), "k5")
	require.NoError(t, err)
	c, err := crypto.NewAESCipher([]byte("k5"))
	require.NoError(t, err)
	wide := 0
	for off := 0; off < len(stream); off += instruction.Size {
		wire, err := instruction.Fetch(stream, off)
		require.NoError(t, err)
		require.NoError(t, wire.Decrypt(c))
		if wire.Opcode > 0xFF {
			wide++
		}
	}
	assert.Greater(t, wide, 0)
	assert.Greater(t, int(gen.StartNumber())+len(insts)-1, 255)

	d, err := New("k5", WithWorkers(4))
	require.NoError(t, err)
	out, err := d.Decode(stream)
	require.NoError(t, err)
	records, err := Records(out)
	require.NoError(t, err)
	for i, r := range records {
		assert.Equal(t, insts[i].Opcode, r.Opcode)
		assert.True(t, r.Check())
	}
}

func TestDecoderConcurrentUse(t *testing.T) {
	stream := encode(t, "test", program(100))
	d, err := New("test")
	require.NoError(t, err)
	want, err := d.Decode(stream)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = d.Decode(stream)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, want, r)
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, vmerrors.ErrEmptyKey)
}

func TestCustomSpace(t *testing.T) {
	space, err := opcode.NewSpace(
		opcode.Family{Name: "dm", Begin: 1, End: 2, Names: []string{"MOV"}},
		opcode.Family{Name: "al", Begin: 16, End: 17, Names: []string{"ADD"}},
		opcode.Family{Name: "ct", Begin: 256, End: 257, Names: []string{"JMP"}},
		opcode.Family{Name: "ta", Begin: 4096, End: 4097, Names: []string{"LOCK"}},
	)
	require.NoError(t, err)
	insts := []instruction.Instruction{{Opcode: 4096}, {Opcode: 1}, {Opcode: 256}, {Opcode: 16}}
	stream := encode(t, "test", insts, encoder.WithSpace(space))

	d, err := New("test", WithSpace(space))
	require.NoError(t, err)
	out, err := d.Decode(stream)
	require.NoError(t, err)
	records, err := Records(out)
	require.NoError(t, err)
	for i := range insts {
		assert.Equal(t, insts[i].Opcode, records[i].Opcode)
	}

	listing := Disassemble(records, d.Space())
	assert.Contains(t, listing, "0x0000: LOCK")
	assert.Contains(t, listing, "0x0018: MOV")
}

func TestRecordsRejectsPartial(t *testing.T) {
	_, err := Records(make([]byte, 25))
	assert.ErrorIs(t, err, vmerrors.ErrMalformedLength)
}
