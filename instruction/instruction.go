// Package instruction holds the fixed 24-byte instruction record and the
// per-record codec: serialization, checksum, and encryption.
package instruction

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/vmpilot/common"
	"github.com/colorfulnotion/vmpilot/crypto"
	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// Size is the flattened record length in bytes.
const Size = 24

// Instruction is one record. Fields are packed big-endian in declaration order:
//
//	[0:2]   opcode         OID while encrypted, real opcode after decode
//	[2:10]  left operand
//	[10:18] right operand
//	[18:22] nonce          checksum salt
//	[22:24] checksum
type Instruction struct {
	Opcode       uint16
	LeftOperand  uint64
	RightOperand uint64
	Nonce        uint32
	Checksum     uint16
}

// Flatten serializes inst into its wire form.
func (inst Instruction) Flatten() [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint16(b[0:2], inst.Opcode)
	binary.BigEndian.PutUint64(b[2:10], inst.LeftOperand)
	binary.BigEndian.PutUint64(b[10:18], inst.RightOperand)
	binary.BigEndian.PutUint32(b[18:22], inst.Nonce)
	binary.BigEndian.PutUint16(b[22:24], inst.Checksum)
	return b
}

// AppendFlat appends the flattened record to dst.
func (inst Instruction) AppendFlat(dst []byte) []byte {
	b := inst.Flatten()
	return append(dst, b[:]...)
}

// Fetch reads the record starting at data[offset].
func Fetch(data []byte, offset int) (Instruction, error) {
	if offset < 0 || len(data)-offset < Size {
		return Instruction{}, fmt.Errorf("fetch at offset %d of %d bytes: %w", offset, len(data), vmerrors.ErrMalformedLength)
	}
	return load(data[offset : offset+Size]), nil
}

func load(b []byte) Instruction {
	return Instruction{
		Opcode:       binary.BigEndian.Uint16(b[0:2]),
		LeftOperand:  binary.BigEndian.Uint64(b[2:10]),
		RightOperand: binary.BigEndian.Uint64(b[10:18]),
		Nonce:        binary.BigEndian.Uint32(b[18:22]),
		Checksum:     binary.BigEndian.Uint16(b[22:24]),
	}
}

// Hash computes the 16-bit tag of inst: SHA-256 over the decimal renderings of
// opcode, left and right operand, salted with the decimal nonce, folded to 16
// bits. Sixteen bits only detect accidental or casual modification; a forger
// needs about 2^16 attempts.
func Hash(inst Instruction) uint16 {
	data := common.DecimalConcat(uint64(inst.Opcode), inst.LeftOperand, inst.RightOperand)
	salt := common.DecimalConcat(uint64(inst.Nonce))
	return common.FoldChecksum(common.SaltedSHA256(data, salt))
}

// Check reports whether the stored checksum matches the record contents.
func (inst Instruction) Check() bool {
	return Hash(inst) == inst.Checksum
}

// UpdateChecksum recomputes the checksum. Required after any field mutation.
func (inst *Instruction) UpdateChecksum() {
	inst.Checksum = Hash(*inst)
}

// Decrypt replaces every field with its decryption under c. The checksum is
// stale afterwards until UpdateChecksum runs.
func (inst *Instruction) Decrypt(c crypto.Cipher) error {
	src := inst.Flatten()
	var dst [Size]byte
	if err := c.Decrypt(dst[:], src[:]); err != nil {
		return err
	}
	*inst = load(dst[:])
	return nil
}

// DecryptWithKey is Decrypt under a one-off AES cipher for key.
func (inst *Instruction) DecryptWithKey(key []byte) error {
	c, err := crypto.NewAESCipher(key)
	if err != nil {
		return err
	}
	return inst.Decrypt(c)
}

// Encrypt draws a random nonce and encrypts inst; see EncryptWithNonce.
func (inst *Instruction) Encrypt(c crypto.Cipher) error {
	var n [4]byte
	if _, err := rand.Read(n[:]); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	return inst.EncryptWithNonce(c, binary.BigEndian.Uint32(n[:]))
}

// EncryptWithNonce stores nonce, encrypts the flattened record and reloads
// the ciphertext into the fields, then refreshes the checksum so the wire
// record passes Check.
func (inst *Instruction) EncryptWithNonce(c crypto.Cipher, nonce uint32) error {
	inst.Nonce = nonce
	src := inst.Flatten()
	var dst [Size]byte
	if err := c.Encrypt(dst[:], src[:]); err != nil {
		return err
	}
	*inst = load(dst[:])
	inst.UpdateChecksum()
	return nil
}

func (inst Instruction) String() string {
	return fmt.Sprintf("opcode=0x%04x left=%d right=%d nonce=0x%08x checksum=0x%04x",
		inst.Opcode, inst.LeftOperand, inst.RightOperand, inst.Nonce, inst.Checksum)
}
