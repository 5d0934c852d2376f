// Package opcode defines the real operation set consumed by the execution
// layer. The 16-bit opcode field is split into four 4-bit quadrants, one per
// instruction family:
//
//	low bit                                                       high bit
//	| DataMovement | ArithmeticLogic | ControlTransfer | ThreadingAtomic |
//
// Each family's members form a contiguous range based at 1 << (4*quadrant).
// An opcode combining two quadrants is invalid; this package does not reject
// such values, callers must not construct them.
package opcode

import "fmt"

// Opcode is a real (de-obfuscated) operation code.
type Opcode uint16

const (
	QuadrantBits = 4
	NumQuadrants = 4
)

// QuadrantBase returns the first opcode of quadrant q.
func QuadrantBase(q int) Opcode {
	return Opcode(1) << (q * QuadrantBits)
}

const (
	dataMovementBegin    = Opcode(1) << (0 * QuadrantBits)
	arithmeticLogicBegin = Opcode(1) << (1 * QuadrantBits)
	controlTransferBegin = Opcode(1) << (2 * QuadrantBits)
	threadingAtomicBegin = Opcode(1) << (3 * QuadrantBits)
)

// Data Movement Instructions.
const (
	MOV Opcode = dataMovementBegin + iota
	PUSH
	POP
	LOAD
	STORE
	dataMovementEnd
)

// Arithmetic and Logic Instructions.
const (
	ADD Opcode = arithmeticLogicBegin + iota
	SUB
	MUL
	DIV
	AND
	OR
	XOR
	CMP
	arithmeticLogicEnd
)

// Control Transfer Instructions.
const (
	JMP Opcode = controlTransferBegin + iota
	JZ
	JNZ
	JE
	JNE
	CALL
	RET
	controlTransferEnd
)

// Threading and Atomic Instructions.
const (
	LOCK Opcode = threadingAtomicBegin + iota
	XCHG
	CMPXCHG
	LOCK_ADD
	LOCK_SUB
	FENCE
	threadingAtomicEnd
)

var (
	DataMovement = Family{
		Name:  "DataMovement",
		Begin: dataMovementBegin,
		End:   dataMovementEnd,
		Names: []string{"MOV", "PUSH", "POP", "LOAD", "STORE"},
	}
	ArithmeticLogic = Family{
		Name:  "ArithmeticLogic",
		Begin: arithmeticLogicBegin,
		End:   arithmeticLogicEnd,
		Names: []string{"ADD", "SUB", "MUL", "DIV", "AND", "OR", "XOR", "CMP"},
	}
	ControlTransfer = Family{
		Name:  "ControlTransfer",
		Begin: controlTransferBegin,
		End:   controlTransferEnd,
		Names: []string{"JMP", "JZ", "JNZ", "JE", "JNE", "CALL", "RET"},
	}
	ThreadingAtomic = Family{
		Name:  "ThreadingAtomic",
		Begin: threadingAtomicBegin,
		End:   threadingAtomicEnd,
		Names: []string{"LOCK", "XCHG", "CMPXCHG", "LOCK_ADD", "LOCK_SUB", "FENCE"},
	}
)

var defaultNames = func() map[Opcode]string {
	m := make(map[Opcode]string)
	for _, f := range []Family{DataMovement, ArithmeticLogic, ControlTransfer, ThreadingAtomic} {
		for i, n := range f.Names {
			m[f.Begin+Opcode(i)] = n
		}
	}
	return m
}()

// String returns the mnemonic from the default catalog.
func (op Opcode) String() string {
	if name, ok := defaultNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(op))
}

// Quadrant returns the index of the highest non-empty quadrant of op, or -1 for zero.
func (op Opcode) Quadrant() int {
	for q := NumQuadrants - 1; q >= 0; q-- {
		if op >= QuadrantBase(q) {
			return q
		}
	}
	return -1
}
