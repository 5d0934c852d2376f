package encoder

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// Parse reads one instruction per line:
//
//	MNEMONIC [left[, right]]    # comment
//
// Operands accept any strconv base-0 notation (42, 0x2a, 0o52, 0b101010).
// Missing operands are zero. Blank lines and lines starting with '#' or ';'
// are skipped.
func Parse(r io.Reader, space *opcode.Space) ([]instruction.Instruction, error) {
	var out []instruction.Instruction
	sc := bufio.NewScanner(r)
	ln := 0
	for sc.Scan() {
		ln++
		line := sc.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) == 0 {
			continue
		}
		op, ok := space.Lookup(fields[0])
		if !ok {
			return nil, fmt.Errorf("line %d: mnemonic %q: %w", ln, fields[0], vmerrors.ErrUnknownOpcode)
		}
		if len(fields) > 3 {
			return nil, fmt.Errorf("line %d: %s takes at most two operands, got %d", ln, fields[0], len(fields)-1)
		}
		inst := instruction.Instruction{Opcode: uint16(op)}
		var operands [2]uint64
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: operand %q: %w", ln, f, err)
			}
			operands[i] = v
		}
		inst.LeftOperand, inst.RightOperand = operands[0], operands[1]
		out = append(out, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
