package decoder

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/vmpilot/instruction"
	"github.com/colorfulnotion/vmpilot/opcode"
)

// Disassemble renders decoded records one per line:
//
//	0x0018: MOV        1, 2                 ; nonce=0x0000002a checksum=0x1f3c
func Disassemble(records []instruction.Instruction, space *opcode.Space) string {
	var sb strings.Builder
	for i, inst := range records {
		operands := fmt.Sprintf("%d, %d", inst.LeftOperand, inst.RightOperand)
		sb.WriteString(fmt.Sprintf("0x%04x: %-10s %-20s ; nonce=0x%08x checksum=0x%04x\n",
			i*instruction.Size,
			space.Name(opcode.Opcode(inst.Opcode)),
			operands,
			inst.Nonce,
			inst.Checksum,
		))
	}
	return sb.String()
}
