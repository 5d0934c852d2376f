package optable

import (
	"fmt"

	"github.com/colorfulnotion/vmpilot/opcode"
	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// Table is the runtime decode table OI -> RealOpcode.
type Table struct {
	table map[OI]opcode.Opcode
}

// NewTable copies m into a read-only Table.
func NewTable(m map[OI]opcode.Opcode) *Table {
	t := &Table{table: make(map[OI]opcode.Opcode, len(m))}
	for k, v := range m {
		t.table[k] = v
	}
	return t
}

// Find returns the real opcode at oi.
func (t *Table) Find(oi OI) (opcode.Opcode, error) {
	op, ok := t.table[oi]
	if !ok {
		return 0, fmt.Errorf("oi %d: %w", oi, vmerrors.ErrTableConsistency)
	}
	return op, nil
}

func (t *Table) Len() int { return len(t.table) }
