package opcode

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// Family is one instruction category. Members are Begin..End-1; End is a
// sentinel and never an opcode. Names[i] is the mnemonic of Begin+i.
type Family struct {
	Name  string
	Begin Opcode
	End   Opcode
	Names []string
}

func (f Family) Len() int {
	return int(f.End) - int(f.Begin)
}

func (f Family) Contains(op Opcode) bool {
	return op >= f.Begin && op < f.End
}

// Space is an ordered, immutable set of families.
type Space struct {
	families []Family
	byName   map[string]Opcode
	names    map[Opcode]string
	size     int
}

// NewSpace validates families and builds a Space. Family i must start at
// QuadrantBase(i) and end no later than the next quadrant's base.
func NewSpace(families ...Family) (*Space, error) {
	if len(families) == 0 || len(families) > NumQuadrants {
		return nil, fmt.Errorf("%d families: %w", len(families), vmerrors.ErrInvalidOpcodeSpace)
	}
	s := &Space{
		families: make([]Family, len(families)),
		byName:   make(map[string]Opcode),
		names:    make(map[Opcode]string),
	}
	for i, f := range families {
		if f.Begin != QuadrantBase(i) {
			return nil, fmt.Errorf("family %s begins at 0x%04x, want 0x%04x: %w", f.Name, uint16(f.Begin), uint16(QuadrantBase(i)), vmerrors.ErrInvalidOpcodeSpace)
		}
		if f.End <= f.Begin {
			return nil, fmt.Errorf("family %s is empty: %w", f.Name, vmerrors.ErrInvalidOpcodeSpace)
		}
		if i+1 < NumQuadrants && f.End > QuadrantBase(i+1) {
			return nil, fmt.Errorf("family %s overflows into quadrant %d: %w", f.Name, i+1, vmerrors.ErrInvalidOpcodeSpace)
		}
		if len(f.Names) != 0 && len(f.Names) != f.Len() {
			return nil, fmt.Errorf("family %s has %d names for %d opcodes: %w", f.Name, len(f.Names), f.Len(), vmerrors.ErrInvalidOpcodeSpace)
		}
		fam := f
		fam.Names = make([]string, f.Len())
		for j := range fam.Names {
			op := f.Begin + Opcode(j)
			name := fmt.Sprintf("OP_%04X", uint16(op))
			if len(f.Names) != 0 {
				name = strings.ToUpper(f.Names[j])
			}
			if _, dup := s.byName[name]; dup {
				return nil, fmt.Errorf("duplicate mnemonic %s: %w", name, vmerrors.ErrInvalidOpcodeSpace)
			}
			fam.Names[j] = name
			s.byName[name] = op
			s.names[op] = name
		}
		s.families[i] = fam
		s.size += fam.Len()
	}
	return s, nil
}

// DefaultSpace returns the full catalog of four families.
func DefaultSpace() *Space {
	s, err := NewSpace(DataMovement, ArithmeticLogic, ControlTransfer, ThreadingAtomic)
	if err != nil {
		panic(err)
	}
	return s
}

// Families returns a copy of the family definitions in quadrant order.
func (s *Space) Families() []Family {
	out := make([]Family, len(s.families))
	copy(out, s.families)
	return out
}

// Len is the number of real opcodes.
func (s *Space) Len() int { return s.size }

// Opcodes returns every real opcode in iteration order.
func (s *Space) Opcodes() []Opcode {
	out := make([]Opcode, 0, s.size)
	it := s.Iter()
	for op, ok := it.Next(); ok; op, ok = it.Next() {
		out = append(out, op)
	}
	return out
}

func (s *Space) Contains(op Opcode) bool {
	_, ok := s.names[op]
	return ok
}

func (s *Space) FamilyOf(op Opcode) (Family, bool) {
	for _, f := range s.families {
		if f.Contains(op) {
			return f, true
		}
	}
	return Family{}, false
}

// Name returns the mnemonic of op, or UNKNOWN(0x....) when op is outside the space.
func (s *Space) Name(op Opcode) string {
	if n, ok := s.names[op]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(op))
}

// Lookup resolves a mnemonic, case-insensitively.
func (s *Space) Lookup(name string) (Opcode, bool) {
	op, ok := s.byName[strings.ToUpper(strings.TrimSpace(name))]
	return op, ok
}

// Iterator walks a Space family by family. When one family's End sentinel is
// reached it continues at the next family's Begin; it never yields sentinels.
type Iterator struct {
	s   *Space
	fam int
	cur Opcode
}

func (s *Space) Iter() *Iterator {
	it := &Iterator{s: s}
	if len(s.families) > 0 {
		it.cur = s.families[0].Begin
	}
	return it
}

// Next returns the next opcode, or false once the last family is exhausted.
func (it *Iterator) Next() (Opcode, bool) {
	for it.fam < len(it.s.families) {
		f := it.s.families[it.fam]
		if it.cur < f.End {
			op := it.cur
			it.cur++
			return op, true
		}
		it.fam++
		if it.fam < len(it.s.families) {
			it.cur = it.s.families[it.fam].Begin
		}
	}
	return 0, false
}
