package segmentator

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/vmpilot/log"
	"github.com/colorfulnotion/vmpilot/vmerrors"
	"golang.org/x/arch/x86/x86asm"
)

// Region is the code strictly between a begin-marker call and its end-marker
// call. Name is the function containing the begin call.
type Region struct {
	Name  string
	Begin uint64
	End   uint64
	Code  []byte
}

// FindRegions scans the text section of bin for calls to the begin and end
// marker functions and pairs them. Marker symbols must resolve statically;
// calls through a PLT or import stub are not followed.
func FindRegions(bin *Binary, begin, end string) ([]Region, error) {
	bits, err := bin.Bits()
	if err != nil {
		return nil, err
	}
	beginAddr, ok := bin.Lookup(begin)
	if !ok {
		return nil, fmt.Errorf("%s: %w", begin, vmerrors.ErrMarkerNotFound)
	}
	endAddr, ok := bin.Lookup(end)
	if !ok {
		return nil, fmt.Errorf("%s: %w", end, vmerrors.ErrMarkerNotFound)
	}

	var (
		regions []Region
		open    *Region
	)
	text := bin.Text
	for off := 0; off < len(text); {
		inst, err := x86asm.Decode(text[off:], bits)
		if !decoded(inst, err) {
			off++
			continue
		}
		pc := bin.TextAddr + uint64(off)
		next := pc + uint64(inst.Len)
		off += inst.Len

		target, ok := callTarget(inst, next)
		if !ok {
			continue
		}
		switch target {
		case beginAddr:
			if open != nil {
				return nil, fmt.Errorf("%s at %#x inside region opened at %#x: %w", begin, pc, open.Begin, vmerrors.ErrUnbalancedMarkers)
			}
			open = &Region{Begin: next}
			if s, ok := bin.Enclosing(pc); ok {
				open.Name = s.Name
			} else {
				open.Name = fmt.Sprintf("sub_%x", pc)
			}
		case endAddr:
			if open == nil {
				return nil, fmt.Errorf("%s at %#x without %s: %w", end, pc, begin, vmerrors.ErrUnbalancedMarkers)
			}
			open.End = pc
			lo, hi := open.Begin-bin.TextAddr, pc-bin.TextAddr
			open.Code = append([]byte(nil), text[lo:hi]...)
			regions = append(regions, *open)
			log.Debug(log.SegmentMonitoring, "region found", "name", open.Name, "begin", fmt.Sprintf("%#x", open.Begin), "size", len(open.Code))
			open = nil
		}
	}
	if open != nil {
		return nil, fmt.Errorf("region at %#x never closed: %w", open.Begin, vmerrors.ErrUnbalancedMarkers)
	}
	return regions, nil
}

// decoded reports whether Decode produced a real instruction. A lone prefix or
// a truncated escape byte comes back without error but with no opcode.
func decoded(inst x86asm.Inst, err error) bool {
	return err == nil && inst.Op != 0 && inst.Len > 0
}

// callTarget resolves a direct relative CALL to its absolute target.
func callTarget(inst x86asm.Inst, next uint64) (uint64, bool) {
	if inst.Op != x86asm.CALL {
		return 0, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return next + uint64(int64(rel)), true
}

// Disassemble renders code loaded at addr one instruction per line. Bytes
// that do not decode are emitted as db.
func Disassemble(code []byte, addr uint64, bits int) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], bits)
		length := inst.Len
		if !decoded(inst, err) {
			sb.WriteString(fmt.Sprintf("0x%08x: db 0x%02x\n", addr+uint64(offset), code[offset]))
			offset++
			continue
		}

		var hexBytes []string
		for i := 0; i < length; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		sb.WriteString(fmt.Sprintf(
			"0x%08x: %-24s %s\n",
			addr+uint64(offset),
			strings.Join(hexBytes, " "),
			x86asm.GNUSyntax(inst, addr+uint64(offset), nil),
		))
		offset += length
	}
	return sb.String()
}
