// Package segmentator locates the code regions a developer marked for
// virtualization inside a compiled binary.
//
// A region is the code between a call to the begin marker function and the
// matching call to the end marker function. Regions may not nest.
package segmentator

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/vmpilot/vmerrors"
)

type Format uint8

const (
	FormatUnknown Format = iota
	FormatELF
	FormatPE
	FormatMachO
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "ELF"
	case FormatPE:
		return "PE"
	case FormatMachO:
		return "Mach-O"
	default:
		return "unknown"
	}
}

// FileType is the container format and word size read from a file header.
type FileType struct {
	Format Format
	Bits   int
}

func (t FileType) String() string {
	return fmt.Sprintf("%s%d", t.Format, t.Bits)
}

const (
	machoMagic32 = 0xfeedface
	machoMagic64 = 0xfeedfacf
	machoCigam32 = 0xcefaedfe
	machoCigam64 = 0xcffaedfe

	peOptMagic32 = 0x10b
	peOptMagic64 = 0x20b
)

// DetectFormat classifies a file from its leading bytes. PE detection needs
// the header through the optional header magic, a few hundred bytes at most.
func DetectFormat(header []byte) (FileType, error) {
	switch {
	case len(header) >= 5 && string(header[:4]) == "\x7fELF":
		switch header[4] {
		case 1:
			return FileType{FormatELF, 32}, nil
		case 2:
			return FileType{FormatELF, 64}, nil
		}
	case len(header) >= 4 && isMachO(binary.BigEndian.Uint32(header)):
		switch binary.BigEndian.Uint32(header) {
		case machoMagic32, machoCigam32:
			return FileType{FormatMachO, 32}, nil
		default:
			return FileType{FormatMachO, 64}, nil
		}
	case len(header) >= 0x40 && string(header[:2]) == "MZ":
		off := int(binary.LittleEndian.Uint32(header[0x3c:]))
		if off < 0 || off+26 > len(header) || string(header[off:off+4]) != "PE\x00\x00" {
			break
		}
		// optional header follows the 4-byte signature and 20-byte COFF header
		switch binary.LittleEndian.Uint16(header[off+24:]) {
		case peOptMagic32:
			return FileType{FormatPE, 32}, nil
		case peOptMagic64:
			return FileType{FormatPE, 64}, nil
		}
	}
	return FileType{}, vmerrors.ErrUnknownFileFormat
}

func isMachO(magic uint32) bool {
	switch magic {
	case machoMagic32, machoMagic64, machoCigam32, machoCigam64:
		return true
	}
	return false
}
