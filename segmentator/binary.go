package segmentator

import (
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/colorfulnotion/vmpilot/vmerrors"
)

// headerProbe is enough for DetectFormat on any sane PE stub.
const headerProbe = 4096

const (
	MachineX86    = "x86"
	MachineX86_64 = "x86-64"
)

type Symbol struct {
	Name string
	Addr uint64
	Size uint64 // zero when the format does not record it
}

// Binary is the part of an executable the region scan needs: the text
// section and the symbol table, independent of container format.
type Binary struct {
	Type     FileType
	Machine  string
	TextAddr uint64
	Text     []byte
	Symbols  []Symbol // sorted by Addr
}

// Open reads path as ELF, PE or Mach-O.
func Open(path string) (*Binary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, headerProbe)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%s: %w", path, vmerrors.ErrUnknownFileFormat)
	}
	ft, err := DetectFormat(header[:n])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var bin *Binary
	switch ft.Format {
	case FormatELF:
		bin, err = openELF(f)
	case FormatPE:
		bin, err = openPE(f)
	case FormatMachO:
		bin, err = openMachO(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bin.Type = ft
	sort.SliceStable(bin.Symbols, func(i, j int) bool { return bin.Symbols[i].Addr < bin.Symbols[j].Addr })
	return bin, nil
}

func openELF(r io.ReaderAt) (*Binary, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elf: %v: %w", err, vmerrors.ErrUnknownFileFormat)
	}
	defer f.Close()

	bin := &Binary{Machine: f.Machine.String()}
	switch f.Machine {
	case elf.EM_386:
		bin.Machine = MachineX86
	case elf.EM_X86_64:
		bin.Machine = MachineX86_64
	}
	text := f.Section(".text")
	if text == nil {
		return nil, vmerrors.ErrSectionNotFound
	}
	if bin.Text, err = text.Data(); err != nil {
		return nil, err
	}
	bin.TextAddr = text.Addr

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, err
	}
	for _, s := range syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		bin.Symbols = append(bin.Symbols, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return bin, nil
}

func openPE(r io.ReaderAt) (*Binary, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("pe: %v: %w", err, vmerrors.ErrUnknownFileFormat)
	}
	defer f.Close()

	bin := &Binary{Machine: fmt.Sprintf("pe-0x%04x", f.Machine)}
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		bin.Machine = MachineX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		bin.Machine = MachineX86_64
	}
	var imageBase uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
	}
	text := f.Section(".text")
	if text == nil {
		return nil, vmerrors.ErrSectionNotFound
	}
	if bin.Text, err = text.Data(); err != nil {
		return nil, err
	}
	// raw data is padded to the file alignment
	if vs := int(text.VirtualSize); vs > 0 && vs < len(bin.Text) {
		bin.Text = bin.Text[:vs]
	}
	bin.TextAddr = imageBase + uint64(text.VirtualAddress)

	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sec := f.Sections[s.SectionNumber-1]
		bin.Symbols = append(bin.Symbols, Symbol{
			Name: s.Name,
			Addr: imageBase + uint64(sec.VirtualAddress) + uint64(s.Value),
		})
	}
	return bin, nil
}

func openMachO(r io.ReaderAt) (*Binary, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("macho: %v: %w", err, vmerrors.ErrUnknownFileFormat)
	}
	defer f.Close()

	bin := &Binary{Machine: f.Cpu.String()}
	switch f.Cpu {
	case macho.Cpu386:
		bin.Machine = MachineX86
	case macho.CpuAmd64:
		bin.Machine = MachineX86_64
	}
	text := f.Section("__text")
	if text == nil {
		return nil, vmerrors.ErrSectionNotFound
	}
	if bin.Text, err = text.Data(); err != nil {
		return nil, err
	}
	bin.TextAddr = text.Addr

	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if s.Name == "" || s.Value == 0 {
				continue
			}
			// C symbols carry a leading underscore on Darwin
			bin.Symbols = append(bin.Symbols, Symbol{Name: strings.TrimPrefix(s.Name, "_"), Addr: s.Value})
		}
	}
	return bin, nil
}

// Lookup returns the address of the named symbol.
func (b *Binary) Lookup(name string) (uint64, bool) {
	for _, s := range b.Symbols {
		if s.Name == name {
			return s.Addr, true
		}
	}
	return 0, false
}

// Enclosing returns the symbol whose extent covers addr: the highest
// addressed symbol at or below addr, bounded by its size when known.
func (b *Binary) Enclosing(addr uint64) (Symbol, bool) {
	i := sort.Search(len(b.Symbols), func(i int) bool { return b.Symbols[i].Addr > addr })
	for i--; i >= 0; i-- {
		s := b.Symbols[i]
		if s.Size == 0 || addr < s.Addr+s.Size {
			return s, true
		}
		// a sized symbol that ends before addr may still sit inside an
		// earlier, larger one
	}
	return Symbol{}, false
}

// Bits is the x86 decode mode for the binary's machine.
func (b *Binary) Bits() (int, error) {
	switch b.Machine {
	case MachineX86:
		return 32, nil
	case MachineX86_64:
		return 64, nil
	}
	return 0, fmt.Errorf("machine %s: %w", b.Machine, vmerrors.ErrUnsupportedArch)
}
