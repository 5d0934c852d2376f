package segmentator

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"

	"github.com/colorfulnotion/vmpilot/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peHeader(optMagic uint16) []byte {
	h := make([]byte, 0x100)
	copy(h, "MZ")
	binary.LittleEndian.PutUint32(h[0x3c:], 0x80)
	copy(h[0x80:], "PE\x00\x00")
	binary.LittleEndian.PutUint16(h[0x80+24:], optMagic)
	return h
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]struct {
		header []byte
		want   FileType
	}{
		"elf32":     {[]byte("\x7fELF\x01\x01\x01"), FileType{FormatELF, 32}},
		"elf64":     {[]byte("\x7fELF\x02\x01\x01"), FileType{FormatELF, 64}},
		"macho32":   {[]byte{0xfe, 0xed, 0xfa, 0xce}, FileType{FormatMachO, 32}},
		"macho64":   {[]byte{0xfe, 0xed, 0xfa, 0xcf}, FileType{FormatMachO, 64}},
		"macho64le": {[]byte{0xcf, 0xfa, 0xed, 0xfe}, FileType{FormatMachO, 64}},
		"pe32":      {peHeader(0x10b), FileType{FormatPE, 32}},
		"pe64":      {peHeader(0x20b), FileType{FormatPE, 64}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := DetectFormat(tc.header)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectFormatUnknown(t *testing.T) {
	truncatedPE := peHeader(0x20b)[:0x90]
	badOpt := peHeader(0x999)
	for _, h := range [][]byte{nil, []byte("\x7fELF\x03"), []byte("#!/bin/sh"), []byte("MZ"), truncatedPE, badOpt, {0xca, 0xfe, 0xba, 0xbe}} {
		_, err := DetectFormat(h)
		assert.ErrorIs(t, err, vmerrors.ErrUnknownFileFormat, "%x", h)
	}
}

// code at 0x1000:
//
//	call VMPilot_Begin ; 0x2000
//	nop; nop; nop
//	call VMPilot_End   ; 0x2010
//	ret
var markedCode = []byte{
	0xe8, 0xfb, 0x0f, 0x00, 0x00,
	0x90, 0x90, 0x90,
	0xe8, 0x03, 0x10, 0x00, 0x00,
	0xc3,
}

func markedBinary() *Binary {
	return &Binary{
		Type:     FileType{FormatELF, 64},
		Machine:  MachineX86_64,
		TextAddr: 0x1000,
		Text:     append([]byte(nil), markedCode...),
		Symbols: []Symbol{
			{Name: "check_license", Addr: 0x1000, Size: uint64(len(markedCode))},
			{Name: "VMPilot_Begin", Addr: 0x2000, Size: 1},
			{Name: "VMPilot_End", Addr: 0x2010, Size: 1},
		},
	}
}

func TestFindRegions(t *testing.T) {
	regions, err := FindRegions(markedBinary(), "VMPilot_Begin", "VMPilot_End")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	r := regions[0]
	assert.Equal(t, "check_license", r.Name)
	assert.EqualValues(t, 0x1005, r.Begin)
	assert.EqualValues(t, 0x1008, r.End)
	assert.Equal(t, []byte{0x90, 0x90, 0x90}, r.Code)
}

func TestFindRegions32(t *testing.T) {
	bin := markedBinary()
	bin.Machine = MachineX86
	regions, err := FindRegions(bin, "VMPilot_Begin", "VMPilot_End")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.EqualValues(t, 0x1005, regions[0].Begin)
}

func TestFindRegionsErrors(t *testing.T) {
	_, err := FindRegions(markedBinary(), "Protect_Begin", "VMPilot_End")
	assert.ErrorIs(t, err, vmerrors.ErrMarkerNotFound)

	// begin markers swapped for end markers: first call closes nothing
	_, err = FindRegions(markedBinary(), "VMPilot_End", "VMPilot_Begin")
	assert.ErrorIs(t, err, vmerrors.ErrUnbalancedMarkers)

	nested := markedBinary()
	nested.Text = append(append([]byte(nil), markedCode[:5]...), markedCode...)
	// second begin call sits 5 bytes later, so its displacement shrinks by 5
	binary.LittleEndian.PutUint32(nested.Text[6:], 0x0ffb-5)
	binary.LittleEndian.PutUint32(nested.Text[14:], 0x1003-5)
	_, err = FindRegions(nested, "VMPilot_Begin", "VMPilot_End")
	assert.ErrorIs(t, err, vmerrors.ErrUnbalancedMarkers)

	unclosed := markedBinary()
	unclosed.Text = unclosed.Text[:8]
	_, err = FindRegions(unclosed, "VMPilot_Begin", "VMPilot_End")
	assert.ErrorIs(t, err, vmerrors.ErrUnbalancedMarkers)

	arm := markedBinary()
	arm.Machine = "EM_AARCH64"
	_, err = FindRegions(arm, "VMPilot_Begin", "VMPilot_End")
	assert.ErrorIs(t, err, vmerrors.ErrUnsupportedArch)
}

func TestEnclosing(t *testing.T) {
	bin := &Binary{Symbols: []Symbol{
		{Name: "outer", Addr: 0x100, Size: 0x100},
		{Name: "inner", Addr: 0x120, Size: 0x10},
		{Name: "unsized", Addr: 0x300},
	}}
	s, ok := bin.Enclosing(0x125)
	require.True(t, ok)
	assert.Equal(t, "inner", s.Name)

	s, ok = bin.Enclosing(0x140)
	require.True(t, ok)
	assert.Equal(t, "outer", s.Name)

	s, ok = bin.Enclosing(0x5000)
	require.True(t, ok)
	assert.Equal(t, "unsized", s.Name)

	_, ok = bin.Enclosing(0x50)
	assert.False(t, ok)
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(append(markedCode, 0x0f), 0x1000, 64)
	assert.Contains(t, out, "0x00001005: 90")
	assert.Contains(t, out, "nop")
	assert.Contains(t, out, "0x0000100e: db 0x0f")
}

func TestDisassembleDanglingBytes(t *testing.T) {
	for _, b := range []byte{0x0f, 0x66, 0xf0} {
		out := Disassemble([]byte{b}, 0x2000, 64)
		assert.Equal(t, fmt.Sprintf("0x00002000: db 0x%02x\n", b), out)
	}
}

func TestFindRegionsSkipsDanglingBytes(t *testing.T) {
	bin := markedBinary()
	// a trailing escape byte after the ret must not stop or confuse the scan
	bin.Text = append(bin.Text, 0x0f)
	regions, err := FindRegions(bin, "VMPilot_Begin", "VMPilot_End")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, []byte{0x90, 0x90, 0x90}, regions[0].Code)
}

func TestOpenSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	bin, err := Open(exe)
	require.NoError(t, err)
	assert.NotEqual(t, FormatUnknown, bin.Type.Format)
	assert.NotEmpty(t, bin.Text)
	assert.NotZero(t, bin.TextAddr)
}

func TestOpenNotBinary(t *testing.T) {
	path := t.TempDir() + "/script.sh"
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))
	_, err := Open(path)
	assert.ErrorIs(t, err, vmerrors.ErrUnknownFileFormat)
}
