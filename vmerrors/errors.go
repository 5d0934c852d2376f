package vmerrors

import (
	"errors"
	"strings"
)

// Decode (V) Errors
var (
	ErrMalformedLength       = errors.New("V1|MalformedLength: Input length is not a positive multiple of the instruction size.")
	ErrAuthenticationFailure = errors.New("V2|AuthenticationFailure: Instruction checksum does not match its contents.")
	ErrUnknownOpcodeID       = errors.New("V3|UnknownOpcodeID: Obfuscated opcode id is absent from the private table.")
	ErrTableConsistency      = errors.New("V4|TableConsistencyError: Opcode index is absent from the runtime table.")
	ErrUnknownOpcode         = errors.New("V5|UnknownOpcode: Real opcode is not part of the opcode space.")
)

// Configuration (C) Errors
var (
	ErrEmptyKey           = errors.New("C1|EmptyKey: A non-empty secret key is required.")
	ErrInvalidOpcodeSpace = errors.New("C2|InvalidOpcodeSpace: Opcode families are empty, overlapping or misplaced.")
	ErrUnknownDigest      = errors.New("C3|UnknownDigest: Keyed digest algorithm is not supported.")
	ErrCipherFailure      = errors.New("C4|CipherFailure: Symmetric cipher rejected the key or buffer.")
	ErrInvalidConfig      = errors.New("C5|InvalidConfig: Configuration value is out of range.")
)

// Segmentator (S) and Bundle (B) Errors
var (
	ErrUnknownFileFormat = errors.New("S1|UnknownFileFormat: File is not an ELF, PE or Mach-O image.")
	ErrSectionNotFound   = errors.New("S2|SectionNotFound: Executable text section is missing.")
	ErrMarkerNotFound    = errors.New("S3|MarkerNotFound: Region marker symbol is missing.")
	ErrUnbalancedMarkers = errors.New("S4|UnbalancedMarkers: Region markers are nested or unpaired.")
	ErrUnsupportedArch   = errors.New("S5|UnsupportedArch: Only x86 and x86-64 code can be scanned.")
	ErrMalformedBundle   = errors.New("B1|MalformedBundle: Bundle header does not describe its payload.")
)

var known = []error{
	ErrMalformedLength, ErrAuthenticationFailure, ErrUnknownOpcodeID, ErrTableConsistency, ErrUnknownOpcode,
	ErrEmptyKey, ErrInvalidOpcodeSpace, ErrUnknownDigest, ErrCipherFailure, ErrInvalidConfig,
	ErrUnknownFileFormat, ErrSectionNotFound, ErrMarkerNotFound, ErrUnbalancedMarkers, ErrUnsupportedArch, ErrMalformedBundle,
}

// Kind returns the coded sentinel wrapped by err, or nil when err carries none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsSecurityRelevant reports whether err indicates possible tampering or a
// stream built under a different key, as opposed to an integration bug.
func IsSecurityRelevant(err error) bool {
	return errors.Is(err, ErrAuthenticationFailure) || errors.Is(err, ErrUnknownOpcodeID)
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if k := Kind(err); k != nil {
		err = k
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	k := Kind(err)
	if k == nil {
		return ""
	}
	parts := strings.SplitN(k.Error(), "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	k := Kind(err)
	if k == nil {
		return "DESC NOT SET"
	}
	parts := strings.SplitN(k.Error(), ":", 2)
	return strings.TrimSpace(parts[1])
}
