package optable

import (
	"encoding/json"
	"sort"
)

type RuntimeEntry struct {
	OI         OI     `json:"OI"`
	RealOpcode uint16 `json:"real_opcode"`
	Mnemonic   string `json:"mnemonic"`
}

type BuildtimeEntry struct {
	RealOpcode uint16 `json:"real_opcode"`
	Mnemonic   string `json:"mnemonic"`
	OID        OID    `json:"OID"`
}

type SecretEntry struct {
	OID OID `json:"OID"`
	OI  OI  `json:"OI"`
}

// Dump is the JSON view of a Generator's tables.
type Dump struct {
	Digest                string           `json:"digest"`
	RuntimeTable          []RuntimeEntry   `json:"runtime_table"`
	BuildtimeTable        []BuildtimeEntry `json:"buildtime_table"`
	SecretConversionTable []SecretEntry    `json:"secret_conversion_table,omitempty"`
}

// NewDump renders g's tables sorted by key. The private OID -> OI table is
// included only when includeSecret is set.
func NewDump(g *Generator, includeSecret bool) Dump {
	space := g.Space()
	d := Dump{
		Digest:         g.Digest().Name(),
		RuntimeTable:   make([]RuntimeEntry, 0, len(g.oiToReal)),
		BuildtimeTable: make([]BuildtimeEntry, 0, len(g.realToOID)),
	}
	for oi, op := range g.oiToReal {
		d.RuntimeTable = append(d.RuntimeTable, RuntimeEntry{OI: oi, RealOpcode: uint16(op), Mnemonic: space.Name(op)})
	}
	sort.Slice(d.RuntimeTable, func(i, j int) bool { return d.RuntimeTable[i].OI < d.RuntimeTable[j].OI })

	for op, oid := range g.realToOID {
		d.BuildtimeTable = append(d.BuildtimeTable, BuildtimeEntry{RealOpcode: uint16(op), Mnemonic: space.Name(op), OID: oid})
	}
	sort.Slice(d.BuildtimeTable, func(i, j int) bool { return d.BuildtimeTable[i].RealOpcode < d.BuildtimeTable[j].RealOpcode })

	if includeSecret {
		for oid, oi := range g.oidToOI {
			d.SecretConversionTable = append(d.SecretConversionTable, SecretEntry{OID: oid, OI: oi})
		}
		sort.Slice(d.SecretConversionTable, func(i, j int) bool {
			return d.SecretConversionTable[i].OID < d.SecretConversionTable[j].OID
		})
	}
	return d
}

func (d Dump) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "    ")
}
