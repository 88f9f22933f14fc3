package model

import "fmt"

// Link is the transmission direction.
type Link int

const (
	Downlink Link = iota
	Uplink
)

func (l Link) String() string {
	if l == Uplink {
		return "ul"
	}
	return "dl"
}

// RNTIType identifies how the RNTI scrambling a DCI was assigned.
type RNTIType int

const (
	RNTITypeC      RNTIType = iota // cell RNTI
	RNTITypeTC                     // temporary C-RNTI
	RNTITypeCS                     // configured scheduling
	RNTITypeSPCSI                  // semi-persistent CSI
	RNTITypeMCSC                   // MCS-C-RNTI
	RNTITypeRA                     // random access
	RNTITypeP                      // paging
	RNTITypeSI                     // system information
)

var rntiTypeNames = map[RNTIType]string{
	RNTITypeC:     "C-RNTI",
	RNTITypeTC:    "TC-RNTI",
	RNTITypeCS:    "CS-RNTI",
	RNTITypeSPCSI: "SP-CSI-RNTI",
	RNTITypeMCSC:  "MCS-C-RNTI",
	RNTITypeRA:    "RA-RNTI",
	RNTITypeP:     "P-RNTI",
	RNTITypeSI:    "SI-RNTI",
}

func (t RNTIType) String() string {
	if n, ok := rntiTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("RNTIType(%d)", int(t))
}

// DCIFormat is the DCI format carrying the grant.
type DCIFormat int

const (
	DCIFormat00 DCIFormat = iota
	DCIFormat01
	DCIFormat10
	DCIFormat11
)

func (f DCIFormat) String() string {
	switch f {
	case DCIFormat00:
		return "0_0"
	case DCIFormat01:
		return "0_1"
	case DCIFormat10:
		return "1_0"
	case DCIFormat11:
		return "1_1"
	}
	return fmt.Sprintf("DCIFormat(%d)", int(f))
}

// Fallback reports whether the format is a fallback (0_0 or 1_0) DCI.
func (f DCIFormat) Fallback() bool { return f == DCIFormat00 || f == DCIFormat10 }

// SearchSpaceType is the type of search space the DCI was detected in.
type SearchSpaceType int

const (
	SearchSpaceCommon0 SearchSpaceType = iota // type0 CSS, SIB1
	SearchSpaceCommon0A
	SearchSpaceCommon1
	SearchSpaceCommon2
	SearchSpaceCommon3
	SearchSpaceUE
)

// Common reports whether the search space is a common search space.
func (s SearchSpaceType) Common() bool { return s != SearchSpaceUE }

// MCSTableConfig is the higher-layer mcs-Table setting.
type MCSTableConfig int

const (
	MCSTableConfigQAM64 MCSTableConfig = iota // not configured
	MCSTableConfigQAM256
	MCSTableConfigQAM64LowSE
)

// MCSTable identifies one of the three MCS index tables.
type MCSTable int

const (
	MCSTable1 MCSTable = iota + 1 // 64QAM
	MCSTable2                     // 256QAM
	MCSTable3                     // 64QAM low spectral efficiency
)

func (t MCSTable) String() string {
	switch t {
	case MCSTable1:
		return "64qam"
	case MCSTable2:
		return "256qam"
	case MCSTable3:
		return "64qam-lowse"
	}
	return fmt.Sprintf("MCSTable(%d)", int(t))
}

// Modulation is a constellation.
type Modulation int

const (
	ModulationBPSK Modulation = iota
	ModulationQPSK
	ModulationQAM16
	ModulationQAM64
	ModulationQAM256
)

// BitsPerSymbol returns Qm.
func (m Modulation) BitsPerSymbol() uint32 {
	switch m {
	case ModulationBPSK:
		return 1
	case ModulationQPSK:
		return 2
	case ModulationQAM16:
		return 4
	case ModulationQAM64:
		return 6
	case ModulationQAM256:
		return 8
	}
	return 0
}

func (m Modulation) String() string {
	switch m {
	case ModulationBPSK:
		return "BPSK"
	case ModulationQPSK:
		return "QPSK"
	case ModulationQAM16:
		return "16QAM"
	case ModulationQAM64:
		return "64QAM"
	case ModulationQAM256:
		return "256QAM"
	}
	return fmt.Sprintf("Modulation(%d)", int(m))
}

// ModulationFromQm maps bits per symbol back to a modulation.
func ModulationFromQm(qm uint32) (Modulation, bool) {
	switch qm {
	case 1:
		return ModulationBPSK, true
	case 2:
		return ModulationQPSK, true
	case 4:
		return ModulationQAM16, true
	case 6:
		return ModulationQAM64, true
	case 8:
		return ModulationQAM256, true
	}
	return 0, false
}

// MappingType is the PDSCH/PUSCH time-domain mapping type.
type MappingType int

const (
	MappingTypeA MappingType = iota
	MappingTypeB
)

func (m MappingType) String() string {
	if m == MappingTypeB {
		return "B"
	}
	return "A"
}

// RAType is the frequency-domain resource allocation type.
type RAType int

const (
	RAType1 RAType = iota
	RAType0
	RATypeDynamic // MSB of the field selects the type
)

// DMRSType is dmrs-Type.
type DMRSType int

const (
	DMRSType1 DMRSType = iota
	DMRSType2
)

// DMRSAddPos is dmrs-AdditionalPosition.
type DMRSAddPos int

const (
	DMRSAddPos2 DMRSAddPos = iota // default when absent
	DMRSAddPos0
	DMRSAddPos1
	DMRSAddPos3
)

// Count returns the number of additional positions.
func (p DMRSAddPos) Count() int {
	switch p {
	case DMRSAddPos0:
		return 0
	case DMRSAddPos1:
		return 1
	case DMRSAddPos3:
		return 3
	}
	return 2
}

// DMRSLength is maxLength.
type DMRSLength int

const (
	DMRSLength1 DMRSLength = iota
	DMRSLength2
)

// DMRSTypeAPos is dmrs-TypeA-Position from the MIB.
type DMRSTypeAPos int

const (
	DMRSTypeAPos2 DMRSTypeAPos = iota
	DMRSTypeAPos3
)

// Symbol returns l0 for mapping type A.
func (p DMRSTypeAPos) Symbol() uint32 {
	if p == DMRSTypeAPos3 {
		return 3
	}
	return 2
}

// CQITable selects the CQI table (cqi-Table).
type CQITable int

const (
	CQITable1 CQITable = iota + 1 // 64QAM
	CQITable2                     // 256QAM
	CQITable3                     // 64QAM low spectral efficiency
)
