package model

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/rb"
)

const (
	// NofSubcarriersPerPRB is the number of subcarriers in one PRB.
	NofSubcarriersPerPRB = 12
	// NofSymbolsPerSlot is the number of OFDM symbols per slot (normal CP).
	NofSymbolsPerSlot = 14
	// MaxLayers is the largest number of spatial layers.
	MaxLayers = 8
	// MaxCodewords is the largest number of transport blocks per grant.
	MaxCodewords = 2
)

// Carrier describes the cell carrier.
type Carrier struct {
	PCI           uint32 // physical cell id
	NofPRB        uint32
	Numerology    uint32 // subcarrier spacing is 15 kHz * 2^mu
	MaxMIMOLayers uint32
}

// NofSubcarriers returns NofPRB * 12.
func (c Carrier) NofSubcarriers() uint32 { return c.NofPRB * NofSubcarriersPerPRB }

// GridSize returns the number of resource elements in one slot grid.
func (c Carrier) GridSize() int {
	return int(c.NofSubcarriers()) * NofSymbolsPerSlot
}

// DMRSConfig is the DMRS configuration of a PDSCH or PUSCH.
type DMRSConfig struct {
	Type          DMRSType
	AddPos        DMRSAddPos
	Length        DMRSLength
	TypeAPos      DMRSTypeAPos
	ScramblingID0 *uint32
	ScramblingID1 *uint32
}

// DefaultDMRS is the configuration used when no dedicated DMRS config
// applies: type 1, single symbol, additional position 2.
func DefaultDMRS(typeAPos DMRSTypeAPos) DMRSConfig {
	return DMRSConfig{Type: DMRSType1, AddPos: DMRSAddPos2, Length: DMRSLength1, TypeAPos: typeAPos}
}

// TimeAlloc is one row of a time-domain resource allocation list.
type TimeAlloc struct {
	K       uint32 // k0 (PDSCH) or k2 (PUSCH)
	Mapping MappingType
	SLIV    uint32
}

// BetaOffsets holds the higher-layer beta offset indexes for UCI on PUSCH.
// A non-zero Fix* value overrides the index tables.
type BetaOffsets struct {
	ACKIndex1  uint32 // O_ACK <= 2
	ACKIndex2  uint32 // O_ACK <= 11
	ACKIndex3  uint32 // O_ACK > 11
	CSI1Index1 uint32 // O_CSI <= 11
	CSI1Index2 uint32
	CSI2Index1 uint32
	CSI2Index2 uint32
	FixACK     float64
	FixCSI1    float64
	FixCSI2    float64
}

// DefaultBetaOffsets are the values a UE assumes when BetaOffsets is
// absent from the configuration.
func DefaultBetaOffsets() BetaOffsets {
	return BetaOffsets{
		ACKIndex1: 11, ACKIndex2: 11, ACKIndex3: 11,
		CSI1Index1: 13, CSI1Index2: 13,
		CSI2Index1: 13, CSI2Index2: 13,
	}
}

// SchHLConfig is the higher-layer configuration of PDSCH or PUSCH.
type SchHLConfig struct {
	MCSTable      MCSTableConfig
	RAType        RAType
	RBGConfig2    bool
	TypeAPos      DMRSTypeAPos
	DMRSTypeA     *DMRSConfig // dedicated DMRS for mapping type A
	DMRSTypeB     *DMRSConfig // dedicated DMRS for mapping type B
	CommonTime    []TimeAlloc
	DedicatedTime []TimeAlloc
	ScramblingID  *uint32 // dataScramblingIdentity; PCI when nil
	XOverhead     uint32  // 0, 6, 12 or 18
	Reserved      []REPattern
	BetaOffsets   *BetaOffsets // PUSCH only
	Scaling       float64      // alpha; 1.0 when zero
	Transform     bool         // transform precoding, unsupported
}

// DCI holds the scheduling fields of a decoded DL or UL DCI.
type DCI struct {
	Format               DCIFormat
	RNTI                 uint16
	RNTIType             RNTIType
	SearchSpace          SearchSpaceType
	TimeIdx              uint32 // time domain resource assignment row m
	FreqField            uint32 // frequency domain resource assignment
	MCS                  uint32
	MCS2                 uint32 // second TB, format 1_1 only
	Enable2ndTB          bool
	NDI                  uint32
	RV                   uint32
	HARQPid              uint32
	NofLayers            uint32 // from the antenna ports field; 1 for fallback formats
	CDMGroupsWithoutData uint32 // from the antenna ports field; 0 lets fallback rules apply
	TBScaling            uint32 // 0..2, P-RNTI and RA-RNTI only
}

// TB describes one codeword of a grant.
type TB struct {
	Enabled bool
	MCS     uint32
	Mod     Modulation
	R       float64 // target code rate
	TBS     uint32  // bits
	RV      uint32
	NDI     uint32
	NofRE   uint32 // REs available for data, per layer
	Layers  uint32 // layers carrying this codeword
}

// NofBits returns the number of coded bits the codeword occupies:
// NofRE * Qm * Layers.
func (tb TB) NofBits() uint32 {
	return tb.NofRE * tb.Mod.BitsPerSymbol() * tb.Layers
}

// SchGrant is the physical grant of one PDSCH or PUSCH transmission.
type SchGrant struct {
	Link                 Link
	RNTI                 uint16
	RNTIType             RNTIType
	DCIFormat            DCIFormat
	SearchSpace          SearchSpaceType
	K                    uint32
	S                    uint32 // first symbol
	L                    uint32 // number of symbols
	Mapping              MappingType
	PRBs                 rb.Bitmap // carrier-relative
	NofLayers            uint32
	CDMGroupsWithoutData uint32
	BetaDMRS             float64 // DMRS amplitude relative to data
	TB                   [MaxCodewords]TB
}

// NofPRB returns the number of allocated PRBs.
func (g *SchGrant) NofPRB() uint32 { return g.PRBs.Count() }

// NofCodewords returns the number of enabled transport blocks.
func (g *SchGrant) NofCodewords() int {
	n := 0
	for _, tb := range g.TB {
		if tb.Enabled {
			n++
		}
	}
	return n
}

// Symbols returns the symbol range [S, S+L).
func (g *SchGrant) Symbols() (first, last uint32) { return g.S, g.S + g.L }

func (g *SchGrant) String() string {
	return fmt.Sprintf("%s rnti=0x%x k=%d S=%d L=%d map=%s prb=%d layers=%d tb0={mcs=%d %s tbs=%d re=%d}",
		g.Link, g.RNTI, g.K, g.S, g.L, g.Mapping, g.NofPRB(), g.NofLayers,
		g.TB[0].MCS, g.TB[0].Mod, g.TB[0].TBS, g.TB[0].NofRE)
}

// UCIConfig carries the UCI payload sizes and on-PUSCH parameters.
type UCIConfig struct {
	NofACK   uint32
	NofCSI1  uint32
	NofCSI2  uint32
	Alpha    float64
	BetaACK  float64
	BetaCSI1 float64
	BetaCSI2 float64
}

// HasUCI reports whether any UCI is carried.
func (u UCIConfig) HasUCI() bool { return u.NofACK+u.NofCSI1+u.NofCSI2 > 0 }

// SchCfg is the complete configuration of one PDSCH or PUSCH transmission.
type SchCfg struct {
	Carrier      Carrier
	DMRS         DMRSConfig
	ScramblingID uint32
	Reserved     []REPattern
	MCSTable     MCSTable
	XOverhead    uint32
	Grant        SchGrant
	UCI          UCIConfig // PUSCH only
}
