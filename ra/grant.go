package ra

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/dmrs"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/rb"
)

// Request holds everything needed to turn a DCI into a grant.
type Request struct {
	Carrier model.Carrier
	BWP     rb.BWP
	HL      *model.SchHLConfig
	DCI     model.DCI
	// PrevTBS is the TBS of the initial transmission of each codeword. It is
	// required when the DCI carries a reserved MCS index.
	PrevTBS [model.MaxCodewords]uint32
}

// SelectDMRS returns the DMRS configuration for a mapping type: the
// dedicated configuration when present, otherwise the type A defaults.
func SelectDMRS(hl *model.SchHLConfig, mapping model.MappingType) model.DMRSConfig {
	var cfg *model.DMRSConfig
	if mapping == model.MappingTypeA {
		cfg = hl.DMRSTypeA
	} else {
		cfg = hl.DMRSTypeB
	}
	if cfg == nil {
		return model.DefaultDMRS(hl.TypeAPos)
	}
	out := *cfg
	out.TypeAPos = hl.TypeAPos
	return out
}

// TBScalingFactor returns S for the DCI TB scaling field.
func TBScalingFactor(field uint32) (float64, error) {
	switch field {
	case 0:
		return 1, nil
	case 1:
		return 0.5, nil
	case 2:
		return 0.25, nil
	}
	return 0, fmt.Errorf("%w: tb scaling %d", ErrUnsupported, field)
}

// DLDCIToGrant derives a PDSCH configuration.
func DLDCIToGrant(req Request) (model.SchCfg, error) {
	ta, err := PDSCHTime(req.HL, req.DCI.RNTIType, req.DCI.SearchSpace, req.DCI.TimeIdx)
	if err != nil {
		return model.SchCfg{}, err
	}
	return deriveGrant(model.Downlink, req, ta)
}

// ULDCIToGrant derives a PUSCH configuration.
func ULDCIToGrant(req Request) (model.SchCfg, error) {
	if req.HL.Transform {
		return model.SchCfg{}, fmt.Errorf("%w: transform precoding", ErrUnsupported)
	}
	ta, err := PUSCHTime(req.HL, req.Carrier.Numerology, req.DCI.RNTIType, req.DCI.SearchSpace, req.DCI.TimeIdx)
	if err != nil {
		return model.SchCfg{}, err
	}
	return deriveGrant(model.Uplink, req, ta)
}

func deriveGrant(link model.Link, req Request, ta TimeAlloc) (model.SchCfg, error) {
	hl, dci := req.HL, req.DCI

	prbs, err := FreqAlloc(hl, req.Carrier, req.BWP, dci.Format, dci.FreqField)
	if err != nil {
		return model.SchCfg{}, err
	}

	layers := uint32(1)
	if !dci.Format.Fallback() && dci.NofLayers > 0 {
		layers = dci.NofLayers
	}
	maxLayers := uint32(model.MaxLayers)
	if link == model.Uplink {
		maxLayers = 4
	}
	if req.Carrier.MaxMIMOLayers > 0 {
		maxLayers = min(maxLayers, req.Carrier.MaxMIMOLayers)
	}
	if layers > maxLayers {
		return model.SchCfg{}, fmt.Errorf("%w: %d layers, max %d", ErrUnsupported, layers, maxLayers)
	}

	dmrsCfg := SelectDMRS(hl, ta.Mapping)
	cdm := dci.CDMGroupsWithoutData
	if dci.Format.Fallback() || cdm == 0 {
		cdm = dmrs.DefaultCDMGroups(link, ta.Mapping, ta.L)
	}
	if cdm > dmrs.MaxCDMGroups(dmrsCfg.Type) {
		return model.SchCfg{}, fmt.Errorf("%w: %d CDM groups for DMRS type %d", ErrUnsupported, cdm, int(dmrsCfg.Type))
	}

	scramblingID := req.Carrier.PCI
	if hl.ScramblingID != nil && !dci.SearchSpace.Common() {
		scramblingID = *hl.ScramblingID
	}

	cfg := model.SchCfg{
		Carrier:      req.Carrier,
		DMRS:         dmrsCfg,
		ScramblingID: scramblingID,
		Reserved:     hl.Reserved,
		MCSTable:     SelectMCSTable(link, hl.MCSTable, dci.Format, dci.SearchSpace, dci.RNTIType),
		XOverhead:    hl.XOverhead,
		Grant: model.SchGrant{
			Link:                 link,
			RNTI:                 dci.RNTI,
			RNTIType:             dci.RNTIType,
			DCIFormat:            dci.Format,
			SearchSpace:          dci.SearchSpace,
			K:                    ta.K,
			S:                    ta.S,
			L:                    ta.L,
			Mapping:              ta.Mapping,
			PRBs:                 prbs,
			NofLayers:            layers,
			CDMGroupsWithoutData: cdm,
			BetaDMRS:             math.Sqrt(float64(cdm)),
		},
	}

	symbols, err := dmrs.Symbols(cfg.DMRS, link, ta.Mapping, ta.S, ta.L)
	if err != nil {
		return model.SchCfg{}, fmt.Errorf("%w: %v", ErrInvalidTimeAlloc, err)
	}
	plan, err := re.NewPlan(&cfg)
	if err != nil {
		return model.SchCfg{}, err
	}

	scaling := 1.0
	if dci.RNTIType == model.RNTITypeP || dci.RNTIType == model.RNTITypeRA {
		if scaling, err = TBScalingFactor(dci.TBScaling); err != nil {
			return model.SchCfg{}, err
		}
	}
	nreTBS := NofREForTBS(prbs.Count(), ta.L, dmrs.NofREPerPRB(cfg.DMRS.Type, cdm, len(symbols)),
		hl.XOverhead, re.CountReserved(&cfg, symbols))

	twoCW := link == model.Downlink && dci.Format == model.DCIFormat11 && dci.Enable2ndTB && layers > 4
	cwLayers := [model.MaxCodewords]uint32{layers, 0}
	if twoCW {
		cwLayers = [model.MaxCodewords]uint32{layers / 2, layers - layers/2}
	}
	mcs := [model.MaxCodewords]uint32{dci.MCS, dci.MCS2}
	for cw := 0; cw < model.MaxCodewords; cw++ {
		if cw == 1 && !twoCW {
			break
		}
		tb, err := fillTB(cfg.MCSTable, mcs[cw], cwLayers[cw], plan.Count(), nreTBS, scaling, req.PrevTBS[cw])
		if err != nil {
			return model.SchCfg{}, fmt.Errorf("codeword %d: %w", cw, err)
		}
		tb.RV, tb.NDI = dci.RV, dci.NDI
		cfg.Grant.TB[cw] = tb
	}
	return cfg, nil
}

func fillTB(table model.MCSTable, mcs, layers, nofRE, nreTBS uint32, scaling float64, prevTBS uint32) (model.TB, error) {
	entry, err := MCSInfo(table, mcs)
	if err != nil {
		return model.TB{}, err
	}
	tb := model.TB{
		Enabled: true,
		MCS:     mcs,
		Mod:     entry.Mod,
		R:       entry.R(),
		NofRE:   nofRE,
		Layers:  layers,
	}
	if entry.Reserved {
		if prevTBS == 0 {
			return model.TB{}, fmt.Errorf("%w: reserved index %d without initial transmission", ErrInvalidMCS, mcs)
		}
		tb.TBS = prevTBS
		return tb, nil
	}
	tb.TBS, err = TBS(TBSParams{
		NRE:     nreTBS,
		Scaling: scaling,
		R:       tb.R,
		Qm:      entry.Mod.BitsPerSymbol(),
		Layers:  layers,
	})
	if err != nil {
		return model.TB{}, err
	}
	return tb, nil
}
