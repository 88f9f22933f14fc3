package ra

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/rb"
)

func TestSelectMCSTable(t *testing.T) {
	cases := []struct {
		name   string
		link   model.Link
		cfg    model.MCSTableConfig
		format model.DCIFormat
		ss     model.SearchSpaceType
		rnti   model.RNTIType
		want   model.MCSTable
	}{
		{"qam256 1_1 c-rnti", model.Downlink, model.MCSTableConfigQAM256, model.DCIFormat11, model.SearchSpaceUE, model.RNTITypeC, model.MCSTable2},
		{"qam256 fallback", model.Downlink, model.MCSTableConfigQAM256, model.DCIFormat10, model.SearchSpaceUE, model.RNTITypeC, model.MCSTable1},
		{"qam256 ul sp-csi", model.Uplink, model.MCSTableConfigQAM256, model.DCIFormat01, model.SearchSpaceUE, model.RNTITypeSPCSI, model.MCSTable2},
		{"qam256 dl sp-csi", model.Downlink, model.MCSTableConfigQAM256, model.DCIFormat11, model.SearchSpaceUE, model.RNTITypeSPCSI, model.MCSTable1},
		{"lowse ue ss", model.Downlink, model.MCSTableConfigQAM64LowSE, model.DCIFormat10, model.SearchSpaceUE, model.RNTITypeC, model.MCSTable3},
		{"lowse common ss", model.Downlink, model.MCSTableConfigQAM64LowSE, model.DCIFormat10, model.SearchSpaceCommon3, model.RNTITypeC, model.MCSTable1},
		{"mcs-c-rnti", model.Downlink, model.MCSTableConfigQAM256, model.DCIFormat11, model.SearchSpaceUE, model.RNTITypeMCSC, model.MCSTable3},
		{"default", model.Uplink, model.MCSTableConfigQAM64, model.DCIFormat00, model.SearchSpaceCommon1, model.RNTITypeTC, model.MCSTable1},
	}
	for _, tc := range cases {
		if got := SelectMCSTable(tc.link, tc.cfg, tc.format, tc.ss, tc.rnti); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestMCSTable2Index20Is256QAM(t *testing.T) {
	table := SelectMCSTable(model.Downlink, model.MCSTableConfigQAM256, model.DCIFormat11, model.SearchSpaceUE, model.RNTITypeC)
	e, err := MCSInfo(table, 20)
	if err != nil {
		t.Fatalf("MCSInfo: %v", err)
	}
	if e.Mod != model.ModulationQAM256 || e.R1024 != 682.5 {
		t.Fatalf("got %s R=%v, want 256QAM R=682.5", e.Mod, e.R1024)
	}
}

func TestMCSInfoBounds(t *testing.T) {
	if _, err := MCSInfo(model.MCSTable1, 32); !errors.Is(err, ErrInvalidMCS) {
		t.Fatalf("expected ErrInvalidMCS, got %v", err)
	}
	if _, err := MCSInfo(model.MCSTable(9), 0); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
	for table, last := range map[model.MCSTable]uint32{model.MCSTable1: 28, model.MCSTable2: 27, model.MCSTable3: 28} {
		if got := MaxMCS(table); got != last {
			t.Fatalf("MaxMCS(%s) got %d, want %d", table, got, last)
		}
		e, err := MCSInfo(table, 31)
		if err != nil || !e.Reserved {
			t.Fatalf("index 31 of %s should be reserved: %+v %v", table, e, err)
		}
	}
}

func TestTBSSmallBranch(t *testing.T) {
	got, err := TBS(TBSParams{NRE: 1200, Scaling: 1, R: 0.6016, Qm: 2, Layers: 1})
	if err != nil {
		t.Fatalf("TBS: %v", err)
	}
	if got != 1480 {
		t.Fatalf("TBS got %d, want 1480", got)
	}
}

func TestTBSLargeBranch(t *testing.T) {
	cases := []struct {
		p    TBSParams
		want uint32
	}{
		// N_info = 5760, N' = 5760, C = 1.
		{TBSParams{NRE: 1440, R: 0.5, Qm: 4, Layers: 2}, 5760},
		// R <= 1/4: N_info = 4800, N' = 4736, C = 2.
		{TBSParams{NRE: 4800, R: 0.25, Qm: 2, Layers: 2}, 4744},
		// N_info = 25344, N' = 25088 > 8424, C = 3.
		{TBSParams{NRE: 4224, R: 0.75, Qm: 8, Layers: 1}, 25104},
	}
	for _, tc := range cases {
		got, err := TBS(tc.p)
		if err != nil {
			t.Fatalf("TBS(%+v): %v", tc.p, err)
		}
		if got != tc.want {
			t.Fatalf("TBS(%+v) got %d, want %d", tc.p, got, tc.want)
		}
	}
}

func TestTBSMonotonicInNRE(t *testing.T) {
	for _, r := range []float64{0.1, 0.25, 0.5, 0.93} {
		prev := uint32(0)
		for nre := uint32(12); nre <= 156*275; nre += 37 {
			got, err := TBS(TBSParams{NRE: nre, R: r, Qm: 6, Layers: 2})
			if err != nil {
				t.Fatalf("TBS: %v", err)
			}
			if got < prev {
				t.Fatalf("TBS decreased at nre=%d r=%v: %d < %d", nre, r, got, prev)
			}
			prev = got
		}
	}
}

func TestTBSInvalid(t *testing.T) {
	if _, err := TBS(TBSParams{NRE: 0, R: 0.5, Qm: 2, Layers: 1}); !errors.Is(err, ErrInvalidTBS) {
		t.Fatalf("expected ErrInvalidTBS, got %v", err)
	}
}

func TestSLIVRoundTrip(t *testing.T) {
	for s := uint32(0); s < 14; s++ {
		for l := uint32(1); s+l <= 14; l++ {
			gs, gl := SLIVToSL(SLToSLIV(s, l))
			if gs != s || gl != l {
				t.Fatalf("SLIV round trip (%d,%d) got (%d,%d)", s, l, gs, gl)
			}
		}
	}
}

func TestRIVRoundTrip(t *testing.T) {
	const n = 51
	for s := uint32(0); s < n; s++ {
		for l := uint32(1); s+l <= n; l++ {
			iv := rb.NewInterval(s, s+l)
			got, err := RIVToInterval(IntervalToRIV(iv, n), n)
			if err != nil || got != iv {
				t.Fatalf("RIV round trip %s got %s (%v)", iv, got, err)
			}
		}
	}
	if _, err := RIVToInterval(n*(n+1)/2, n); !errors.Is(err, ErrInvalidFreqAlloc) {
		t.Fatalf("expected ErrInvalidFreqAlloc for out of range riv, got %v", err)
	}
}

func TestType0Bitmap(t *testing.T) {
	rbgs := Type0ToRBGs(0b1010000000000, 13)
	if got := rbgs.Indices(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("Type0ToRBGs got %v", got)
	}
	if RBGsToType0(rbgs) != 0b1010000000000 {
		t.Fatalf("RBGsToType0 round trip failed")
	}
}

func TestTimeDomainDefaults(t *testing.T) {
	hl := &model.SchHLConfig{TypeAPos: model.DMRSTypeAPos3}
	got, err := PDSCHTime(hl, model.RNTITypeC, model.SearchSpaceUE, 0)
	if err != nil {
		t.Fatalf("PDSCHTime: %v", err)
	}
	if diff := cmp.Diff(TimeAlloc{S: 3, L: 11, Mapping: model.MappingTypeA}, got); diff != "" {
		t.Fatalf("PDSCH default row 0 mismatch (-want +got):\n%s", diff)
	}

	got, err = PUSCHTime(hl, 2, model.RNTITypeC, model.SearchSpaceUE, 14)
	if err != nil {
		t.Fatalf("PUSCHTime: %v", err)
	}
	if diff := cmp.Diff(TimeAlloc{K: 5, S: 0, L: 14, Mapping: model.MappingTypeA}, got); diff != "" {
		t.Fatalf("PUSCH default row 14 mismatch (-want +got):\n%s", diff)
	}

	if _, err := PDSCHTime(hl, model.RNTITypeC, model.SearchSpaceUE, 16); !errors.Is(err, ErrInvalidTimeAlloc) {
		t.Fatalf("expected ErrInvalidTimeAlloc, got %v", err)
	}
}

func TestTimeDomainTableSelection(t *testing.T) {
	hl := &model.SchHLConfig{
		CommonTime:    []model.TimeAlloc{{K: 0, Mapping: model.MappingTypeA, SLIV: SLToSLIV(1, 13)}},
		DedicatedTime: []model.TimeAlloc{{K: 1, Mapping: model.MappingTypeB, SLIV: SLToSLIV(4, 7)}},
	}
	got, _ := PDSCHTime(hl, model.RNTITypeC, model.SearchSpaceUE, 0)
	if got.K != 1 || got.S != 4 || got.L != 7 {
		t.Fatalf("dedicated list not used: %+v", got)
	}
	got, _ = PDSCHTime(hl, model.RNTITypeRA, model.SearchSpaceCommon1, 0)
	if got.S != 1 || got.L != 13 {
		t.Fatalf("common list not used: %+v", got)
	}
	got, _ = PDSCHTime(hl, model.RNTITypeSI, model.SearchSpaceCommon0, 0)
	if got.S != 2 || got.L != 12 {
		t.Fatalf("default A not used for SIB1: %+v", got)
	}
}

func TestCQIMappings(t *testing.T) {
	mcs, err := CQIToMCS(model.CQITable1, 15)
	if err != nil || mcs != 28 {
		t.Fatalf("CQIToMCS(1,15) got %d %v", mcs, err)
	}
	mcs, _ = CQIToMCS(model.CQITable2, 12)
	e, _ := MCSInfo(MCSTableForCQI(model.CQITable2), mcs)
	if e.Mod != model.ModulationQAM256 || e.R1024 != 711 {
		t.Fatalf("CQI 12 of table 2 maps to %s R=%v", e.Mod, e.R1024)
	}
	if _, err := CQIToMCS(model.CQITable3, 0); !errors.Is(err, ErrInvalidCQI) {
		t.Fatalf("expected ErrInvalidCQI, got %v", err)
	}
	se, _ := CQIToSE(model.CQITable1, 7)
	if SEToCQI(model.CQITable1, se) != 7 {
		t.Fatalf("SEToCQI inverse failed for se=%v", se)
	}
	idx, _ := SEToMCS(model.MCSTable1, se)
	if idx != 11 {
		t.Fatalf("SEToMCS got %d, want 11", idx)
	}
}

func TestBetaOffsetsACK(t *testing.T) {
	hl := &model.SchHLConfig{}
	cfg := &model.SchCfg{}
	if err := SetULGrantUCI(hl, cfg, 2, 0, 0); err != nil {
		t.Fatalf("SetULGrantUCI: %v", err)
	}
	if cfg.UCI.BetaACK != 1.0 || cfg.UCI.Alpha != 1.0 {
		t.Fatalf("beta/alpha got %v/%v, want 1/1", cfg.UCI.BetaACK, cfg.UCI.Alpha)
	}

	hl.BetaOffsets = &model.BetaOffsets{FixACK: 2.5, ACKIndex1: 5}
	if err := SetULGrantUCI(hl, cfg, 2, 0, 0); err != nil || cfg.UCI.BetaACK != 2.5 {
		t.Fatalf("fixed beta got %v (%v), want 2.5", cfg.UCI.BetaACK, err)
	}

	b := model.DefaultBetaOffsets()
	b.ACKIndex2 = 4
	v, _ := BetaACK(b, 5)
	if v != 4.0 {
		t.Fatalf("BetaACK index2 got %v, want 4", v)
	}
	b.ACKIndex3 = 16
	if _, err := BetaACK(b, 12); !errors.Is(err, ErrInvalidBeta) {
		t.Fatalf("expected ErrInvalidBeta, got %v", err)
	}
	b.CSI1Index2 = 18
	if v, _ := BetaCSI1(b, 20); v != 20.0 {
		t.Fatalf("BetaCSI1 got %v, want 20", v)
	}
}

func newHL() *model.SchHLConfig {
	return &model.SchHLConfig{TypeAPos: model.DMRSTypeAPos2}
}

func TestDLDCIToGrant(t *testing.T) {
	carrier := model.Carrier{PCI: 500, NofPRB: 52, MaxMIMOLayers: 1}
	req := Request{
		Carrier: carrier,
		BWP:     rb.BWP{NofPRB: 52},
		HL:      newHL(),
		DCI: model.DCI{
			Format:      model.DCIFormat10,
			RNTI:        0x4601,
			RNTIType:    model.RNTITypeC,
			SearchSpace: model.SearchSpaceUE,
			TimeIdx:     0,
			FreqField:   IntervalToRIV(rb.NewInterval(0, 10), 52),
			MCS:         4,
		},
	}
	cfg, err := DLDCIToGrant(req)
	if err != nil {
		t.Fatalf("DLDCIToGrant: %v", err)
	}
	g := cfg.Grant
	if g.S != 2 || g.L != 12 || g.NofPRB() != 10 || g.CDMGroupsWithoutData != 2 {
		t.Fatalf("grant mismatch: %s", &g)
	}
	// DMRS at 2, 7, 11: 9 data symbols x 120 REs.
	if g.TB[0].NofRE != 1080 {
		t.Fatalf("NofRE got %d, want 1080", g.TB[0].NofRE)
	}
	want, _ := TBS(TBSParams{NRE: 1080, R: 308.0 / 1024, Qm: 2, Layers: 1})
	if g.TB[0].TBS != want || g.TB[0].NofBits() != 2160 {
		t.Fatalf("TB mismatch: tbs=%d want %d bits=%d", g.TB[0].TBS, want, g.TB[0].NofBits())
	}
	if cfg.ScramblingID != 500 {
		t.Fatalf("scrambling id got %d, want PCI", cfg.ScramblingID)
	}
}

func TestDLDCIToGrantReservedMCS(t *testing.T) {
	req := Request{
		Carrier: model.Carrier{PCI: 1, NofPRB: 24},
		BWP:     rb.BWP{NofPRB: 24},
		HL:      newHL(),
		DCI: model.DCI{
			Format: model.DCIFormat10, RNTIType: model.RNTITypeC, SearchSpace: model.SearchSpaceUE,
			FreqField: IntervalToRIV(rb.NewInterval(0, 4), 24), MCS: 29,
		},
	}
	if _, err := DLDCIToGrant(req); !errors.Is(err, ErrInvalidMCS) {
		t.Fatalf("expected ErrInvalidMCS, got %v", err)
	}
	req.PrevTBS[0] = 816
	cfg, err := DLDCIToGrant(req)
	if err != nil || cfg.Grant.TB[0].TBS != 816 {
		t.Fatalf("retransmission TBS got %d (%v), want 816", cfg.Grant.TB[0].TBS, err)
	}
}

func TestDLDCIToGrantReservedCollision(t *testing.T) {
	hl := newHL()
	pat := model.REPattern{RBEnd: 52}
	pat.Subcarriers[0] = true
	pat.Symbols[2] = true
	hl.Reserved = []model.REPattern{pat}
	req := Request{
		Carrier: model.Carrier{PCI: 1, NofPRB: 52},
		BWP:     rb.BWP{NofPRB: 52},
		HL:      hl,
		DCI: model.DCI{
			Format: model.DCIFormat10, RNTIType: model.RNTITypeC, SearchSpace: model.SearchSpaceUE,
			FreqField: IntervalToRIV(rb.NewInterval(0, 4), 52), MCS: 1,
		},
	}
	if _, err := DLDCIToGrant(req); !errors.Is(err, re.ErrReservedCollision) {
		t.Fatalf("expected ErrReservedCollision, got %v", err)
	}
}

func TestDLDCIToGrantTwoCodewords(t *testing.T) {
	req := Request{
		Carrier: model.Carrier{PCI: 1, NofPRB: 52, MaxMIMOLayers: 8},
		BWP:     rb.BWP{NofPRB: 52},
		HL:      newHL(),
		DCI: model.DCI{
			Format: model.DCIFormat11, RNTIType: model.RNTITypeC, SearchSpace: model.SearchSpaceUE,
			FreqField: IntervalToRIV(rb.NewInterval(0, 8), 52), MCS: 10, MCS2: 5,
			Enable2ndTB: true, NofLayers: 6,
		},
	}
	cfg, err := DLDCIToGrant(req)
	if err != nil {
		t.Fatalf("DLDCIToGrant: %v", err)
	}
	g := cfg.Grant
	if g.NofCodewords() != 2 || g.TB[0].Layers != 3 || g.TB[1].Layers != 3 {
		t.Fatalf("codeword split mismatch: %+v", g.TB)
	}
	if g.TB[1].Mod != model.ModulationQPSK || g.TB[1].TBS >= g.TB[0].TBS {
		t.Fatalf("second codeword mismatch: %+v", g.TB[1])
	}
}

func TestULDCIToGrant(t *testing.T) {
	req := Request{
		Carrier: model.Carrier{PCI: 1, NofPRB: 52, Numerology: 1},
		BWP:     rb.BWP{NofPRB: 52},
		HL:      newHL(),
		DCI: model.DCI{
			Format: model.DCIFormat00, RNTIType: model.RNTITypeC, SearchSpace: model.SearchSpaceUE,
			TimeIdx: 0, FreqField: IntervalToRIV(rb.NewInterval(10, 30), 52), MCS: 9,
		},
	}
	cfg, err := ULDCIToGrant(req)
	if err != nil {
		t.Fatalf("ULDCIToGrant: %v", err)
	}
	g := cfg.Grant
	if g.Link != model.Uplink || g.K != 1 || g.S != 0 || g.L != 14 {
		t.Fatalf("UL time mismatch: %s", &g)
	}
	if !g.PRBs.Test(10) || g.PRBs.Test(30) || g.NofPRB() != 20 {
		t.Fatalf("UL PRBs mismatch: %s", g.PRBs)
	}
	req.HL.Transform = true
	if _, err := ULDCIToGrant(req); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for transform precoding, got %v", err)
	}
}
