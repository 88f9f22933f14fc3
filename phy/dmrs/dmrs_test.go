package dmrs

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/seq"
	"github.com/signalsfoundry/nrstack/rb"
)

func equal(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSymbolsTypeA(t *testing.T) {
	cases := []struct {
		name string
		cfg  model.DMRSConfig
		s, l uint32
		want []uint32
	}{
		{"pos2 full slot", model.DefaultDMRS(model.DMRSTypeAPos2), 0, 14, []uint32{2, 7, 11}},
		{"pos2 ld 12", model.DefaultDMRS(model.DMRSTypeAPos2), 0, 12, []uint32{2, 6, 9}},
		{"pos1 ld 10", model.DMRSConfig{AddPos: model.DMRSAddPos1}, 1, 9, []uint32{2, 9}},
		{"pos0", model.DMRSConfig{AddPos: model.DMRSAddPos0, TypeAPos: model.DMRSTypeAPos3}, 0, 14, []uint32{3}},
		{"pos3", model.DMRSConfig{AddPos: model.DMRSAddPos3}, 0, 14, []uint32{2, 5, 8, 11}},
		{"short", model.DefaultDMRS(model.DMRSTypeAPos2), 2, 5, []uint32{2}},
		{"double", model.DMRSConfig{Length: model.DMRSLength2, AddPos: model.DMRSAddPos1}, 0, 14, []uint32{2, 3, 10, 11}},
	}
	for _, tc := range cases {
		got, err := Symbols(tc.cfg, model.Downlink, model.MappingTypeA, tc.s, tc.l)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !equal(got, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSymbolsTypeB(t *testing.T) {
	cfg := model.DefaultDMRS(model.DMRSTypeAPos2)
	got, err := Symbols(cfg, model.Downlink, model.MappingTypeB, 5, 7)
	if err != nil || !equal(got, []uint32{5, 9}) {
		t.Fatalf("PDSCH type B L=7 got %v (%v), want [5 9]", got, err)
	}
	got, err = Symbols(cfg, model.Downlink, model.MappingTypeB, 4, 2)
	if err != nil || !equal(got, []uint32{4}) {
		t.Fatalf("PDSCH type B L=2 got %v (%v), want [4]", got, err)
	}
	cfg.AddPos = model.DMRSAddPos3
	got, err = Symbols(cfg, model.Uplink, model.MappingTypeB, 0, 12)
	if err != nil || !equal(got, []uint32{0, 3, 6, 9}) {
		t.Fatalf("PUSCH type B L=12 pos3 got %v (%v)", got, err)
	}
}

func TestSymbolsErrors(t *testing.T) {
	cfg := model.DMRSConfig{AddPos: model.DMRSAddPos3, TypeAPos: model.DMRSTypeAPos3}
	if _, err := Symbols(cfg, model.Downlink, model.MappingTypeA, 0, 14); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Symbols(model.DMRSConfig{}, model.Downlink, model.MappingTypeA, 10, 5); !errors.Is(err, ErrDuration) {
		t.Fatalf("expected ErrDuration, got %v", err)
	}
}

func TestCDMGroups(t *testing.T) {
	n := 0
	for k := uint32(0); k < 12; k++ {
		if IsDMRSRE(model.DMRSType2, 1, k) {
			n++
		}
	}
	if n != 4 {
		t.Fatalf("type 2 group 0 REs got %d, want 4", n)
	}
	if got := NofREPerPRB(model.DMRSType1, 2, 3); got != 36 {
		t.Fatalf("NofREPerPRB got %d, want 36", got)
	}
	if DefaultCDMGroups(model.Downlink, model.MappingTypeB, 2) != 1 ||
		DefaultCDMGroups(model.Uplink, model.MappingTypeB, 2) != 2 ||
		DefaultCDMGroups(model.Downlink, model.MappingTypeA, 2) != 2 {
		t.Fatalf("DefaultCDMGroups mismatch")
	}
}

func TestPutWritesPilotsOnly(t *testing.T) {
	carrier := model.Carrier{PCI: 1, NofPRB: 4}
	prbs := rb.NewBitmap(4)
	prbs.SetRange(1, 3)
	cfg := &model.SchCfg{
		Carrier: carrier,
		DMRS:    model.DefaultDMRS(model.DMRSTypeAPos2),
		Grant: model.SchGrant{
			Link: model.Downlink, S: 0, L: 14, Mapping: model.MappingTypeA, PRBs: prbs,
		},
	}
	grid := make([]complex64, carrier.GridSize())
	if err := Put(nil, cfg, 3, grid); err != nil {
		t.Fatalf("Put: %v", err)
	}
	gen, _ := seq.NewGenerator(8)
	grid2 := make([]complex64, carrier.GridSize())
	if err := Put(gen, cfg, 3, grid2); err != nil {
		t.Fatalf("Put with cache: %v", err)
	}
	nonZero := 0
	for i, v := range grid {
		if v != grid2[i] {
			t.Fatalf("cached and uncached pilots differ at %d", i)
		}
		if v != 0 {
			nonZero++
		}
	}
	// 3 symbols x 2 PRBs x 6 pilots
	if nonZero != 36 {
		t.Fatalf("pilot count got %d, want 36", nonZero)
	}
}
