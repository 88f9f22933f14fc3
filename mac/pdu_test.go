package mac

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/nrstack/model"
)

type subPDUView struct {
	LCID    uint8
	Header  int
	Payload []byte
}

func views(p *PDU) []subPDUView {
	var out []subPDUView
	for _, sp := range p.SubPDUs() {
		out = append(out, subPDUView{LCID: sp.LCID(), Header: sp.HeaderLen(), Payload: sp.Payload()})
	}
	return out
}

func repack(t *testing.T, p *PDU) []byte {
	t.Helper()
	var out PDU
	out.Init(make([]byte, p.Len()), p.Link())
	for _, sp := range p.SubPDUs() {
		if sp.IsPadding() {
			continue
		}
		if err := out.AddSubPDU(sp); err != nil {
			t.Fatalf("AddSubPDU(%s): %v", &sp, err)
		}
	}
	return out.Pack()
}

func TestULCCCH48HasFixedSize(t *testing.T) {
	sp := NewSubPDU(model.Uplink)
	if err := sp.SetSDU(LCIDCCCH48, make([]byte, 10)); err != nil {
		t.Fatalf("SetSDU: %v", err)
	}
	if sp.HeaderLen() != 1 || sp.SDULen() != 6 {
		t.Fatalf("got header=%d sdu=%d, want header=1 sdu=6", sp.HeaderLen(), sp.SDULen())
	}
	if err := sp.SetSDU(LCIDCCCH48, make([]byte, 3)); !errors.Is(err, ErrInvalidCE) {
		t.Fatalf("expected ErrInvalidCE for short CCCH SDU, got %v", err)
	}
}

func TestULPackUnpackRoundTrip(t *testing.T) {
	ccch := []byte{1, 2, 3, 4, 5, 6}
	drb := make([]byte, 300)
	for i := range drb {
		drb[i] = byte(i)
	}

	var tx PDU
	tx.Init(make([]byte, 400), model.Uplink)
	steps := []func() error{
		func() error { return tx.AddSDU(LCIDCCCH48, ccch) },
		func() error { return tx.AddCRNTI(0x4601) },
		func() error { return tx.AddSEPHR(40, 20) },
		func() error { return tx.AddShortBSR(LCGReport{LCG: 2, Index: 17}, false) },
		func() error { return tx.AddLongBSR([]LCGReport{{LCG: 5, Index: 200}, {LCG: 1, Index: 9}}) },
		func() error { return tx.AddSDU(4, drb) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	buf := tx.Pack()

	var rx PDU
	if err := rx.Unpack(buf, model.Uplink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	want := []subPDUView{
		{LCID: LCIDCCCH48, Header: 1, Payload: ccch},
		{LCID: LCIDCRNTI, Header: 1, Payload: []byte{0x46, 0x01}},
		{LCID: LCIDSEPHR, Header: 1, Payload: []byte{40, 20}},
		{LCID: LCIDShortBSR, Header: 1, Payload: []byte{2<<5 | 17}},
		{LCID: LCIDLongBSR, Header: 2, Payload: []byte{0b00100010, 9, 200}},
		{LCID: 4, Header: 3, Payload: drb},
		{LCID: LCIDPadding, Header: 1, Payload: make([]byte, 400-(7+3+3+2+5+303)-1)},
	}
	if diff := cmp.Diff(want, views(&rx)); diff != "" {
		t.Fatalf("unpacked sub-PDUs mismatch (-want +got):\n%s", diff)
	}

	sps := rx.SubPDUs()
	if got := sps[1].CRNTI(); got != 0x4601 {
		t.Fatalf("CRNTI got %#x, want 0x4601", got)
	}
	if ph, pcmax := sps[2].SEPHR(); ph != 40 || pcmax != 20 {
		t.Fatalf("SEPHR got (%d,%d), want (40,20)", ph, pcmax)
	}
	if got := sps[3].ShortBSR(); got != (LCGReport{LCG: 2, Index: 17}) {
		t.Fatalf("ShortBSR got %+v", got)
	}
	lbsr, err := sps[4].LongBSR()
	if err != nil {
		t.Fatalf("LongBSR: %v", err)
	}
	if diff := cmp.Diff([]LCGReport{{LCG: 1, Index: 9}, {LCG: 5, Index: 200}}, lbsr); diff != "" {
		t.Fatalf("LongBSR mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(buf, repack(t, &rx)); diff != "" {
		t.Fatalf("repacked PDU differs (-want +got):\n%s", diff)
	}
}

func TestDLControlElements(t *testing.T) {
	id := [ConResIDLen]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	var tx PDU
	tx.Init(make([]byte, 32), model.Downlink)
	if err := tx.AddUEConResID(id); err != nil {
		t.Fatalf("AddUEConResID: %v", err)
	}
	if err := tx.AddTACmd(1, 31); err != nil {
		t.Fatalf("AddTACmd: %v", err)
	}
	if err := tx.AddDRXCmd(false); err != nil {
		t.Fatalf("AddDRXCmd: %v", err)
	}
	if err := tx.AddSDU(LCIDCCCH, []byte("rrc setup")); err != nil {
		t.Fatalf("AddSDU: %v", err)
	}
	if err := tx.AddCRNTI(1); !errors.Is(err, ErrInvalidLCID) {
		t.Fatalf("expected ErrInvalidLCID for C-RNTI CE on DL, got %v", err)
	}

	var rx PDU
	if err := rx.Unpack(tx.Pack(), model.Downlink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	sps := rx.SubPDUs()
	if len(sps) != 5 {
		t.Fatalf("got %d sub-PDUs, want 5", len(sps))
	}
	if got := sps[0].UEConResID(); got != id {
		t.Fatalf("UEConResID got %x, want %x", got, id)
	}
	if tag, ta := sps[1].TACmd(); tag != 1 || ta != 31 {
		t.Fatalf("TACmd got (%d,%d), want (1,31)", tag, ta)
	}
	if sps[2].LCID() != LCIDDRXCmd || sps[2].TotalLen() != 1 {
		t.Fatalf("DRX command mismatch: %s", &sps[2])
	}
	if !sps[3].IsSDU() || string(sps[3].Payload()) != "rrc setup" {
		t.Fatalf("CCCH SDU mismatch: %s", &sps[3])
	}
	if !sps[4].IsPadding() {
		t.Fatalf("last sub-PDU is not padding: %s", &sps[4])
	}
}

func TestUnpackReservedLCIDIsDirectional(t *testing.T) {
	// LCID 50 is reserved on UL-SCH and a variable sized CE on DL-SCH.
	buf := []byte{50, 1, 0xff}

	var p PDU
	err := p.Unpack(buf, model.Uplink)
	if !errors.Is(err, ErrMalformedPDU) {
		t.Fatalf("expected ErrMalformedPDU, got %v", err)
	}
	if len(p.SubPDUs()) != 0 {
		t.Fatalf("failed parse kept %d sub-PDUs", len(p.SubPDUs()))
	}
	if err := p.Unpack(buf, model.Downlink); err != nil {
		t.Fatalf("DL Unpack: %v", err)
	}
	if got := p.SubPDUs()[0].SDULen(); got != 1 {
		t.Fatalf("SDULen got %d, want 1", got)
	}
	if err := p.Unpack([]byte{40}, model.Downlink); !errors.Is(err, ErrMalformedPDU) {
		t.Fatalf("expected ErrMalformedPDU for DL LCID 40, got %v", err)
	}
}

func TestUnpackTruncatedPayload(t *testing.T) {
	var p PDU
	cases := [][]byte{
		{4, 10, 1, 2},
		{fBit | 4, 0},
		{4},
		{LCIDCRNTI, 0x46},
	}
	for _, buf := range cases {
		if err := p.Unpack(buf, model.Uplink); !errors.Is(err, ErrMalformedPDU) {
			t.Fatalf("Unpack(%x): expected ErrMalformedPDU, got %v", buf, err)
		}
	}
}

func TestPaddingConsumesRest(t *testing.T) {
	var p PDU
	if err := p.Unpack([]byte{1, 1, 0x11, LCIDPadding, 0xaa, 0xbb}, model.Downlink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	sps := p.SubPDUs()
	if len(sps) != 2 || !sps[1].IsPadding() || sps[1].SDULen() != 2 {
		t.Fatalf("padding mismatch: %v", views(&p))
	}
}

func TestAddChecksBudget(t *testing.T) {
	var p PDU
	p.Init(make([]byte, 4), model.Uplink)
	if err := p.AddCRNTI(0x4601); err != nil {
		t.Fatalf("AddCRNTI: %v", err)
	}
	if err := p.AddShortBSR(LCGReport{LCG: 1, Index: 3}, false); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	if p.Remaining() != 1 || len(p.SubPDUs()) != 1 {
		t.Fatalf("failed add changed the PDU: remaining=%d subPDUs=%d", p.Remaining(), len(p.SubPDUs()))
	}
	if diff := cmp.Diff([]byte{LCIDCRNTI, 0x46, 0x01, LCIDPadding}, p.Pack()); diff != "" {
		t.Fatalf("packed PDU mismatch (-want +got):\n%s", diff)
	}
}

func TestPackExactFitHasNoPadding(t *testing.T) {
	var p PDU
	p.Init(make([]byte, 3), model.Uplink)
	if err := p.AddCRNTI(7); err != nil {
		t.Fatalf("AddCRNTI: %v", err)
	}
	p.Pack()
	if len(p.SubPDUs()) != 1 || p.Remaining() != 0 {
		t.Fatalf("exact fit got %d sub-PDUs, remaining %d", len(p.SubPDUs()), p.Remaining())
	}
}

func TestLongLengthFieldRoundTrip(t *testing.T) {
	// Short SDU encoded with a 16 bit L field must survive a repack.
	buf := []byte{fBit | 4, 0x00, 0x02, 0xca, 0xfe, LCIDPadding, 0, 0}
	var p PDU
	if err := p.Unpack(buf, model.Uplink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got := p.SubPDUs()[0].HeaderLen(); got != 3 {
		t.Fatalf("HeaderLen got %d, want 3", got)
	}
	if diff := cmp.Diff(buf, repack(t, &p)); diff != "" {
		t.Fatalf("repacked PDU differs (-want +got):\n%s", diff)
	}
}

func TestLongTruncatedBSRDefaults(t *testing.T) {
	sp := NewSubPDU(model.Uplink)
	ce := make([]byte, maxCESize)
	if err := sp.SetLongTruncBSR(ce, 0b00001101, []LCGReport{{LCG: 0, Index: 12}}); err != nil {
		t.Fatalf("SetLongTruncBSR: %v", err)
	}
	got, err := sp.LongBSR()
	if err != nil {
		t.Fatalf("LongBSR: %v", err)
	}
	want := []LCGReport{{LCG: 0, Index: 12}, {LCG: 2, Index: TruncatedBSRDefault}, {LCG: 3, Index: TruncatedBSRDefault}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LongBSR mismatch (-want +got):\n%s", diff)
	}

	var p PDU
	if err := p.Unpack([]byte{LCIDLongBSR, 2, 0b101, 7}, model.Uplink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if _, err := p.SubPDUs()[0].LongBSR(); !errors.Is(err, ErrInvalidCE) {
		t.Fatalf("expected ErrInvalidCE for incomplete long BSR, got %v", err)
	}
	if err := sp.SetLongTruncBSR(ce, 0b1, []LCGReport{{LCG: 4, Index: 1}}); !errors.Is(err, ErrInvalidCE) {
		t.Fatalf("expected ErrInvalidCE for report outside bitmap, got %v", err)
	}
}

func TestCEAccessorOnWrongLCIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	sp := NewSubPDU(model.Uplink)
	if err := sp.SetCRNTI(make([]byte, 2), 1); err != nil {
		t.Fatalf("SetCRNTI: %v", err)
	}
	sp.SEPHR()
}

func TestBufferSizeIndex(t *testing.T) {
	cases := []struct {
		bytes uint32
		want  uint8
	}{
		{0, 0}, {10, 1}, {11, 2}, {1038, 15}, {150000, 30}, {150001, 31},
	}
	for _, tc := range cases {
		if got := BufferSizeToIndex(tc.bytes); got != tc.want {
			t.Fatalf("BufferSizeToIndex(%d) got %d, want %d", tc.bytes, got, tc.want)
		}
	}
	if got := IndexToBufferSize(30); got != 150000 {
		t.Fatalf("IndexToBufferSize(30) got %d", got)
	}
	if got := IndexToBufferSize(31); got <= 150000 {
		t.Fatalf("IndexToBufferSize(31) got %d", got)
	}
}

// randomPDU writes 1 to 5 random sub-PDUs for link with random reserved
// bits, either L field width, and optionally trailing padding filled with
// garbage.
func randomPDU(rng *rand.Rand, link model.Link) []byte {
	var lcids []uint8
	for lcid := uint8(0); lcid < LCIDPadding; lcid++ {
		if IsValidLCID(lcid, link) {
			lcids = append(lcids, lcid)
		}
	}
	var b []byte
	for range 1 + rng.IntN(5) {
		lcid := lcids[rng.IntN(len(lcids))]
		if n, fixed := FixedSize(lcid, link); fixed {
			b = append(b, byte(rng.IntN(4))<<6|lcid)
			for range n {
				b = append(b, byte(rng.Uint32()))
			}
			continue
		}
		l := rng.IntN(300)
		r := byte(rng.IntN(2)) << 7
		if l > 0xff || rng.IntN(2) == 0 {
			b = append(b, r|fBit|lcid, byte(l>>8), byte(l))
		} else {
			b = append(b, r|lcid, byte(l))
		}
		for range l {
			b = append(b, byte(rng.Uint32()))
		}
	}
	if rng.IntN(2) == 0 {
		b = append(b, byte(rng.IntN(4))<<6|LCIDPadding)
		for range rng.IntN(20) {
			b = append(b, byte(rng.Uint32()))
		}
	}
	return b
}

// canonical clears the R bits of every subheader of b and zeroes its
// padding, which is how Pack writes them.
func canonical(t *testing.T, b []byte, link model.Link) []byte {
	t.Helper()
	var p PDU
	if err := p.Unpack(b, link); err != nil {
		t.Fatalf("Unpack(%x): %v", b, err)
	}
	out := slices.Clone(b)
	off := 0
	for _, sp := range p.SubPDUs() {
		out[off] &= lcidMask
		if sp.HeaderLen() == 3 {
			out[off] |= fBit
		}
		if sp.IsPadding() {
			clear(out[off+1:])
		}
		off += sp.TotalLen()
	}
	return out
}

func TestPackUnpackCanonicalRoundTrip(t *testing.T) {
	for _, link := range []model.Link{model.Uplink, model.Downlink} {
		rng := rand.New(rand.NewPCG(42, uint64(link)))
		for i := range 500 {
			raw := randomPDU(rng, link)
			want := canonical(t, raw, link)

			var dirty PDU
			if err := dirty.Unpack(raw, link); err != nil {
				t.Fatalf("%s #%d: Unpack: %v", link, i, err)
			}
			if diff := cmp.Diff(want, repack(t, &dirty)); diff != "" {
				t.Fatalf("%s #%d: packing a PDU with reserved bits set (-want +got):\n%s", link, i, diff)
			}

			var clean PDU
			if err := clean.Unpack(want, link); err != nil {
				t.Fatalf("%s #%d: Unpack canonical: %v", link, i, err)
			}
			if diff := cmp.Diff(want, repack(t, &clean)); diff != "" {
				t.Fatalf("%s #%d: canonical PDU not reproduced (-want +got):\n%s", link, i, diff)
			}
		}
	}
}
