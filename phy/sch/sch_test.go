package sch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/nrstack/model"
)

func payloadOf(tbs uint32) []byte {
	out := make([]byte, tbs/8)
	for i := range out {
		out[i] = byte(i*31 + 7)
	}
	return out
}

func cleanLLR(bits []uint8) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = 4 * (1 - 2*float32(b))
	}
	return out
}

func TestSegmentSingleBlock(t *testing.T) {
	seg, err := Segment(1480, 0.6016)
	require.NoError(t, err)
	require.Equal(t, Segmentation{TBS: 1480, BaseGraph: 2, L: 16, B: 1496, C: 1, KPrime: 1496, K: 1600, Zc: 160}, seg)
	require.Equal(t, 104, seg.Filler())
}

func TestSegmentMultipleBlocks(t *testing.T) {
	seg, err := Segment(25104, 0.75)
	require.NoError(t, err)
	require.Equal(t, 1, seg.BaseGraph)
	require.Equal(t, 3, seg.C)
	require.Equal(t, 24, seg.CBCRC)
	require.Equal(t, 8400, seg.KPrime)
	require.Equal(t, 384, seg.Zc)
	require.Equal(t, 8448, seg.K)
	require.Equal(t, seg.B, seg.C*seg.InfoBits())
}

func TestBaseGraphSelection(t *testing.T) {
	require.Equal(t, 2, BaseGraph(292, 0.9))
	require.Equal(t, 2, BaseGraph(3824, 0.6))
	require.Equal(t, 1, BaseGraph(3824, 0.7))
	require.Equal(t, 2, BaseGraph(100000, 0.2))
	require.Equal(t, 1, BaseGraph(100000, 0.5))
}

func TestRateMatchLengths(t *testing.T) {
	lengths := RateMatchLengths(1000, 1, 2, 3)
	require.Equal(t, []int{332, 334, 334}, lengths)
	lengths = RateMatchLengths(2400, 2, 4, 2)
	require.Equal(t, []int{1200, 1200}, lengths)
}

func TestInterleaveInverse(t *testing.T) {
	e := make([]uint8, 48)
	for i := range e {
		e[i] = uint8(i % 3 & 1)
	}
	f := make([]uint8, len(e))
	Interleave(e, 6, f)
	require.Equal(t, e[8], f[1])

	back := make([]float32, len(e))
	Deinterleave(cleanLLR(f), 6, back)
	require.Equal(t, cleanLLR(e), back)
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []Params{
		{TBS: 1480, R: 0.6016, Qm: 2, Layers: 1, G: 2160},
		{TBS: 25104, R: 0.75, Qm: 4, Layers: 2, G: 60000},
		{TBS: 25104, R: 0.75, Qm: 4, Layers: 2, RV: 2, G: 60000},
	}
	codec := NewCodec(nil)
	for _, p := range cases {
		payload := payloadOf(p.TBS)
		coded := make([]uint8, p.G)
		require.NoError(t, codec.Encode(payload, p, coded))

		got := make([]byte, len(payload))
		res, err := codec.Decode(cleanLLR(coded), p, got)
		require.NoError(t, err)
		require.True(t, res.CRC, "tbs %d", p.TBS)
		require.Equal(t, res.Seg.C, res.BlocksOK)
		require.Equal(t, payload, got)
	}
}

func TestCodecReportsBlockFailure(t *testing.T) {
	p := Params{TBS: 25104, R: 0.75, Qm: 4, Layers: 1, G: 60000}
	codec := NewCodec(nil)
	coded := make([]uint8, p.G)
	require.NoError(t, codec.Encode(payloadOf(p.TBS), p, coded))

	llr := cleanLLR(coded)
	lengths := RateMatchLengths(p.G, p.Layers, p.Qm, 3)
	for i := lengths[0]; i < lengths[0]+lengths[1]; i++ {
		llr[i] = -llr[i]
	}
	res, err := codec.Decode(llr, p, make([]byte, p.TBS/8))
	require.NoError(t, err)
	require.False(t, res.CRC)
	require.Equal(t, 2, res.BlocksOK)
}

func TestCodecRejectsBadSizes(t *testing.T) {
	codec := NewCodec(nil)
	p := Params{TBS: 1480, R: 0.6016, Qm: 2, Layers: 1, G: 2160}
	require.ErrorIs(t, codec.Encode(make([]byte, 10), p, make([]uint8, p.G)), ErrTBSize)
	require.ErrorIs(t, codec.Encode(payloadOf(p.TBS), p, make([]uint8, 100)), ErrLength)
	_, err := codec.Decode(make([]float32, 2158), p, make([]byte, 185))
	require.ErrorIs(t, err, ErrLength)
}

func TestParamsFromTB(t *testing.T) {
	tb := model.TB{Enabled: true, TBS: 1480, R: 0.6016, Mod: model.ModulationQPSK, NofRE: 1080, Layers: 1}
	p := ParamsFromTB(tb)
	require.Equal(t, uint32(2160), p.G)
	require.Equal(t, uint32(2), p.Qm)
}
