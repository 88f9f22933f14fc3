// Package pdsch encodes transport blocks onto the downlink shared channel
// resource grid and decodes them back, one or two codewords per grant.
package pdsch

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/dmrs"
	"github.com/signalsfoundry/nrstack/phy/fec"
	"github.com/signalsfoundry/nrstack/phy/modem"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/phy/sch"
	"github.com/signalsfoundry/nrstack/phy/seq"
)

var (
	ErrGrid     = errors.New("pdsch: resource grid mismatch")
	ErrCodeword = errors.New("pdsch: invalid codeword configuration")
)

// CInit returns the data scrambling initialisation for codeword q.
func CInit(rnti uint16, q, nID uint32) uint32 {
	return uint32((uint64(rnti)<<15 + uint64(q)<<14 + uint64(nID)) % (1 << 31))
}

// layerBase returns the first layer of codeword q.
func layerBase(g *model.SchGrant, q int) uint32 {
	if q == 0 {
		return 0
	}
	return g.TB[0].Layers
}

// check validates the codewords and grids of cfg and returns the data RE
// plan shared by every layer.
func check(cfg *model.SchCfg, grids [][]complex64) (*re.Plan, error) {
	g := &cfg.Grant
	if g.NofCodewords() == 0 || !g.TB[0].Enabled {
		return nil, fmt.Errorf("%w: no transport block enabled", ErrCodeword)
	}
	if n := g.TB[0].Layers + g.TB[1].Layers; n != g.NofLayers {
		return nil, fmt.Errorf("%w: codewords use %d layers, grant %d", ErrCodeword, n, g.NofLayers)
	}
	if uint32(len(grids)) < g.NofLayers {
		return nil, fmt.Errorf("%w: %d grids for %d layers", ErrGrid, len(grids), g.NofLayers)
	}
	for i := range g.NofLayers {
		if len(grids[i]) != cfg.Carrier.GridSize() {
			return nil, fmt.Errorf("%w: layer %d has %d REs, want %d", ErrGrid, i, len(grids[i]), cfg.Carrier.GridSize())
		}
	}
	plan, err := re.NewPlan(cfg)
	if err != nil {
		return nil, err
	}
	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		if err := plan.Verify(tb.NofRE); err != nil {
			return nil, fmt.Errorf("codeword %d: %w", q, err)
		}
	}
	return plan, nil
}

// Encoder maps transport blocks onto per-layer resource grids.
type Encoder struct {
	gen   *seq.Generator
	codec *sch.Codec
	log   logging.Logger
}

// NewEncoder returns an encoder drawing sequences from gen and coding with
// coder (the repetition reference coder when nil).
func NewEncoder(gen *seq.Generator, coder fec.Coder, log logging.Logger) *Encoder {
	return &Encoder{gen: gen, codec: sch.NewCodec(coder), log: logging.OrNoop(log)}
}

// Encode writes the enabled codewords of cfg, with payload q holding TBS/8
// bytes of codeword q, into grids (one per layer) together with the DMRS.
func (e *Encoder) Encode(ctx context.Context, cfg *model.SchCfg, slot uint32, payloads [model.MaxCodewords][]byte, grids [][]complex64) error {
	plan, err := check(cfg, grids)
	if err != nil {
		e.log.Warn(ctx, "pdsch encode rejected", logging.RNTI(cfg.Grant.RNTI), logging.Err(err))
		return err
	}
	g := &cfg.Grant
	layers := make([][]complex64, g.NofLayers)
	for i := range layers {
		layers[i] = make([]complex64, plan.Count())
	}
	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		p := sch.ParamsFromTB(tb)
		bits := make([]uint8, p.G)
		if err := e.codec.Encode(payloads[q], p, bits); err != nil {
			return fmt.Errorf("codeword %d: %w", q, err)
		}
		seq.Scramble(bits, e.gen.Bits(CInit(g.RNTI, uint32(q), cfg.ScramblingID), len(bits)))
		symbols := make([]complex64, p.G/p.Qm)
		if err := modem.Modulate(tb.Mod, bits, symbols); err != nil {
			return fmt.Errorf("codeword %d: %w", q, err)
		}
		base := layerBase(g, q)
		for i, s := range symbols {
			layers[base+uint32(i)%tb.Layers][uint32(i)/tb.Layers] = s
		}
	}
	for i, symbols := range layers {
		if err := plan.Put(grids[i], symbols); err != nil {
			return err
		}
		if err := dmrs.Put(e.gen, cfg, slot, grids[i]); err != nil {
			return err
		}
	}
	e.log.Debug(ctx, "pdsch encoded", logging.RNTI(g.RNTI), logging.Int("codewords", g.NofCodewords()),
		logging.Uint32("re", plan.Count()))
	return nil
}

// DecoderConfig tunes the decoder.
type DecoderConfig struct {
	// MinSNRdB is the estimated SNR below which decoding is skipped.
	MinSNRdB float32
}

// DefaultDecoderConfig returns the decoder settings used by the simulator.
func DefaultDecoderConfig() DecoderConfig { return DecoderConfig{MinSNRdB: -10} }

// Result is the outcome of decoding one PDSCH. Valid is false when the SNR
// gate skipped decoding; CW then carries no information.
type Result struct {
	Valid bool
	SNRdB float32
	CW    [model.MaxCodewords]sch.Result
}

// CRC reports whether every enabled codeword passed its CRC.
func (r Result) CRC(g *model.SchGrant) bool {
	for q, tb := range g.TB {
		if tb.Enabled && !r.CW[q].CRC {
			return false
		}
	}
	return r.Valid
}

// Decoder recovers transport blocks from per-layer resource grids.
type Decoder struct {
	cfg   DecoderConfig
	gen   *seq.Generator
	codec *sch.Codec
	log   logging.Logger
}

// NewDecoder returns a decoder matching NewEncoder's arguments.
func NewDecoder(cfg DecoderConfig, gen *seq.Generator, coder fec.Coder, log logging.Logger) *Decoder {
	return &Decoder{cfg: cfg, gen: gen, codec: sch.NewCodec(coder), log: logging.OrNoop(log)}
}

// Decode recovers every enabled codeword into payloads. A CRC failure on one
// codeword is reported in the result and does not stop the other.
func (d *Decoder) Decode(ctx context.Context, cfg *model.SchCfg, est dmrs.Estimate, grids [][]complex64, payloads [model.MaxCodewords][]byte) (Result, error) {
	res := Result{SNRdB: est.SNRdB}
	plan, err := check(cfg, grids)
	if err != nil {
		d.log.Warn(ctx, "pdsch decode rejected", logging.RNTI(cfg.Grant.RNTI), logging.Err(err))
		return res, err
	}
	if est.SNRdB < d.cfg.MinSNRdB {
		d.log.Debug(ctx, "pdsch below snr gate", logging.Any("snr_db", est.SNRdB))
		return res, nil
	}
	res.Valid = true

	g := &cfg.Grant
	layers := make([][]complex64, g.NofLayers)
	for i := range layers {
		layers[i] = make([]complex64, plan.Count())
		if err := plan.Get(grids[i], layers[i]); err != nil {
			return res, err
		}
	}
	noiseVar := re.Equalize(plan, est, layers)

	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		p := sch.ParamsFromTB(tb)
		base := layerBase(g, q)
		symbols := make([]complex64, p.G/p.Qm)
		for i := range symbols {
			symbols[i] = layers[base+uint32(i)%tb.Layers][uint32(i)/tb.Layers]
		}
		llr := make([]float32, p.G)
		if err := modem.Demodulate(tb.Mod, symbols, noiseVar, llr); err != nil {
			return res, fmt.Errorf("codeword %d: %w", q, err)
		}
		seq.DescrambleLLR(llr, d.gen.Bits(CInit(g.RNTI, uint32(q), cfg.ScramblingID), len(llr)))
		cw, err := d.codec.Decode(llr, p, payloads[q])
		if err != nil {
			return res, fmt.Errorf("codeword %d: %w", q, err)
		}
		res.CW[q] = cw
		if !cw.CRC {
			d.log.Debug(ctx, "pdsch crc failure", logging.RNTI(g.RNTI), logging.Int("cw", q),
				logging.Int("blocks_ok", cw.BlocksOK), logging.Int("blocks", cw.Seg.C))
		}
	}
	return res, nil
}
