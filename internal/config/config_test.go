package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/nrstack/model"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseFillsCellDefaults(t *testing.T) {
	raw := []byte(`
logger:
  level: debug
run:
  slots: 10
cells:
  - pci: 7
    nofPrb: 106
    coder:
      kind: raptorq
      symbolSize: 8
  - pci: 8
    mcsTable: qam256
    dmrsAddPos: 1
`)
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.Format != "text" {
		t.Fatalf("logger got %+v", cfg.Logger)
	}
	if cfg.Run.Slots != 10 || cfg.Run.Seed != 1 {
		t.Fatalf("run got %+v", cfg.Run)
	}
	if len(cfg.Cells) != 2 {
		t.Fatalf("cells got %d, want 2", len(cfg.Cells))
	}

	want := DefaultCell(7)
	want.NofPRB = 106
	want.Coder = CoderConfig{Kind: CoderRaptorQ, SymbolSize: 8}
	if diff := cmp.Diff(want, cfg.Cells[0]); diff != "" {
		t.Fatalf("cell 0 mismatch (-want +got):\n%s", diff)
	}
	if cfg.Cells[1].NofPRB != 51 || cfg.Cells[1].UEs != 4 {
		t.Fatalf("cell 1 defaults not applied: %+v", cfg.Cells[1])
	}
	hl := cfg.Cells[1].HLConfig()
	if hl.MCSTable != model.MCSTableConfigQAM256 || hl.DMRSTypeA == nil || hl.DMRSTypeA.AddPos != model.DMRSAddPos1 {
		t.Fatalf("HLConfig got %+v", hl)
	}
}

func TestParseWithoutCellsUsesDefault(t *testing.T) {
	cfg, err := Parse([]byte("metrics:\n  addr: \"\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Metrics.Addr != "" || len(cfg.Cells) != 1 || cfg.Cells[0].PCI != 1 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no cells":      func(c *Config) { c.Cells = nil },
		"pci":           func(c *Config) { c.Cells[0].PCI = 1008 },
		"prbs":          func(c *Config) { c.Cells[0].NofPRB = 276 },
		"numerology":    func(c *Config) { c.Cells[0].Numerology = 5 },
		"layers":        func(c *Config) { c.Cells[0].MaxLayers = 9 },
		"typeA pos":     func(c *Config) { c.Cells[0].DMRSTypeAPos = 1 },
		"xoverhead":     func(c *Config) { c.Cells[0].XOverhead = 7 },
		"mcs table":     func(c *Config) { c.Cells[0].MCSTable = "qam1024" },
		"ra type":       func(c *Config) { c.Cells[0].RAType = "type2" },
		"coder":         func(c *Config) { c.Cells[0].Coder.Kind = "ldpc" },
		"raptorq size":  func(c *Config) { c.Cells[0].Coder = CoderConfig{Kind: CoderRaptorQ} },
		"scaling":       func(c *Config) { c.Cells[0].UCI.Scaling = 0.7 },
		"ues":           func(c *Config) { c.Cells[0].UEs = 0 },
		"sample ratio":  func(c *Config) { c.Tracing.SampleRatio = 2 },
		"duplicate pci": func(c *Config) { c.Cells = append(c.Cells, DefaultCell(1)) },
		"mixed numerology": func(c *Config) {
			cell := DefaultCell(2)
			cell.Numerology = 0
			c.Cells = append(c.Cells, cell)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Cells = append(cfg.Cells, DefaultCell(2))
	raw, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nrsim.yaml")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("cells: [")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Parse malformed = %v, want ErrInvalid", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "nrsim.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Cells) != 2 {
		t.Fatalf("cells got %d, want 2", len(cfg.Cells))
	}
	second := cfg.Cells[1]
	if second.Coder.Kind != CoderRaptorQ || second.MaxUEsPerSlot != 2 {
		t.Fatalf("second cell got coder %q maxUesPerSlot %d", second.Coder.Kind, second.MaxUEsPerSlot)
	}
	if hl := second.HLConfig(); hl.DMRSTypeA == nil || hl.DMRSTypeA.AddPos != model.DMRSAddPos1 {
		t.Fatalf("dmrsAddPos not applied: %+v", hl.DMRSTypeA)
	}
}
