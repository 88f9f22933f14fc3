// Package config loads the YAML description of the simulated cells.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nrstack/model"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Coder kinds.
const (
	CoderRepetition = "repetition"
	CoderRaptorQ    = "raptorq"
)

// Config is the top-level simulator configuration.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
	RPC     RPCConfig     `yaml:"rpc"`
	Tracing TracingConfig `yaml:"tracing"`
	Run     RunConfig     `yaml:"run"`
	Cells   []CellConfig  `yaml:"cells"`
}

type LoggerConfig struct {
	Level      string            `yaml:"level"`
	Format     string            `yaml:"format"`               // text | json
	Components map[string]string `yaml:"components,omitempty"` // per component level: sched, phy, ra
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

type RPCConfig struct {
	Addr string `yaml:"addr"` // empty disables the RA gRPC service
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// RunConfig controls the slot loop.
type RunConfig struct {
	Slots    uint64 `yaml:"slots"` // 0 runs until interrupted
	RealTime bool   `yaml:"realTime"`
	Seed     uint64 `yaml:"seed"`
}

// CoderConfig selects the channel coder used by the PHY loopback.
type CoderConfig struct {
	Kind       string  `yaml:"kind"`
	SymbolSize int     `yaml:"symbolSize"` // raptorq only, bytes
	Threshold  float32 `yaml:"threshold"`  // raptorq only, LLR magnitude
}

// UCIConfig describes the UCI each UE multiplexes on PUSCH.
type UCIConfig struct {
	ACKBits  uint32  `yaml:"ackBits"` // HARQ-ACK payload, at least one bit per codeword is sent
	CSI1Bits uint32  `yaml:"csi1Bits"`
	CSI2Bits uint32  `yaml:"csi2Bits"`
	Scaling  float64 `yaml:"scaling"`
}

// TrafficConfig is the per-UE offered load.
type TrafficConfig struct {
	DLBytesPerSlot uint32 `yaml:"dlBytesPerSlot"`
	ULBytesPerSlot uint32 `yaml:"ulBytesPerSlot"`
}

// CellConfig describes one cell. Fields absent from the YAML keep their
// DefaultCell values.
type CellConfig struct {
	PCI           uint32        `yaml:"pci"`
	NofPRB        uint32        `yaml:"nofPrb"`
	Numerology    uint32        `yaml:"numerology"`
	MaxLayers     uint32        `yaml:"maxLayers"`
	MCSTable      string        `yaml:"mcsTable"` // qam64 | qam256 | qam64LowSE
	RAType        string        `yaml:"raType"`   // type0 | type1 | dynamic
	RBGConfig2    bool          `yaml:"rbgConfig2"`
	DMRSTypeAPos  uint32        `yaml:"dmrsTypeAPos"` // 2 | 3
	DMRSAddPos    *uint32       `yaml:"dmrsAddPos"`   // 0..3, 2 when absent
	XOverhead     uint32        `yaml:"xOverhead"`
	UEs           uint32        `yaml:"ues"`
	MaxUEsPerSlot uint32        `yaml:"maxUesPerSlot"`
	SNRdB         float64       `yaml:"snrDb"`
	Coder         CoderConfig   `yaml:"coder"`
	UCI           UCIConfig     `yaml:"uci"`
	Traffic       TrafficConfig `yaml:"traffic"`
}

// UnmarshalYAML decodes a cell on top of DefaultCell.
func (c *CellConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain CellConfig
	p := plain(DefaultCell(c.PCI))
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = CellConfig(p)
	return nil
}

// Default returns a single 20 MHz cell at 30 kHz with four UEs.
func Default() Config {
	return Config{
		Logger:  LoggerConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
		RPC:     RPCConfig{Addr: ":50051"},
		Tracing: TracingConfig{Exporter: "stdout", SampleRatio: 1},
		Run:     RunConfig{Slots: 2000, Seed: 1},
		Cells:   []CellConfig{DefaultCell(1)},
	}
}

// DefaultCell returns the cell used by Default with the given PCI.
func DefaultCell(pci uint32) CellConfig {
	return CellConfig{
		PCI:           pci,
		NofPRB:        51,
		Numerology:    1,
		MaxLayers:     1,
		MCSTable:      "qam64",
		RAType:        "type1",
		DMRSTypeAPos:  2,
		UEs:           4,
		MaxUEsPerSlot: 2,
		SNRdB:         20,
		Coder:         CoderConfig{Kind: CoderRepetition},
		UCI:           UCIConfig{ACKBits: 1},
		Traffic:       TrafficConfig{DLBytesPerSlot: 200, ULBytesPerSlot: 100},
	}
}

// Load reads path and returns the validated configuration. Fields absent
// from the file keep their Default values.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML document.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	cfg.Cells = nil
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(cfg.Cells) == 0 {
		cfg.Cells = Default().Cells
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks value ranges and cross-cell constraints.
func (c Config) Validate() error {
	if len(c.Cells) == 0 {
		return fmt.Errorf("%w: no cells", ErrInvalid)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: sample ratio %v", ErrInvalid, c.Tracing.SampleRatio)
	}
	seen := make(map[uint32]bool, len(c.Cells))
	for i, cell := range c.Cells {
		if err := cell.Validate(); err != nil {
			return fmt.Errorf("cell %d: %w", i, err)
		}
		if seen[cell.PCI] {
			return fmt.Errorf("%w: duplicate pci %d", ErrInvalid, cell.PCI)
		}
		seen[cell.PCI] = true
		if cell.Numerology != c.Cells[0].Numerology {
			return fmt.Errorf("%w: cell %d numerology %d differs from %d", ErrInvalid, cell.PCI, cell.Numerology, c.Cells[0].Numerology)
		}
	}
	return nil
}

// Numerology returns the numerology shared by the cells.
func (c Config) Numerology() uint32 {
	if len(c.Cells) == 0 {
		return 0
	}
	return c.Cells[0].Numerology
}

// Validate checks one cell.
func (c CellConfig) Validate() error {
	switch {
	case c.PCI > 1007:
		return fmt.Errorf("%w: pci %d", ErrInvalid, c.PCI)
	case c.NofPRB == 0 || c.NofPRB > 275:
		return fmt.Errorf("%w: %d PRBs", ErrInvalid, c.NofPRB)
	case c.Numerology > 4:
		return fmt.Errorf("%w: numerology %d", ErrInvalid, c.Numerology)
	case c.MaxLayers == 0 || c.MaxLayers > model.MaxLayers:
		return fmt.Errorf("%w: %d layers", ErrInvalid, c.MaxLayers)
	case c.DMRSTypeAPos != 2 && c.DMRSTypeAPos != 3:
		return fmt.Errorf("%w: dmrs type A position %d", ErrInvalid, c.DMRSTypeAPos)
	case c.DMRSAddPos != nil && *c.DMRSAddPos > 3:
		return fmt.Errorf("%w: dmrs additional position %d", ErrInvalid, *c.DMRSAddPos)
	case c.XOverhead%6 != 0 || c.XOverhead > 18:
		return fmt.Errorf("%w: xOverhead %d", ErrInvalid, c.XOverhead)
	case c.UEs == 0:
		return fmt.Errorf("%w: no UEs", ErrInvalid)
	case c.MaxUEsPerSlot == 0:
		return fmt.Errorf("%w: maxUesPerSlot must be positive", ErrInvalid)
	}
	if _, err := c.MCSTableConfig(); err != nil {
		return err
	}
	if _, err := c.RATypeConfig(); err != nil {
		return err
	}
	switch strings.ToLower(c.Coder.Kind) {
	case CoderRepetition:
	case CoderRaptorQ:
		if c.Coder.SymbolSize <= 0 {
			return fmt.Errorf("%w: raptorq symbol size %d", ErrInvalid, c.Coder.SymbolSize)
		}
	default:
		return fmt.Errorf("%w: coder %q", ErrInvalid, c.Coder.Kind)
	}
	switch c.UCI.Scaling {
	case 0, 0.5, 0.65, 0.8, 1:
	default:
		return fmt.Errorf("%w: uci scaling %v", ErrInvalid, c.UCI.Scaling)
	}
	return nil
}

// MCSTableConfig maps the mcsTable setting.
func (c CellConfig) MCSTableConfig() (model.MCSTableConfig, error) {
	switch strings.ToLower(c.MCSTable) {
	case "", "qam64":
		return model.MCSTableConfigQAM64, nil
	case "qam256":
		return model.MCSTableConfigQAM256, nil
	case "qam64lowse":
		return model.MCSTableConfigQAM64LowSE, nil
	}
	return 0, fmt.Errorf("%w: mcs table %q", ErrInvalid, c.MCSTable)
}

// RATypeConfig maps the raType setting.
func (c CellConfig) RATypeConfig() (model.RAType, error) {
	switch strings.ToLower(c.RAType) {
	case "", "type1":
		return model.RAType1, nil
	case "type0":
		return model.RAType0, nil
	case "dynamic":
		return model.RATypeDynamic, nil
	}
	return 0, fmt.Errorf("%w: resource allocation type %q", ErrInvalid, c.RAType)
}

// Carrier returns the carrier of the cell.
func (c CellConfig) Carrier() model.Carrier {
	return model.Carrier{PCI: c.PCI, NofPRB: c.NofPRB, Numerology: c.Numerology, MaxMIMOLayers: c.MaxLayers}
}

// HLConfig returns the higher-layer shared channel configuration of the
// cell. Validate must have succeeded.
func (c CellConfig) HLConfig() *model.SchHLConfig {
	table, _ := c.MCSTableConfig()
	raType, _ := c.RATypeConfig()
	pos := model.DMRSTypeAPos2
	if c.DMRSTypeAPos == 3 {
		pos = model.DMRSTypeAPos3
	}
	hl := &model.SchHLConfig{
		MCSTable:   table,
		RAType:     raType,
		RBGConfig2: c.RBGConfig2,
		TypeAPos:   pos,
		XOverhead:  c.XOverhead,
		Scaling:    c.UCI.Scaling,
	}
	if c.DMRSAddPos != nil {
		d := model.DefaultDMRS(pos)
		d.AddPos = [...]model.DMRSAddPos{model.DMRSAddPos0, model.DMRSAddPos1, model.DMRSAddPos2, model.DMRSAddPos3}[*c.DMRSAddPos]
		hl.DMRSTypeA = &d
	}
	return hl
}
