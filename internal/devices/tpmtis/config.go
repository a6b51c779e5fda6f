package tpmtis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tpm-tis/tpmtis/internal/backend/memtpm"
	"github.com/tpm-tis/tpmtis/internal/backend/mssim"
	"github.com/tpm-tis/tpmtis/internal/chipset"
)

// Config is the YAML description of one tpmtis device instance.
type Config struct {
	// Base is the MMIO base address of the device's five-locality window.
	Base uint64 `yaml:"base"`
	// IRQ is the interrupt vector reported through INT_VECTOR.
	IRQ uint32 `yaml:"irq"`
	// Backend selects and configures the out-of-process TPM implementation.
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig selects one of the supported Backend implementations.
type BackendConfig struct {
	// Kind is "memtpm" or "mssim".
	Kind string `yaml:"kind"`

	// Memtpm configures the in-process deterministic backend.
	Memtpm *memtpm.Config `yaml:"memtpm,omitempty"`
	// Mssim configures the TCP two-socket simulator transport.
	Mssim *mssim.Config `yaml:"mssim,omitempty"`
}

// LoadConfig reads and parses a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tpmtis: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tpmtis: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// buildBackend resolves a BackendConfig into a concrete Backend.
func buildBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", "memtpm":
		mc := cfg.Memtpm
		if mc == nil {
			mc = &memtpm.Config{}
		}
		return memtpm.New(*mc)
	case "mssim":
		if cfg.Mssim == nil {
			return nil, fmt.Errorf("tpmtis: backend kind %q requires an mssim config block", cfg.Kind)
		}
		return mssim.Dial(*cfg.Mssim)
	default:
		return nil, fmt.Errorf("tpmtis: unknown backend kind %q", cfg.Kind)
	}
}

// NewFromConfig builds a Device from a Config, resolving its backend and
// wiring it to irqLine. Callers that need a custom Backend (tests, or a
// backend not covered by BackendConfig) should call New directly.
func NewFromConfig(cfg Config, irqLine chipset.LineInterrupt) (*Device, error) {
	backend, err := buildBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return New(cfg.Base, backend, cfg.IRQ, irqLine)
}
