// Package config loads the machine, compaction and logging configuration.
//
// Precedence, highest wins: CLI overrides applied by the caller, the YAML file
// passed to Load, then Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/compact"
)

var (
	// ErrInvalid is returned for configuration that fails validation.
	ErrInvalid = errors.New("invalid config")

	// ErrNotFound is returned when the config file does not exist.
	ErrNotFound = errors.New("config file not found")
)

// Config holds all configuration options.
type Config struct {
	Machine    Machine        `yaml:"machine"`
	Compaction compact.Config `yaml:"compaction"`
	Log        Log            `yaml:"log"`
}

// Machine describes the simulated physical memory.
type Machine struct {
	PageSize    int    `yaml:"page_size"`    // bytes per frame; 0 keeps no contents
	MaxOrder    uint   `yaml:"max_order"`    // largest block is 2^max_order frames
	RegionOrder uint   `yaml:"region_order"` // region capacity is 2^region_order frames
	HotCache    int    `yaml:"hot_cache"`    // order-0 hot list watermark per bank
	Banks       []Bank `yaml:"banks"`
}

// Bank is one memory bank.
type Bank struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Class  string `yaml:"class"`
	Frames uint64 `yaml:"frames"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Machine: Machine{
			PageSize:    4096,
			MaxOrder:    10,
			RegionOrder: 4,
			HotCache:    32,
			Banks: []Bank{
				{Name: "vm-normal", Kind: "vm", Class: "normal", Frames: 4096},
				{Name: "file-normal", Kind: "file", Class: "normal", Frames: 4096},
			},
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys
// are rejected; a banks list replaces the default one.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	m := c.Machine
	if m.PageSize != 0 && (m.PageSize < 64 || m.PageSize&(m.PageSize-1) != 0) {
		return fmt.Errorf("%w: page_size %d must be 0 or a power of two >= 64", ErrInvalid, m.PageSize)
	}
	if m.MaxOrder > 20 {
		return fmt.Errorf("%w: max_order %d exceeds 20", ErrInvalid, m.MaxOrder)
	}
	if m.RegionOrder == 0 {
		return fmt.Errorf("%w: region_order must be at least 1", ErrInvalid)
	}
	if m.RegionOrder > m.MaxOrder {
		return fmt.Errorf("%w: region_order %d exceeds max_order %d", ErrInvalid, m.RegionOrder, m.MaxOrder)
	}
	if m.HotCache < 0 {
		return fmt.Errorf("%w: negative hot_cache %d", ErrInvalid, m.HotCache)
	}
	if len(m.Banks) == 0 {
		return fmt.Errorf("%w: no banks", ErrInvalid)
	}
	for i, b := range m.Banks {
		if b.Frames == 0 {
			return fmt.Errorf("%w: bank %d (%s) has no frames", ErrInvalid, i, b.Name)
		}
		if _, err := bank.ParseKind(b.Kind); err != nil {
			return fmt.Errorf("%w: bank %d: %w", ErrInvalid, i, err)
		}
		if _, err := bank.ParseClass(b.Class); err != nil {
			return fmt.Errorf("%w: bank %d: %w", ErrInvalid, i, err)
		}
	}
	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("%w: compaction: %w", ErrInvalid, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// TotalFrames returns the number of frames across all banks.
func (m Machine) TotalFrames() uint64 {
	var n uint64
	for _, b := range m.Banks {
		n += b.Frames
	}
	return n
}
