package compact

import (
	"fmt"
	"sync"

	"github.com/joshuapare/regionkit/mm/bank"
)

// Class mask bits.
const (
	MaskNormal uint = 1 << bank.ClassNormal
	MaskHigh   uint = 1 << bank.ClassHigh
	MaskAll         = MaskNormal | MaskHigh
)

// Config selects which banks a compaction run covers.
type Config struct {
	VM   uint `yaml:"vm" json:"vm"`     // class mask for address-space banks
	File uint `yaml:"file" json:"file"` // class mask for file-cache banks
}

// Validate rejects masks with unknown bits.
func (c Config) Validate() error {
	if c.VM&^MaskAll != 0 {
		return fmt.Errorf("%w: vm mask %d", ErrInvalidMask, c.VM)
	}
	if c.File&^MaskAll != 0 {
		return fmt.Errorf("%w: file mask %d", ErrInvalidMask, c.File)
	}
	return nil
}

// IsZero reports whether the config selects no banks.
func (c Config) IsZero() bool { return c.VM == 0 && c.File == 0 }

func (c Config) mask(k bank.Kind) uint {
	if k == bank.KindFile {
		return c.File
	}
	return c.VM
}

// Control holds the two administrative switches. Writing a nonzero mask runs a
// compaction over the selected banks before returning.
type Control struct {
	mu      sync.Mutex
	scanner *Scanner
	vm      uint
	file    uint
}

// NewControl returns switches that drive s.
func NewControl(s *Scanner) *Control {
	return &Control{scanner: s}
}

// WriteVM sets the address-space switch and compacts the selected banks.
func (c *Control) WriteVM(mask uint) ([]Result, error) {
	return c.write(bank.KindVM, mask)
}

// WriteFile sets the file-cache switch and compacts the selected banks.
func (c *Control) WriteFile(mask uint) ([]Result, error) {
	return c.write(bank.KindFile, mask)
}

// VM returns the last value written to the address-space switch.
func (c *Control) VM() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vm
}

// File returns the last value written to the file-cache switch.
func (c *Control) File() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

func (c *Control) write(kind bank.Kind, mask uint) ([]Result, error) {
	var cfg Config
	if kind == bank.KindFile {
		cfg.File = mask
	} else {
		cfg.VM = mask
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == bank.KindFile {
		c.file = mask
	} else {
		c.vm = mask
	}
	if mask == 0 {
		return nil, nil
	}
	return c.scanner.Run(cfg)
}
