// ════════════════════════════════════════════════════════════════════════════════════════════════
// Boot Configuration
// Component: config.Boot loading and validation
//
// Description:
//   The machine reads one JSON document at boot. Missing fields take their defaults from the
//   constants package; everything is validated before any core starts.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package config

import (
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"

	"smpcore/constants"
	"smpcore/status"
)

// Boot is the boot-time machine description.
type Boot struct {
	// Cores is the number of simulated cores, 1..constants.MaxCores.
	Cores int `json:"cores"`

	// TickMicros is the wall-time period of one scheduler tick.
	TickMicros int `json:"tick_micros"`

	// Pin binds each core runner to a host CPU.
	Pin bool `json:"pin"`

	ObjectCapacity int    `json:"object_capacity"`
	EntryCapacity  int    `json:"entry_capacity"`
	Seed           uint64 `json:"seed"`

	// JournalPath is the sqlite file for the event journal. Empty disables
	// the journal; ":memory:" keeps it in process.
	JournalPath string `json:"journal_path"`

	// RunTicks bounds the demo workload. 0 runs until every process stopped.
	RunTicks uint64 `json:"run_ticks"`

	Quiet bool `json:"quiet"`
}

// Default returns the configuration used when no file is given.
func Default() Boot {
	b := Boot{Cores: 4}
	b.applyDefaults()
	return b
}

// Load reads and parses path.
func Load(path string) (Boot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Boot{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a JSON document, fills defaults and validates the result.
func Parse(data []byte) (Boot, error) {
	var b Boot
	if err := sonnet.Unmarshal(data, &b); err != nil {
		return Boot{}, fmt.Errorf("config: decode: %w", err)
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return Boot{}, err
	}
	return b, nil
}

func (b *Boot) applyDefaults() {
	if b.Cores == 0 {
		b.Cores = 4
	}
	if b.TickMicros == 0 {
		b.TickMicros = constants.DefaultTickMicros
	}
	if b.ObjectCapacity == 0 {
		b.ObjectCapacity = constants.DefaultObjectCapacity
	}
	if b.EntryCapacity == 0 {
		b.EntryCapacity = constants.DefaultEntryCapacity
	}
	if b.Seed == 0 {
		b.Seed = 1
	}
}

// Validate reports the first out-of-range field, wrapped around
// status.ErrBadArgument.
func (b *Boot) Validate() error {
	switch {
	case b.Cores < 1 || b.Cores > constants.MaxCores:
		return fmt.Errorf("config: cores %d outside 1..%d: %w", b.Cores, constants.MaxCores, status.ErrBadArgument)
	case b.TickMicros < 1:
		return fmt.Errorf("config: tick_micros %d: %w", b.TickMicros, status.ErrBadArgument)
	case b.ObjectCapacity < 1:
		return fmt.Errorf("config: object_capacity %d: %w", b.ObjectCapacity, status.ErrBadArgument)
	case b.EntryCapacity < 1:
		return fmt.Errorf("config: entry_capacity %d: %w", b.EntryCapacity, status.ErrBadArgument)
	}
	return nil
}
