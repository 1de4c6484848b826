// Package minimum reads and updates the per-exchange minimum-order-size
// override file consumed by the exchange connectivity layer.
package minimum

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// path resolves <dataDir>/<exchangeName>.minimum.
func path(dataDir, exchangeName string) string {
	return filepath.Join(dataDir, exchangeName+".minimum")
}

// Load returns the override amount for a trading pair, zero when no
// override exists.
func Load(dataDir, exchangeName, pair string) (float64, error) {
	raw, err := os.ReadFile(path(dataDir, exchangeName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read minimum list for %s: %w", exchangeName, err)
	}

	table := make(map[string]float64)
	if err := json.Unmarshal(raw, &table); err != nil {
		return 0, fmt.Errorf("parse minimum list for %s: %w", exchangeName, err)
	}
	return table[pair], nil
}

// Update sets the override amount for a trading pair. The write is
// last-writer-wins with no lock, preserved for compatibility with the
// existing tooling that edits these files by hand.
func Update(dataDir, exchangeName, pair string, amount float64) error {
	fn := path(dataDir, exchangeName)

	table := make(map[string]float64)
	if raw, err := os.ReadFile(fn); err == nil {
		if err := json.Unmarshal(raw, &table); err != nil {
			return fmt.Errorf("parse minimum list for %s: %w", exchangeName, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read minimum list for %s: %w", exchangeName, err)
	}

	table[pair] = amount
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return os.WriteFile(fn, raw, 0o644)
}
