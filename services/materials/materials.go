// Package materials defines the scrap material types and the coin-per-kg
// multiplier table used to price pickups.
package materials

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ScrapType is a material category.
type ScrapType string

const (
	Iron    ScrapType = "iron"
	Plastic ScrapType = "plastic"
	Copper  ScrapType = "copper"
	Glass   ScrapType = "glass"
	EWaste  ScrapType = "ewaste"
	Other   ScrapType = "other"
)

// DefaultMultiplier applies to types missing from the table.
const DefaultMultiplier int64 = 10

// All lists the known material types.
func All() []ScrapType {
	return []ScrapType{Iron, Plastic, Copper, Glass, EWaste, Other}
}

// Valid reports whether t is a known material type.
func (t ScrapType) Valid() bool {
	switch t {
	case Iron, Plastic, Copper, Glass, EWaste, Other:
		return true
	}
	return false
}

// Parse validates a raw material type.
func Parse(raw string) (ScrapType, error) {
	t := ScrapType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown scrap type %q", raw)
	}
	return t, nil
}

// Table maps material types to coins per kg.
type Table struct {
	multipliers map[ScrapType]int64
}

// DefaultTable returns the standard multipliers.
func DefaultTable() *Table {
	return &Table{multipliers: map[ScrapType]int64{
		Iron:    30,
		Plastic: 20,
		Copper:  40,
		Glass:   20,
		EWaste:  50,
		Other:   10,
	}}
}

type tableFile struct {
	Multipliers map[string]int64 `yaml:"multipliers"`
}

// LoadTable reads multiplier overrides from a YAML file of the form
//
//	multipliers:
//	  iron: 35
//
// on top of the defaults.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read materials file: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse materials file: %w", err)
	}

	table := DefaultTable()
	for raw, m := range f.Multipliers {
		t, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if m < 0 {
			return nil, fmt.Errorf("multiplier for %s must not be negative", t)
		}
		table.multipliers[t] = m
	}
	return table, nil
}

// Multiplier returns coins per kg for t.
func (tb *Table) Multiplier(t ScrapType) int64 {
	if m, ok := tb.multipliers[t]; ok {
		return m
	}
	return DefaultMultiplier
}

// CoinsFor returns floor(weightKg * multiplier). The product is taken in
// decimal so weights like 0.1 kg do not lose a coin to binary rounding.
func (tb *Table) CoinsFor(t ScrapType, weightKg float64) int64 {
	coins := decimal.NewFromFloat(weightKg).Mul(decimal.NewFromInt(tb.Multiplier(t))).Floor()
	return coins.IntPart()
}

// Entry is one row of the table.
type Entry struct {
	ScrapType  ScrapType `json:"scrap_type" yaml:"scrap_type"`
	CoinsPerKg int64     `json:"coins_per_kg" yaml:"coins_per_kg"`
}

// Entries returns the table sorted by material type.
func (tb *Table) Entries() []Entry {
	out := make([]Entry, 0, len(tb.multipliers))
	for t, m := range tb.multipliers {
		out = append(out, Entry{ScrapType: t, CoinsPerKg: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapType < out[j].ScrapType })
	return out
}
