package materials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCoinsFor(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		name   string
		t      ScrapType
		weight float64
		want   int64
	}{
		{"iron 10kg", Iron, 10, 300},
		{"copper fractional", Copper, 2.75, 110},
		{"plastic floors", Plastic, 1.99, 39},
		{"ewaste tenth", EWaste, 0.1, 5},
		{"glass tiny", Glass, 0.01, 0},
		{"other", Other, 3, 30},
		{"unknown default", ScrapType("wood"), 2, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.CoinsFor(tt.t, tt.weight); got != tt.want {
				t.Fatalf("CoinsFor(%s, %v) = %d, want %d", tt.t, tt.weight, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	for _, st := range All() {
		if _, err := Parse(string(st)); err != nil {
			t.Fatalf("Parse(%s): %v", st, err)
		}
	}
	if _, err := Parse("e-waste"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.yaml")
	if err := os.WriteFile(path, []byte("multipliers:\n  iron: 35\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Multiplier(Iron) != 35 {
		t.Fatalf("iron = %d, want 35", table.Multiplier(Iron))
	}
	if table.Multiplier(Copper) != 40 {
		t.Fatalf("copper = %d, want default 40", table.Multiplier(Copper))
	}
	if len(table.Entries()) != 6 {
		t.Fatalf("entries = %d", len(table.Entries()))
	}
}

func TestLoadTableRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.yaml")
	if err := os.WriteFile(path, []byte("multipliers:\n  wood: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Fatal("expected error")
	}
}
