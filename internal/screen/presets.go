package screen

import (
	"fmt"
	"sort"
	"strings"
)

// UnknownPresetError is returned when a preset name does not resolve.
// Known lists the valid names.
type UnknownPresetError struct {
	Name  string
	Known []string
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown preset %q (valid: %s)", e.Name, strings.Join(e.Known, ", "))
}

// presets maps canonical preset names to their criteria. Thresholds
// follow common value-investing conventions; percentages are expressed
// the way snapshots carry them (ROE 15 means 15%).
var presets = map[string]Criteria{
	"deep_value": {
		PEMax:           fptr(12),
		PBMax:           fptr(1.2),
		PEPBProductMax:  fptr(22.5),
		DebtToEquityMax: fptr(100),
		CurrentRatioMin: fptr(1.5),
	},
	"quality": {
		ROEMin:             fptr(15),
		ProfitMarginMin:    fptr(10),
		OperatingMarginMin: fptr(15),
		DebtToEquityMax:    fptr(120),
		RevenueGrowthMin:   fptr(0),
	},
	"garp": {
		PEGMax:            fptr(1.5),
		PEMax:             fptr(25),
		EarningsGrowthMin: fptr(10),
		ROEMin:            fptr(12),
	},
	"dividend_income": {
		DividendYieldMin: fptr(3),
		PayoutRatioMax:   fptr(80),
		DebtToEquityMax:  fptr(150),
		ProfitMarginMin:  fptr(5),
	},
	"short_candidate": {
		ROEMax:          fptr(0),
		ProfitMarginMax: fptr(0),
		RSIMin:          fptr(70),
	},
	"oversold_value": {
		PEMax:           fptr(15),
		PBMax:           fptr(2),
		RSIMax:          fptr(30),
		DownFromHighPct: fptr(-30),
		Below200MA:      bptr(true),
	},
}

// Preset resolves a named criteria preset. Lookup is case-insensitive
// and treats "-" and "_" as interchangeable.
func Preset(name string) (Criteria, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	criteria, ok := presets[key]
	if !ok {
		return Criteria{}, &UnknownPresetError{Name: name, Known: PresetNames()}
	}
	return criteria, nil
}

// PresetNames returns the valid preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns the full preset table, keyed by canonical name.
func Presets() map[string]Criteria {
	table := make(map[string]Criteria, len(presets))
	for name, criteria := range presets {
		table[name] = criteria
	}
	return table
}

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }
