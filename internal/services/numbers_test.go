package services

import (
	"fmt"
	"testing"

	"github.com/codyseavey/poke-collection/internal/models"
)

func TestNormalizePrintNumber(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantNumeric bool
		wantKey     string
	}{
		{"fraction", "007/165", true, "7"},
		{"fraction with spaces", " 12 / 198 ", true, "12"},
		{"prefixed denominator falls back to digit strip", "SV001/SV122", true, "1122"},
		{"alpha prefixed fraction", "TG01/30", true, "1"},
		{"bare number", "42", true, "42"},
		{"bare zero", "0", true, "0"},
		{"galarian gallery", "GG05", true, "5"},
		{"trainer gallery", "tg12", true, "12"},
		{"shiny vault", "SV107", true, "107"},
		{"promo with dash", "SWSH-050", true, "50"},
		{"digits inside text", "RC3a", true, "3"},
		{"no digits", "XY", false, "XY"},
		{"empty", "   ", false, ""},
		{"overflow fraction", "99999999999999999999999/2", false, "99999999999999999999999/2"},
		{"overflow run", "99999999999999999999999", false, "99999999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePrintNumber(tt.input)
			if got.Numeric != tt.wantNumeric {
				t.Errorf("NormalizePrintNumber(%q).Numeric = %v, want %v", tt.input, got.Numeric, tt.wantNumeric)
			}
			if got.String() != tt.wantKey {
				t.Errorf("NormalizePrintNumber(%q) = %q, want %q", tt.input, got.String(), tt.wantKey)
			}
		})
	}
}

func TestNormalizePrintNumber_FractionReturnsNumerator(t *testing.T) {
	for num := 0; num < 300; num += 7 {
		for _, den := range []int{1, 30, 165, 198} {
			raw := fmt.Sprintf("%d/%d", num, den)
			got := NormalizePrintNumber(raw)
			if !got.Numeric || got.Number != num {
				t.Fatalf("NormalizePrintNumber(%q) = %+v, want %d", raw, got, num)
			}
		}
	}
}

func TestNormalizePrintNumber_PrefixStripsLeadingZeros(t *testing.T) {
	for _, prefix := range []string{"GG", "TG", "SV", "h", "RC"} {
		for n := 0; n < 120; n += 9 {
			raw := fmt.Sprintf("%s%03d", prefix, n)
			got := NormalizePrintNumber(raw)
			if !got.Numeric || got.Number != n {
				t.Fatalf("NormalizePrintNumber(%q) = %+v, want %d", raw, got, n)
			}
		}
	}
}

func TestLookupEntry(t *testing.T) {
	catalog := models.PriceCatalog{
		"7":        {Trend: models.Float(1.25)},
		"SWSH-PRO": {Trend: models.Float(9)},
		"12":       {Trend: models.Float(3)},
		"TG12":     {Trend: models.Float(40)},
	}

	tests := []struct {
		name      string
		input     string
		wantFound bool
		wantTrend float64
	}{
		{"fraction hits numeric key", "007/165", true, 1.25},
		{"literal fallback", "swsh-pro", true, 9},
		{"numeric key takes precedence over literal", "TG12", true, 3},
		{"missing", "99", false, 0},
		{"empty", "", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, found := LookupEntry(catalog, tt.input)
			if found != tt.wantFound {
				t.Fatalf("LookupEntry(%q) found = %v, want %v", tt.input, found, tt.wantFound)
			}
			if found && *entry.Trend != tt.wantTrend {
				t.Errorf("LookupEntry(%q) trend = %v, want %v", tt.input, *entry.Trend, tt.wantTrend)
			}
		})
	}

	if _, found := LookupEntry(nil, "1"); found {
		t.Error("nil catalog should never match")
	}
}

func TestIsPlainNumber(t *testing.T) {
	tests := map[string]bool{
		"1":       true,
		"001":     true,
		"1/165":   true,
		"12 / 99": true,
		"RC1":     false,
		"GG05":    false,
		"TG12/30": false,
		"":        false,
	}
	for raw, want := range tests {
		if got := isPlainNumber(raw); got != want {
			t.Errorf("isPlainNumber(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestParseNumDen(t *testing.T) {
	num, den, ok := ParseNumDen(" 186 / 198 ")
	if !ok || num != 186 || den != 198 {
		t.Errorf("ParseNumDen() = %d, %d, %v; want 186, 198, true", num, den, ok)
	}
	if _, _, ok := ParseNumDen("GG05"); ok {
		t.Error("ParseNumDen(GG05) should not match")
	}
}

func TestParseSubsetNumber(t *testing.T) {
	prefix, n, ok := ParseSubsetNumber("gg05")
	if !ok || prefix != "GG" || n != 5 {
		t.Errorf("ParseSubsetNumber(gg05) = %q, %d, %v; want GG, 5, true", prefix, n, ok)
	}
	if _, _, ok := ParseSubsetNumber("12/30"); ok {
		t.Error("ParseSubsetNumber(12/30) should not match")
	}
}
