package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPrice_InitialRating(t *testing.T) {
	if got := Price(InitialRating); !got.Equal(d(15)) {
		t.Errorf("expected price 15 at initial rating, got %s", got)
	}
}

func TestPrice_Linear(t *testing.T) {
	tests := []struct {
		rating float64
		want   float64
	}{
		{0, 0},
		{100, 1},
		{1516, 15.16},
		{1483.5, 14.835},
		{2000, 20},
	}
	for _, tt := range tests {
		if got := Price(tt.rating); !got.Equal(d(tt.want)) {
			t.Errorf("Price(%v) = %s, want %v", tt.rating, got, tt.want)
		}
	}
}

func TestPrice_NotRoundedToCents(t *testing.T) {
	got := Price(1516.123456)
	if !got.Equal(d(15.16123456)) {
		t.Errorf("stored price must keep full precision, got %s", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(Price(1516.126)); got != "$15.16" {
		t.Errorf("expected $15.16, got %s", got)
	}
	if got := Format(Price(1500)); got != "$15.00" {
		t.Errorf("expected $15.00, got %s", got)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		name        string
		rating      float64
		comparisons int
		want        Tier
	}{
		{"established elite", 1700, 30, TierS},
		{"low sample not yet elite", 1700, 3, TierA},
		{"low sample elite", 1750, 3, TierS},
		{"mid sample threshold", 1720, 12, TierS},
		{"excellent", 1620, 40, TierA},
		{"good", 1555, 40, TierB},
		{"low sample good becomes average", 1555, 2, TierC},
		{"average", 1500, 0, TierC},
		{"zero rating treated as initial", 0, 0, TierC},
		{"below average", 1420, 40, TierD},
		{"bottom", 1300, 40, TierF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TierFor(tt.rating, tt.comparisons); got.Tier != tt.want {
				t.Errorf("TierFor(%v, %d) = %s, want %s", tt.rating, tt.comparisons, got.Tier, tt.want)
			}
		})
	}
}
