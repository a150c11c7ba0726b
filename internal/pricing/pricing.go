// Package pricing maps ratings onto prices and display tiers.
//
// The price function is linear and deterministic: price = rating / 100.
// Rounding to cents happens only in Format, never in stored values.
package pricing

import (
	"github.com/shopspring/decimal"
)

// InitialRating is the rating every startup starts with (price $15.00).
const InitialRating = 1500.0

// Price returns rating / 100. Shift is exact, so no division rounding is
// introduced on top of the rating's own float value.
func Price(rating float64) decimal.Decimal {
	return decimal.NewFromFloat(rating).Shift(-2)
}

// Format renders a price for display, e.g. "$15.00".
func Format(price decimal.Decimal) string {
	return "$" + price.StringFixed(2)
}

// Tier is a letter grade derived from a rating.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
	TierF Tier = "F"
)

// TierInfo describes a tier for presentation.
type TierInfo struct {
	Tier        Tier   `json:"tier"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type thresholds struct {
	s, a, b float64
}

// Top tiers require a higher rating while a startup has few comparisons,
// since a handful of lucky votes can inflate an early rating.
func thresholdsFor(comparisons int) thresholds {
	switch {
	case comparisons < 10:
		return thresholds{s: 1750, a: 1650, b: 1600}
	case comparisons < 25:
		return thresholds{s: 1720, a: 1620, b: 1570}
	default:
		return thresholds{s: 1700, a: 1600, b: 1550}
	}
}

// TierFor grades a rating given how many comparisons produced it.
func TierFor(rating float64, comparisons int) TierInfo {
	if rating == 0 {
		rating = InitialRating
	}
	t := thresholdsFor(comparisons)
	lowSample := comparisons < 10

	switch {
	case rating >= t.s:
		desc := "Elite"
		if lowSample {
			desc = "Elite (Low Sample)"
		}
		return TierInfo{Tier: TierS, Label: "S Tier", Description: desc}
	case rating >= t.a:
		desc := "Excellent"
		if lowSample {
			desc = "Excellent (Low Sample)"
		}
		return TierInfo{Tier: TierA, Label: "A Tier", Description: desc}
	case rating >= t.b:
		return TierInfo{Tier: TierB, Label: "B Tier", Description: "Good"}
	case rating >= 1450:
		return TierInfo{Tier: TierC, Label: "C Tier", Description: "Average"}
	case rating >= 1400:
		return TierInfo{Tier: TierD, Label: "D Tier", Description: "Below Average"}
	default:
		return TierInfo{Tier: TierF, Label: "F Tier", Description: "Needs Improvement"}
	}
}
