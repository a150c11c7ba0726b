// Package batch parses and normalizes accelerator batch labels so startups
// can be filtered by cohort.
package batch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Supported seasons.
const (
	Winter = "Winter"
	Spring = "Spring"
	Summer = "Summer"
	Fall   = "Fall"
)

var seasonCodes = map[string]string{
	"W": Winter,
	"X": Spring,
	"S": Summer,
	"F": Fall,
}

var seasonNames = map[string]string{
	"winter": Winter,
	"spring": Spring,
	"summer": Summer,
	"fall":   Fall,
	"autumn": Fall,
}

// shortRegex matches compact labels: W24, S2023, F25.
var shortRegex = regexp.MustCompile(`^([A-Za-z])(\d{2}|\d{4})$`)

// longRegex matches spelled-out labels: "Winter 2024", "summer 23".
var longRegex = regexp.MustCompile(`^([A-Za-z]+)\s+(\d{2}|\d{4})$`)

var (
	ErrInvalidBatch  = errors.New("batch: invalid batch label")
	ErrUnknownSeason = errors.New("batch: unknown season")
)

// Batch is a canonical cohort: a season and a four-digit year.
type Batch struct {
	Season string `json:"season"`
	Year   int    `json:"year"`
}

// String renders the canonical label, e.g. "Winter 2024".
func (b Batch) String() string {
	return fmt.Sprintf("%s %d", b.Season, b.Year)
}

// Code renders the compact label, e.g. "W24".
func (b Batch) Code() string {
	for code, season := range seasonCodes {
		if season == b.Season {
			return fmt.Sprintf("%s%02d", code, b.Year%100)
		}
	}
	return ""
}

// IsAll reports whether label means "no batch filter".
func IsAll(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	return l == "" || l == "all"
}

// Parse accepts compact ("W24", "S2023") or spelled-out ("Winter 2024")
// labels and returns the canonical batch.
func Parse(label string) (Batch, error) {
	label = strings.TrimSpace(label)

	if m := shortRegex.FindStringSubmatch(label); m != nil {
		season, ok := seasonCodes[strings.ToUpper(m[1])]
		if !ok {
			return Batch{}, fmt.Errorf("%w: %s", ErrUnknownSeason, m[1])
		}
		return Batch{Season: season, Year: fullYear(m[2])}, nil
	}

	if m := longRegex.FindStringSubmatch(label); m != nil {
		season, ok := seasonNames[strings.ToLower(m[1])]
		if !ok {
			return Batch{}, fmt.Errorf("%w: %s", ErrUnknownSeason, m[1])
		}
		return Batch{Season: season, Year: fullYear(m[2])}, nil
	}

	return Batch{}, fmt.Errorf("%w: %q (expected e.g. W24 or \"Winter 2024\")", ErrInvalidBatch, label)
}

// Normalize returns the canonical label, or "" when label means all batches.
func Normalize(label string) (string, error) {
	if IsAll(label) {
		return "", nil
	}
	b, err := Parse(label)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func fullYear(digits string) int {
	y, _ := strconv.Atoi(digits) // regex guarantees digits
	if len(digits) == 2 {
		y += 2000
	}
	return y
}
