package batch

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  string
		code  string
	}{
		{"W24", "Winter 2024", "W24"},
		{"s2023", "Summer 2023", "S23"},
		{"F25", "Fall 2025", "F25"},
		{"X25", "Spring 2025", "X25"},
		{"Winter 2024", "Winter 2024", "W24"},
		{"  summer 23 ", "Summer 2023", "S23"},
		{"Autumn 2022", "Fall 2022", "F22"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			b, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.String() != tt.want {
				t.Errorf("String() = %q, want %q", b.String(), tt.want)
			}
			if b.Code() != tt.code {
				t.Errorf("Code() = %q, want %q", b.Code(), tt.code)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrInvalidBatch},
		{"2024", ErrInvalidBatch},
		{"W2", ErrInvalidBatch},
		{"Q24", ErrUnknownSeason},
		{"Monsoon 2024", ErrUnknownSeason},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	for _, all := range []string{"", "all", " ALL "} {
		got, err := Normalize(all)
		if err != nil || got != "" {
			t.Errorf("Normalize(%q) = %q, %v; want empty filter", all, got, err)
		}
	}

	got, err := Normalize("w24")
	if err != nil || got != "Winter 2024" {
		t.Errorf("Normalize(w24) = %q, %v", got, err)
	}

	if _, err := Normalize("nope"); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("expected ErrInvalidBatch, got %v", err)
	}
}
