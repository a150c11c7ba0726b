package elo

import (
	"math"
	"testing"
)

const epsilon = 1e-9

// --- Expected score ---

func TestExpected_EqualRatingsIsHalf(t *testing.T) {
	if got := Expected(1500, 1500); got != 0.5 {
		t.Errorf("expected 0.5 for equal ratings, got %v", got)
	}
}

func TestExpected_SumsToOne(t *testing.T) {
	pairs := [][2]float64{{1500, 1500}, {1600, 1400}, {1200, 2000}, {1499.9, 1500.1}}
	for _, p := range pairs {
		sum := Expected(p[0], p[1]) + Expected(p[1], p[0])
		if math.Abs(sum-1) > epsilon {
			t.Errorf("E_A + E_B should be 1 for %v, got %v", p, sum)
		}
	}
}

func TestExpected_FourHundredGapIsTenToOne(t *testing.T) {
	got := Expected(1900, 1500)
	if math.Abs(got-10.0/11.0) > epsilon {
		t.Errorf("400 point favourite should win 10/11 of the time, got %v", got)
	}
}

// --- Single update ---

func TestUpdate_EqualRatingsMoveBySixteen(t *testing.T) {
	for _, aWon := range []bool{true, false} {
		newA, newB := Update(1500, 1500, aWon)
		deltaA, deltaB := newA-1500, newB-1500
		if math.Abs(deltaA) != 16 || math.Abs(deltaB) != 16 {
			t.Errorf("aWon=%v: expected |delta| = 16, got %v / %v", aWon, deltaA, deltaB)
		}
	}
}

func TestDelta_ZeroSum(t *testing.T) {
	ratings := []float64{800, 1200, 1499.5, 1500, 1733.25, 2400}
	for _, ra := range ratings {
		for _, rb := range ratings {
			for _, aWon := range []bool{true, false} {
				newA, newB := Update(ra, rb, aWon)
				if sum := (newA - ra) + (newB - rb); math.Abs(sum) > epsilon {
					t.Errorf("ratings %v vs %v not zero-sum: %v %v", ra, rb, newA-ra, newB-rb)
				}
			}
		}
	}
}

func TestUpdate_WinnerGainsLoserDrops(t *testing.T) {
	newA, newB := Update(1400, 1600, true)
	if newA <= 1400 || newB >= 1600 {
		t.Errorf("upset winner should gain and favourite should drop: %v %v", newA, newB)
	}
	// An upset moves more than an expected result.
	upset := Delta(1400, 1600, true)
	expected := Delta(1600, 1400, true)
	if upset <= expected {
		t.Errorf("upset delta %v should exceed expected-win delta %v", upset, expected)
	}
}

func TestDelta_BoundedByK(t *testing.T) {
	if d := Delta(0, 4000, true); d > K || d <= 0 {
		t.Errorf("delta must be in (0, K], got %v", d)
	}
}

// --- Replay ---

func TestReplay_InvalidPasses(t *testing.T) {
	_, _, err := Replay(nil, nil, 0)
	if err != ErrInvalidPasses {
		t.Errorf("expected ErrInvalidPasses, got %v", err)
	}
}

func TestReplay_EmptyLogKeepsSeed(t *testing.T) {
	seed := map[string]float64{"a": 1510, "b": 1490}
	got, stats, err := Replay(seed, nil, DefaultPasses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["a"] != 1510 || got["b"] != 1490 {
		t.Errorf("ratings should be unchanged, got %v", got)
	}
	if stats.Matches != 0 {
		t.Errorf("expected 0 matches, got %d", stats.Matches)
	}
}

func TestReplay_DoesNotMutateSeed(t *testing.T) {
	seed := map[string]float64{"a": 1500, "b": 1500}
	Replay(seed, []Match{{A: "a", B: "b", AWon: true}}, 1)
	if seed["a"] != 1500 {
		t.Errorf("seed mutated: %v", seed)
	}
}

func TestReplay_SinglePassMatchesUpdate(t *testing.T) {
	seed := map[string]float64{"a": 1520, "b": 1480}
	got, _, _ := Replay(seed, []Match{{A: "a", B: "b", AWon: false}}, 1)
	wantA, wantB := Update(1520, 1480, false)
	if got["a"] != wantA || got["b"] != wantB {
		t.Errorf("replay %v != update %v/%v", got, wantA, wantB)
	}
}

func TestReplay_PassesRepeatLog(t *testing.T) {
	seed := map[string]float64{"a": 1500, "b": 1500}
	log := []Match{{A: "a", B: "b", AWon: true}}
	got, stats, _ := Replay(seed, log, 3)

	a, b := 1500.0, 1500.0
	for i := 0; i < 3; i++ {
		a, b = Update(a, b, true)
	}
	if got["a"] != a || got["b"] != b {
		t.Errorf("expected %v/%v after 3 passes, got %v", a, b, got)
	}
	if stats.MaxShift <= 0 || stats.MaxShift >= 16 {
		t.Errorf("final pass shift should shrink below 16, got %v", stats.MaxShift)
	}
}

func TestReplay_ConservesTotalRating(t *testing.T) {
	seed := map[string]float64{"a": 1500, "b": 1550, "c": 1450, "d": 1600}
	log := []Match{
		{A: "a", B: "b", AWon: true},
		{A: "c", B: "d", AWon: false},
		{A: "a", B: "d", AWon: false},
		{A: "b", B: "c", AWon: true},
	}
	got, _, _ := Replay(seed, log, DefaultPasses)

	var before, after float64
	for id := range seed {
		before += seed[id]
		after += got[id]
	}
	if math.Abs(before-after) > 1e-6 {
		t.Errorf("total rating should be conserved: before=%v after=%v", before, after)
	}
}

func TestReplay_UnknownIDsEnterAtInitialRating(t *testing.T) {
	seed := map[string]float64{"a": 1500}
	got, stats, err := Replay(seed, []Match{{A: "a", B: "ghost", AWon: true}}, 1)
	if err != nil {
		t.Fatalf("unknown ids must not fail the replay: %v", err)
	}
	if got["a"] != 1516 || got["ghost"] != 1484 {
		t.Errorf("ghost should be treated as 1500, got %v", got)
	}
	if len(stats.Unknown) != 1 || stats.Unknown[0] != "ghost" {
		t.Errorf("expected ghost reported as unknown, got %v", stats.Unknown)
	}
}

// --- Ranking ---

func TestRank_DescendingWithIDTieBreak(t *testing.T) {
	ranked := Rank(map[string]float64{
		"charlie": 1500,
		"alpha":   1500,
		"bravo":   1600,
		"delta":   1400,
	})
	want := []string{"bravo", "alpha", "charlie", "delta"}
	for i, r := range ranked {
		if r.ID != want[i] || r.Rank != i+1 {
			t.Errorf("position %d: got %s rank %d, want %s rank %d", i, r.ID, r.Rank, want[i], i+1)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	if got := Rank(nil); len(got) != 0 {
		t.Errorf("expected empty ranking, got %v", got)
	}
}
