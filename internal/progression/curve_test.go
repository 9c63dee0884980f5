package progression

import (
	"testing"
	"time"
)

func TestLevelFromXP_DefaultCurve(t *testing.T) {
	c := DefaultCurve()

	cases := []struct {
		xp    int64
		level int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{299, 2},
		{300, 3},
		{4500, 10},
		{122499, 49},
		{122500, 50},
		{10_000_000, 50},
	}
	for _, tc := range cases {
		if got := c.LevelFromXP(tc.xp); got != tc.level {
			t.Fatalf("LevelFromXP(%d) = %d, want %d", tc.xp, got, tc.level)
		}
	}
}

func TestLevelFromXP_IsMonotonic(t *testing.T) {
	c := DefaultCurve()
	prev := c.LevelFromXP(0)
	for xp := int64(0); xp <= 130000; xp += 37 {
		level := c.LevelFromXP(xp)
		if level < prev {
			t.Fatalf("level decreased at xp=%d: %d -> %d", xp, prev, level)
		}
		if c.XPForLevel(level) > xp {
			t.Fatalf("xp %d below threshold of its level %d", xp, level)
		}
		prev = level
	}
}

func TestNewCurve_RejectsNonIncreasingThresholds(t *testing.T) {
	if _, err := NewCurve([]int64{0, 100, 100}, DefaultTitles); err == nil {
		t.Fatal("expected error for repeated threshold")
	}
	if _, err := NewCurve([]int64{10, 100}, DefaultTitles); err == nil {
		t.Fatal("expected error for curve not starting at zero")
	}
}

func TestTitleForLevel(t *testing.T) {
	c := DefaultCurve()
	cases := map[int]string{1: "Newcomer", 4: "Newcomer", 5: "Explorer", 14: "Mapper", 15: "Scout", 49: "Master", 50: "Legend"}
	for level, want := range cases {
		if got := c.TitleForLevel(level); got != want {
			t.Fatalf("TitleForLevel(%d) = %q, want %q", level, got, want)
		}
	}
}

func TestStreakTransition(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	day := func(d int) *time.Time {
		v := time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	if next, changed := StreakTransition(0, nil, now, time.UTC); next != 1 || !changed {
		t.Fatalf("first activity: got %d changed=%t", next, changed)
	}
	if next, changed := StreakTransition(4, day(10), now, time.UTC); next != 4 || changed {
		t.Fatalf("same day: got %d changed=%t", next, changed)
	}
	if next, changed := StreakTransition(4, day(9), now, time.UTC); next != 5 || !changed {
		t.Fatalf("consecutive day: got %d changed=%t", next, changed)
	}
	if next, changed := StreakTransition(4, day(7), now, time.UTC); next != 1 || !changed {
		t.Fatalf("three days gap: got %d changed=%t", next, changed)
	}
}

func TestStreakTransition_UsesConfiguredTimezone(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	// 2026-03-10 17:00 UTC is already 2026-03-11 01:00 in Manila.
	now := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	last := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	if next, _ := StreakTransition(2, &last, now, time.UTC); next != 2 {
		t.Fatalf("utc: expected same-day streak 2, got %d", next)
	}
	if next, _ := StreakTransition(2, &last, now, manila); next != 3 {
		t.Fatalf("manila: expected increment to 3, got %d", next)
	}
}

func TestStreakBonusXP(t *testing.T) {
	if got := StreakBonusXP(1, 5, 100); got != 0 {
		t.Fatalf("first day bonus = %d", got)
	}
	if got := StreakBonusXP(3, 5, 100); got != 15 {
		t.Fatalf("3 day bonus = %d", got)
	}
	if got := StreakBonusXP(40, 5, 100); got != 100 {
		t.Fatalf("capped bonus = %d", got)
	}
	if got := StreakBonusXP(40, 5, 0); got != 200 {
		t.Fatalf("uncapped bonus = %d", got)
	}
}
