package marketplace

import (
	"errors"
	"testing"
)

func TestDefaultLevelTableMonotonic(t *testing.T) {
	table := DefaultLevelTable(6)
	tiers := table.Tiers()
	if len(tiers) != MaxLevel {
		t.Fatalf("Expected %d tiers but got %d", MaxLevel, len(tiers))
	}
	for l1 := 0; l1 < MaxLevel; l1++ {
		for l2 := l1 + 1; l2 < MaxLevel; l2++ {
			if tiers[l1].RequiredCollateral >= tiers[l2].RequiredCollateral {
				t.Errorf("collateral for level %d not below level %d", l1+1, l2+1)
			}
			if tiers[l1].MinimumScore >= tiers[l2].MinimumScore {
				t.Errorf("score for level %d not below level %d", l1+1, l2+1)
			}
		}
	}
	if tiers[0].RequiredCollateral != 2_000_000 || tiers[4].RequiredCollateral != 6_000_000 {
		t.Errorf("unexpected collateral column %+v", tiers)
	}
}

func TestNewLevelTableRejectsBadTables(t *testing.T) {
	tests := []struct {
		name        string
		collaterals []uint64
		scores      []uint64
	}{
		{"short", []uint64{1, 2, 3}, []uint64{1, 2, 3}},
		{"flat collateral", []uint64{1, 2, 2, 4, 5}, []uint64{0, 1, 2, 3, 4}},
		{"decreasing score", []uint64{1, 2, 3, 4, 5}, []uint64{0, 10, 5, 20, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLevelTable(tt.collaterals, tt.scores)
			if !errors.Is(err, ErrInvalidLevelTable) {
				t.Errorf("Expected ErrInvalidLevelTable but got %v", err)
			}
		})
	}
}

func TestLevelLookups(t *testing.T) {
	table := DefaultLevelTable(6)

	if c, err := table.RequiredCollateral(0); err != nil || c != 0 {
		t.Errorf("level 0: got %d, %v", c, err)
	}
	if c, err := table.RequiredCollateral(3); err != nil || c != 4_000_000 {
		t.Errorf("level 3: got %d, %v", c, err)
	}
	if _, err := table.RequiredCollateral(6); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("level 6: expected ErrInvalidLevel, got %v", err)
	}
	if s, err := table.Score(4); err != nil || s != 200 {
		t.Errorf("score level 4: got %d, %v", s, err)
	}
	if _, err := table.Score(0); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("score level 0: expected ErrInvalidLevel, got %v", err)
	}
}

func TestMaxEligibleLevelByScore(t *testing.T) {
	table := DefaultLevelTable(6)
	tests := []struct {
		score uint64
		want  uint8
	}{
		{0, 1},
		{49, 1},
		{50, 2},
		{99, 2},
		{100, 3},
		{199, 3},
		{200, 4},
		{300, 4},
		{1000, 4},
	}
	for _, tt := range tests {
		if got := table.MaxEligibleLevelByScore(tt.score); got != tt.want {
			t.Errorf("score %d: expected level %d but got %d", tt.score, tt.want, got)
		}
	}
}
