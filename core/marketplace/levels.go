package marketplace

import "fmt"

// MaxLevel is the highest service tier.
const MaxLevel = 5

// Tier is one row of the level table.
type Tier struct {
	RequiredCollateral uint64 `json:"required_collateral" yaml:"required_collateral"`
	MinimumScore       uint64 `json:"minimum_score" yaml:"minimum_score"`
}

// LevelTable maps tiers 1..MaxLevel to collateral and score requirements.
type LevelTable struct {
	tiers [MaxLevel]Tier
}

// DefaultLevelTable reproduces the deployed table: 2..6 whole tokens of
// collateral and minimum scores 0, 50, 100, 200, 300.
func DefaultLevelTable(decimals uint8) LevelTable {
	unit := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		unit *= 10
	}
	t, _ := NewLevelTable(
		[]uint64{2 * unit, 3 * unit, 4 * unit, 5 * unit, 6 * unit},
		[]uint64{0, 50, 100, 200, 300},
	)
	return t
}

// NewLevelTable validates that both columns have MaxLevel entries and are
// strictly increasing.
func NewLevelTable(collaterals, scores []uint64) (LevelTable, error) {
	var t LevelTable
	if len(collaterals) != MaxLevel || len(scores) != MaxLevel {
		return t, fmt.Errorf("%w: need %d tiers, got %d collaterals and %d scores", ErrInvalidLevelTable, MaxLevel, len(collaterals), len(scores))
	}
	for i := 0; i < MaxLevel; i++ {
		if i > 0 && collaterals[i] <= collaterals[i-1] {
			return t, fmt.Errorf("%w: collateral for level %d not above level %d", ErrInvalidLevelTable, i+1, i)
		}
		if i > 0 && scores[i] <= scores[i-1] {
			return t, fmt.Errorf("%w: score for level %d not above level %d", ErrInvalidLevelTable, i+1, i)
		}
		t.tiers[i] = Tier{RequiredCollateral: collaterals[i], MinimumScore: scores[i]}
	}
	return t, nil
}

// Tiers returns a copy of the rows, index 0 being level 1.
func (t LevelTable) Tiers() []Tier {
	out := make([]Tier, MaxLevel)
	copy(out, t.tiers[:])
	return out
}

// RequiredCollateral returns the stake for level. Level 0 requires nothing.
func (t LevelTable) RequiredCollateral(level uint8) (uint64, error) {
	if level == 0 {
		return 0, nil
	}
	if level > MaxLevel {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return t.tiers[level-1].RequiredCollateral, nil
}

// Score returns the minimum score for level (1..MaxLevel).
func (t LevelTable) Score(level uint8) (uint64, error) {
	if level == 0 || level > MaxLevel {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return t.tiers[level-1].MinimumScore, nil
}

// MaxEligibleLevelByScore steps up from level 1 while the next tier's
// minimum score is met. The scan stops one short of the top tier, so
// MaxLevel is never reachable by score alone.
func (t LevelTable) MaxEligibleLevelByScore(score uint64) uint8 {
	level := 1
	for level+1 < MaxLevel && t.tiers[level].MinimumScore <= score {
		level++
	}
	return uint8(level)
}
