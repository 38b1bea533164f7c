package engine

import (
	"math"

	"example.com/habits/internal/domain"
)

const (
	// BaseXP is awarded for any habit completion before bonuses.
	BaseXP = 10
	// StreakBonusPerDay scales the streak bonus, capped at StreakBonusCap.
	StreakBonusPerDay = 2
	StreakBonusCap    = 50

	levelBase       = 100.0
	levelMultiplier = 1.2
)

// Multiplier selects the award multiplier tier for a completion.
type Multiplier float64

const (
	MultiplierNone       Multiplier = 1.0
	MultiplierPerfectDay Multiplier = 1.2
	MultiplierFirstEver  Multiplier = 1.5
)

// Award is the XP breakdown for one completion.
type Award struct {
	BaseXP          int
	StreakBonus     int
	Multiplier      Multiplier
	MultiplierBonus int
	Total           int
}

// CalculateAward computes the XP award for a completion that is part of a
// streak of the given length.
func CalculateAward(streakLength int, multiplier Multiplier) Award {
	bonus := streakLength * StreakBonusPerDay
	if bonus > StreakBonusCap {
		bonus = StreakBonusCap
	}
	multBonus := int(math.Floor(float64(BaseXP+bonus) * (float64(multiplier) - 1)))
	return Award{
		BaseXP:          BaseXP,
		StreakBonus:     bonus,
		Multiplier:      multiplier,
		MultiplierBonus: multBonus,
		Total:           BaseXP + bonus + multBonus,
	}
}

// ForgivenessAward halves a normal completion award, rounding down.
func ForgivenessAward(streakLength int) int {
	return CalculateAward(streakLength, MultiplierNone).Total / 2
}

// ThresholdForLevel returns the XP required to advance from level k to k+1,
// rounded to the nearest 10. The progression is 100, 120, 140, 170, ...
func ThresholdForLevel(k int) int {
	raw := levelBase * math.Pow(levelMultiplier, float64(k-1))
	return int(math.Round(raw/10)) * 10
}

// LevelInfo is the decoded progression position for a total XP value.
type LevelInfo struct {
	Level           int
	XPIntoLevel     int
	XPForNextLevel  int
	ProgressPercent float64
}

// LevelForXP accumulates thresholds until the next one would exceed totalXP.
// It is pure and monotonic in totalXP; level 1 starts at 0 XP.
func LevelForXP(totalXP int) LevelInfo {
	if totalXP < 0 {
		totalXP = 0
	}
	level := 1
	remaining := totalXP
	need := ThresholdForLevel(level)
	for remaining >= need {
		remaining -= need
		level++
		need = ThresholdForLevel(level)
	}
	return LevelInfo{
		Level:           level,
		XPIntoLevel:     remaining,
		XPForNextLevel:  need,
		ProgressPercent: float64(remaining) / float64(need) * 100,
	}
}

// LevelUp describes the levels crossed by a single XP award and any rewards
// attached to the new level.
type LevelUp struct {
	From          int
	To            int
	LevelsCrossed []int
	BadgeAwarded  bool // new level is a multiple of 5
	BonusToken    bool // new level is a multiple of 10; capped by the ledger
}

// DetectLevelUp compares the level before and after an award. Returns nil
// when no level boundary was crossed.
func DetectLevelUp(oldTotalXP, award int) *LevelUp {
	before := LevelForXP(oldTotalXP).Level
	after := LevelForXP(oldTotalXP + award).Level
	if after <= before {
		return nil
	}
	crossed := make([]int, 0, after-before)
	for l := before + 1; l <= after; l++ {
		crossed = append(crossed, l)
	}
	return &LevelUp{
		From:          before,
		To:            after,
		LevelsCrossed: crossed,
		BadgeAwarded:  after%5 == 0,
		BonusToken:    after%10 == 0,
	}
}

// bonusTokens returns the token delta a level-up carries, respecting the
// balance cap.
func bonusTokens(levelUp *LevelUp, currentBalance int) int {
	if levelUp == nil || !levelUp.BonusToken {
		return 0
	}
	if currentBalance >= domain.MaxForgivenessTokens {
		return 0
	}
	return 1
}
