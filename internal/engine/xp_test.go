package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateAward(t *testing.T) {
	cases := []struct {
		name       string
		streak     int
		multiplier Multiplier
		total      int
	}{
		{"streak 1 no multiplier", 1, MultiplierNone, 12},
		{"streak 1 first ever", 1, MultiplierFirstEver, 18},
		{"streak 5 no multiplier", 5, MultiplierNone, 20},
		{"streak 14 perfect day", 14, MultiplierPerfectDay, 45},
		{"streak bonus caps at 50", 30, MultiplierNone, 60},
		{"capped bonus with perfect day", 40, MultiplierPerfectDay, 72},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			award := CalculateAward(tc.streak, tc.multiplier)
			require.Equal(t, tc.total, award.Total)
			require.Equal(t, BaseXP, award.BaseXP)
			require.Equal(t, award.BaseXP+award.StreakBonus+award.MultiplierBonus, award.Total)
		})
	}
}

func TestCalculateAwardMultiplierRoundsDown(t *testing.T) {
	// 10 + 2*2 = 14; 14 * 0.2 = 2.8 floors to 2.
	award := CalculateAward(2, MultiplierPerfectDay)
	require.Equal(t, 2, award.MultiplierBonus)
	require.Equal(t, 16, award.Total)
}

func TestForgivenessAwardIsHalf(t *testing.T) {
	// Streak 5 normal award is 20: half is 10.
	require.Equal(t, 10, ForgivenessAward(5))
	// Streak 1 award is 12: half rounds down to 6.
	require.Equal(t, 6, ForgivenessAward(1))
	// Odd totals round down: streak 4 award is 18, half is 9.
	require.Equal(t, 9, ForgivenessAward(4))
}

func TestThresholdForLevel(t *testing.T) {
	require.Equal(t, 100, ThresholdForLevel(1))
	require.Equal(t, 120, ThresholdForLevel(2))
	require.Equal(t, 140, ThresholdForLevel(3))
	require.Equal(t, 170, ThresholdForLevel(4))
	require.Equal(t, 210, ThresholdForLevel(5))
}

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		totalXP     int
		level       int
		intoLevel   int
		forNext     int
	}{
		{0, 1, 0, 100},
		{99, 1, 99, 100},
		{100, 2, 0, 120},
		{219, 2, 119, 120},
		{220, 3, 0, 140},
		{530, 5, 0, 210},
		{-10, 1, 0, 100},
	}

	for _, tc := range cases {
		info := LevelForXP(tc.totalXP)
		require.Equal(t, tc.level, info.Level, "totalXP=%d", tc.totalXP)
		require.Equal(t, tc.intoLevel, info.XPIntoLevel, "totalXP=%d", tc.totalXP)
		require.Equal(t, tc.forNext, info.XPForNextLevel, "totalXP=%d", tc.totalXP)
	}

	info := LevelForXP(150)
	require.InDelta(t, 41.66, info.ProgressPercent, 0.01)
}

func TestDetectLevelUp(t *testing.T) {
	require.Nil(t, DetectLevelUp(0, 99))
	require.Nil(t, DetectLevelUp(50, 0))

	up := DetectLevelUp(90, 20)
	require.NotNil(t, up)
	require.Equal(t, 1, up.From)
	require.Equal(t, 2, up.To)
	require.Equal(t, []int{2}, up.LevelsCrossed)
	require.False(t, up.BadgeAwarded)
	require.False(t, up.BonusToken)

	// One large award can cross several levels at once.
	up = DetectLevelUp(0, 250)
	require.NotNil(t, up)
	require.Equal(t, 3, up.To)
	require.Equal(t, []int{2, 3}, up.LevelsCrossed)
}

func TestDetectLevelUpRewards(t *testing.T) {
	// Level 5 is reached at 100+120+140+170 = 530 total XP.
	up := DetectLevelUp(520, 20)
	require.NotNil(t, up)
	require.Equal(t, 5, up.To)
	require.True(t, up.BadgeAwarded)
	require.False(t, up.BonusToken)

	// Level 10 is reached at 2080 total XP and carries both rewards.
	up = DetectLevelUp(2070, 20)
	require.NotNil(t, up)
	require.Equal(t, 10, up.To)
	require.True(t, up.BadgeAwarded)
	require.True(t, up.BonusToken)
}

func TestBonusTokensRespectsCap(t *testing.T) {
	withToken := &LevelUp{To: 10, BonusToken: true}

	require.Equal(t, 1, bonusTokens(withToken, 0))
	require.Equal(t, 1, bonusTokens(withToken, 2))
	require.Equal(t, 0, bonusTokens(withToken, 3))
	require.Equal(t, 0, bonusTokens(&LevelUp{To: 5}, 0))
	require.Equal(t, 0, bonusTokens(nil, 0))
}
