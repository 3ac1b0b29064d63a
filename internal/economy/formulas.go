package economy

import "math"

// Upgrade cost curve defaults.
const (
	UpgradeBaseCost = 50.0
	UpgradeGrowth   = 1.6
)

// MsPerHour and MsPerYear convert rates into per-millisecond accruals.
const (
	MsPerHour = 3_600_000.0
	MsPerYear = 365 * 24 * MsPerHour
)

// LevelMult grows income linearly with level: +35% per level above 1.
func LevelMult(level int) float64 {
	return 1 + 0.35*float64(max(0, level-1))
}

// HealthMult scales income by health in [0, 100], floored at 0.4.
func HealthMult(health float64) float64 {
	return clamp(0.4+0.006*health, 0.4, 1.0)
}

// ClusterBonus adds 5% for every full 5 tiles in the building's cluster.
func ClusterBonus(tileCount int) float64 {
	return 1 + 0.05*math.Floor(float64(tileCount)/5)
}

// EmploymentMult maps the employment ratio onto [0.6, 1.2].
func EmploymentMult(ratio float64) float64 {
	return clamp(0.6+0.6*ratio, 0.6, 1.2)
}

// EmploymentRatio is population over jobs, clamped to [0, 1.2].
// No jobs counts as one job.
func EmploymentRatio(population, jobs int) float64 {
	return clamp(float64(population)/float64(max(1, jobs)), 0, 1.2)
}

// Rated is the part of a building the income formulas read.
type Rated struct {
	Type         BuildingType
	Level        int
	Health       *float64 // nil means 100
	Productivity *float64 // nil means 1
}

// Modifiers carries the contextual inputs to the income formulas.
type Modifiers struct {
	ClusterTileCount int     // < 1 is treated as 1
	EmploymentRatio  float64 // 1 is balanced
}

// DefaultModifiers is a lone building in a balanced economy.
func DefaultModifiers() Modifiers {
	return Modifiers{ClusterTileCount: 1, EmploymentRatio: 1}
}

// IncomePerSecond returns the coins/second a building earns. The factors
// are applied in a fixed order so results stay reproducible.
func IncomePerSecond(b Rated, mod Modifiers) float64 {
	health := 100.0
	if b.Health != nil {
		health = *b.Health
	}
	prod := 1.0
	if b.Productivity != nil {
		prod = *b.Productivity
	}
	tiles := mod.ClusterTileCount
	if tiles < 1 {
		tiles = 1
	}

	base := BaseIncomeFor(b.Type)
	lvl := LevelMult(b.Level)
	h := HealthMult(health)
	c := ClusterBonus(tiles)
	e := EmploymentMult(mod.EmploymentRatio)
	return base * lvl * h * c * e * prod
}

// IncomePerHour is IncomePerSecond scaled to an hour.
func IncomePerHour(b Rated, mod Modifiers) float64 {
	return IncomePerSecond(b, mod) * 3600
}

// UpgradeCost is the price of raising a building from level to level+1.
func UpgradeCost(level int) float64 {
	return UpgradeCostWith(level, UpgradeBaseCost, UpgradeGrowth)
}

// UpgradeCostWith evaluates round(base * growth^(level-1)).
func UpgradeCostWith(level int, base, growth float64) float64 {
	return math.Round(base * math.Pow(growth, float64(level-1)))
}

// InvestmentAccrual returns the coins a yearly-rate position earns over dtMs.
func InvestmentAccrual(amount, roiYearly, dtMs float64) float64 {
	return amount * roiYearly / MsPerYear * dtMs
}

// FloorCents rounds v down to two decimal places.
func FloorCents(v float64) float64 {
	return math.Floor(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
