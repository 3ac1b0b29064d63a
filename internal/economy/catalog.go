// Package economy provides the building catalog and the income formulas
// that turn a building's attributes into a coin rate.
package economy

// BuildingType names a kind of building. Unknown types are legal and fall
// back to catalog defaults.
type BuildingType string

const (
	House   BuildingType = "house"
	Shop    BuildingType = "shop"
	Factory BuildingType = "factory"
	Bank    BuildingType = "bank"
	School  BuildingType = "school"
	Park    BuildingType = "park"
	Farm    BuildingType = "farm"
)

// DefaultBaseIncome is the coins/second base for types missing from the catalog.
const DefaultBaseIncome = 2.0

// DefaultPlacementCost is what a new building costs unless the catalog says otherwise.
const DefaultPlacementCost = 100.0

// TypeSpec describes one building type.
type TypeSpec struct {
	BaseIncome float64 `json:"base_income"` // coins/second at level 1, full health
	Population int     `json:"population"`  // residents housed
	Jobs       int     `json:"jobs"`        // workplaces offered
	Cost       float64 `json:"cost"`        // placement cost
}

// Catalog holds the known building types.
var Catalog = map[BuildingType]TypeSpec{
	House:   {BaseIncome: 2, Population: 5, Cost: DefaultPlacementCost},
	Shop:    {BaseIncome: 3, Jobs: 3, Cost: DefaultPlacementCost},
	Factory: {BaseIncome: 6, Jobs: 6, Cost: DefaultPlacementCost},
	Bank:    {BaseIncome: 8, Jobs: 4, Cost: DefaultPlacementCost},
	School:  {BaseIncome: 3, Jobs: 2, Cost: DefaultPlacementCost},
	Park:    {BaseIncome: 1, Cost: DefaultPlacementCost},
	Farm:    {BaseIncome: 2.5, Jobs: 2, Cost: DefaultPlacementCost},
}

// Known reports whether t is in the catalog.
func Known(t BuildingType) bool {
	_, ok := Catalog[t]
	return ok
}

// BaseIncomeFor returns the base coins/second for a type.
func BaseIncomeFor(t BuildingType) float64 {
	if def, ok := Catalog[t]; ok {
		return def.BaseIncome
	}
	return DefaultBaseIncome
}

// PlacementCost returns the coins needed to place a building of type t.
func PlacementCost(t BuildingType) float64 {
	if def, ok := Catalog[t]; ok && def.Cost > 0 {
		return def.Cost
	}
	return DefaultPlacementCost
}

// Workforce sums population and jobs over a set of building types.
func Workforce(types []BuildingType) (population, jobs int) {
	for _, t := range types {
		def := Catalog[t]
		population += def.Population
		jobs += def.Jobs
	}
	return population, jobs
}
