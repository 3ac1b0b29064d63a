package engine

import (
	"time"

	"github.com/talgya/hexcity/internal/economy"
)

// EnrichedBuilding is a building with its income rate already resolved.
type EnrichedBuilding struct {
	ID            string               `json:"id"`
	Type          economy.BuildingType `json:"type"`
	Level         int                  `json:"level"`
	ClusterSize   int                  `json:"clusterSize"`
	IncomePerHour float64              `json:"incomePerHour"`
}

// Investment is a position accruing at a yearly rate.
type Investment struct {
	Amount    float64 `json:"amount"`
	ROIYearly float64 `json:"roiYearly"` // 0.12 = 12% per year
}

// Request is one unit of work for the calculator.
type Request struct {
	Buildings   []EnrichedBuilding `json:"buildings"`
	Investments []Investment       `json:"investments"`
	DtMs        float64            `json:"dtMs"`

	// From and Until bound the wall-clock window DtMs measures.
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`

	// Carry is the sub-cent remainder left over by the previous request.
	Carry float64 `json:"carry,omitempty"`
}

// Response carries the coins earned over a request's window.
type Response struct {
	CoinsDelta float64 `json:"coinsDelta"`
	Carry      float64 `json:"carry,omitempty"` // unpaid fraction of a cent
}

// Calculator turns a request into a coin delta. It runs off the frame loop
// and must not touch game state.
type Calculator func(Request) Response

// Compute sums building and investment accruals over DtMs plus the incoming
// carry, and rounds the total down to whole cents. The rounded-off part is
// returned as the next carry.
func Compute(req Request) Response {
	delta := req.Carry
	for _, b := range req.Buildings {
		delta += b.IncomePerHour / economy.MsPerHour * req.DtMs
	}
	for _, inv := range req.Investments {
		delta += economy.InvestmentAccrual(inv.Amount, inv.ROIYearly, req.DtMs)
	}
	paid := economy.FloorCents(delta)
	return Response{CoinsDelta: paid, Carry: max(0, delta-paid)}
}
