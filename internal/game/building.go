package game

import (
	"errors"

	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/world"
)

// Placement failures.
var (
	ErrOccupied          = errors.New("tile already has a building")
	ErrNotBuildable      = errors.New("tile is not buildable")
	ErrInsufficientFunds = errors.New("not enough coins")
	ErrUnknownType       = errors.New("unknown building type")
)

// Building is a placed structure. Field names match the persisted snapshot.
type Building struct {
	ID            string               `json:"id"`
	Type          economy.BuildingType `json:"type"`
	Level         int                  `json:"level"`
	Health        *float64             `json:"health,omitempty"`
	Coord         world.HexCoord       `json:"coord"`
	Position      world.Point          `json:"position"`
	IncomePerHour float64              `json:"incomePerHour"`
	LastIncomeAt  int64                `json:"lastIncomeAt"` // unix ms
	Productivity  *float64             `json:"productivity,omitempty"`
}

// Rated returns the fields the income formulas read.
func (b *Building) Rated() economy.Rated {
	return economy.Rated{
		Type:         b.Type,
		Level:        b.Level,
		Health:       b.Health,
		Productivity: b.Productivity,
	}
}

// Snapshot is the persisted state.
type Snapshot struct {
	Coins     float64    `json:"coins"`
	Buildings []Building `json:"buildings"`
}

// ErrNoSnapshot is returned by a Persister with nothing saved.
var ErrNoSnapshot = errors.New("no saved snapshot")

// Persister stores the snapshot. Load returns ErrNoSnapshot when nothing
// has been saved yet.
type Persister interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Clear() error
}

// Ledger is the finance book kept beside the snapshot.
type Ledger struct {
	Investments []Investment `json:"investments"`
	Loans       []Loan       `json:"loans"`
}

// LedgerPersister is implemented by persisters that also keep the finance
// book. LoadLedger returns ErrNoSnapshot when nothing has been saved.
type LedgerPersister interface {
	LoadLedger() (Ledger, error)
	SaveLedger(Ledger) error
	ClearLedger() error
}
