// Package game owns the city's mutable state: coins, buildings and the
// derived population and jobs counters. Every mutation runs under one lock
// and is written through to a Persister.
package game

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/hexcity/internal/cluster"
	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/engine"
	"github.com/talgya/hexcity/internal/tuning"
	"github.com/talgya/hexcity/internal/world"
)

// Options configure a Store.
type Options struct {
	Tuning tuning.Tuning    // zero value means tuning.Default()
	World  *world.Map       // optional; enables the buildable check in PlaceBuilding
	Clock  func() time.Time // default time.Now

	// CollectOnOpen credits income accrued while the game was closed.
	CollectOnOpen bool
}

// Store is the game state. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	persister Persister
	tuning    tuning.Tuning
	world     *world.Map
	now       func() time.Time
	cache     cluster.Cache

	coins      float64
	buildings  []Building
	population int
	jobs       int

	investments []Investment
	loans       []Loan

	// paidThrough is the unix ms up to which CollectIncome has paid. Ticker
	// windows ending at or before it are dropped, straddling ones prorated.
	paidThrough int64

	lastPersist time.Time
	dirty       bool
}

// Open builds a store from the persister's snapshot. A missing or malformed
// snapshot yields the starting state. A nil persister keeps state in memory.
func Open(p Persister, opts Options) *Store {
	if opts.Tuning == (tuning.Tuning{}) {
		opts.Tuning = tuning.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Store{
		persister: p,
		tuning:    opts.Tuning,
		world:     opts.World,
		now:       opts.Clock,
		coins:     opts.Tuning.StartCoins,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p != nil {
		snap, err := p.Load()
		switch {
		case errors.Is(err, ErrNoSnapshot):
			slog.Info("no saved city, starting fresh", "coins", s.coins)
		case err != nil:
			slog.Warn("saved city unreadable, starting fresh", "error", err)
		default:
			if err := s.restoreLocked(snap); err != nil {
				slog.Warn("saved city rejected, starting fresh", "error", err)
				break
			}
			s.restoreLedgerLocked()
		}
	}
	s.refreshLocked()

	if opts.CollectOnOpen && len(s.buildings) > 0 {
		earned := s.collectLocked(s.nowMs())
		slog.Info("offline income collected", "coins", earned, "buildings", len(s.buildings))
		s.persistLocked("open")
	}
	return s
}

func (s *Store) restoreLocked(snap Snapshot) error {
	if math.IsNaN(snap.Coins) || math.IsInf(snap.Coins, 0) || snap.Coins < 0 {
		return errors.New("coins out of range")
	}
	now := s.nowMs()
	buildings := make([]Building, 0, len(snap.Buildings))
	for _, b := range snap.Buildings {
		if b.Type == "" {
			return errors.New("building without type")
		}
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.Level < 1 {
			b.Level = 1
		}
		if b.LastIncomeAt <= 0 || b.LastIncomeAt > now {
			b.LastIncomeAt = now
		}
		b.Position = world.AxialToPixel(b.Coord)
		buildings = append(buildings, b)
	}
	s.coins = snap.Coins
	s.buildings = buildings
	return nil
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// ── Reads ──

// Coins returns the current balance.
func (s *Store) Coins() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coins
}

// Buildings returns a copy of the building list.
func (s *Store) Buildings() []Building {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Building(nil), s.buildings...)
}

// Building looks up a building by id.
func (s *Store) Building(id string) (Building, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.buildings[i], true
	}
	return Building{}, false
}

func (s *Store) Population() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.population
}

func (s *Store) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

// EmploymentRatio is population over jobs, clamped.
func (s *Store) EmploymentRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return economy.EmploymentRatio(s.population, s.jobs)
}

// Snapshot returns the persistable state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Coins: s.coins, Buildings: append([]Building{}, s.buildings...)}
}

// Clusters returns the current clustering of the buildings.
func (s *Store) Clusters() cluster.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Recompute(s.membersLocked(), s.tuning.ClusterOptions())
}

// TickInputs returns what the economy ticker needs for one tick.
func (s *Store) TickInputs() ([]engine.Input, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make([]engine.Input, len(s.buildings))
	for i := range s.buildings {
		b := &s.buildings[i]
		in[i] = engine.Input{ID: b.ID, Coord: b.Coord, Rated: b.Rated()}
	}
	return in, economy.EmploymentRatio(s.population, s.jobs)
}

// ── Coins ──

// AddCoins credits amount. A negative amount debits but never below zero.
func (s *Store) AddCoins(amount float64) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins = max(0, s.coins+amount)
	s.persistLocked("add_coins")
}

// CanSpend reports whether the balance covers amount.
func (s *Store) CanSpend(amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coins >= amount
}

// Spend debits amount if affordable. A non-positive amount succeeds
// without touching the balance.
func (s *Store) Spend(amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.spendLocked(amount)
	if ok && amount > 0 {
		s.persistLocked("spend")
	}
	return ok
}

func (s *Store) spendLocked(amount float64) bool {
	if amount <= 0 {
		return true
	}
	if s.coins < amount {
		return false
	}
	s.coins -= amount
	return true
}

// AbsorbTick credits a ticker payout and marks its window as paid on every
// building. The part of the window a collection already paid is not
// credited again. Writes are throttled to the tuning's persist interval;
// Flush forces one.
func (s *Store) AbsorbTick(p engine.Payout) {
	if math.IsNaN(p.Delta) || math.IsInf(p.Delta, 0) || p.Delta < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	from, until := p.From.UnixMilli(), p.Until.UnixMilli()
	if until <= s.paidThrough {
		return
	}
	delta := p.Delta
	if from < s.paidThrough {
		delta = economy.FloorCents(delta * float64(until-s.paidThrough) / float64(until-from))
	}
	s.coins += delta
	for i := range s.buildings {
		if s.buildings[i].LastIncomeAt < until {
			s.buildings[i].LastIncomeAt = until
		}
	}
	s.dirty = true
	if now := s.now(); now.Sub(s.lastPersist) >= s.tuning.PersistEvery() {
		s.persistLocked("tick")
	}
}

// Flush writes any state held back by AbsorbTick.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.persistLocked("flush")
	}
}

// CollectIncome pays every building for the time since its last payout and
// returns the whole coins credited.
func (s *Store) CollectIncome() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.collectLocked(s.nowMs())
	s.persistLocked("collect")
	return total
}

func (s *Store) collectLocked(now int64) float64 {
	s.refreshLocked()
	sum := 0.0
	for i := range s.buildings {
		b := &s.buildings[i]
		elapsed := max(0, now-b.LastIncomeAt)
		rate := b.IncomePerHour
		if s.tuning.LegacyCollectLevel {
			rate *= float64(b.Level)
		}
		sum += rate * float64(elapsed) / economy.MsPerHour
		b.LastIncomeAt = now
	}
	total := math.Floor(sum)
	s.coins += total
	s.paidThrough = max(s.paidThrough, now)
	return total
}

// ── Buildings ──

// AddBuildingAt appends a building without occupancy or funds checks.
func (s *Store) AddBuildingAt(q, r int, typ economy.BuildingType, level int) Building {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.addLocked(world.HexCoord{Q: q, R: r}, typ, level)
	s.persistLocked("add_building")
	return b
}

func (s *Store) addLocked(coord world.HexCoord, typ economy.BuildingType, level int) Building {
	if level < 1 {
		level = 1
	}
	s.buildings = append(s.buildings, Building{
		ID:           uuid.NewString(),
		Type:         typ,
		Level:        level,
		Coord:        coord,
		Position:     world.AxialToPixel(coord),
		LastIncomeAt: s.nowMs(),
	})
	s.refreshLocked()
	return s.buildings[len(s.buildings)-1]
}

// PlaceBuilding buys a level 1 building on a free, buildable tile.
func (s *Store) PlaceBuilding(q, r int, typ economy.BuildingType) (Building, error) {
	if !economy.Known(typ) {
		return Building{}, ErrUnknownType
	}
	coord := world.HexCoord{Q: q, R: r}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.atLocked(coord) >= 0 {
		return Building{}, ErrOccupied
	}
	if s.world != nil && !s.world.Buildable(coord) {
		return Building{}, ErrNotBuildable
	}
	cost := s.placementCost(typ)
	if !s.spendLocked(cost) {
		return Building{}, ErrInsufficientFunds
	}
	b := s.addLocked(coord, typ, 1)
	s.persistLocked("place_building")
	return b, nil
}

// placementCost prices typ. A tuned cost other than the default replaces
// the catalog price.
func (s *Store) placementCost(typ economy.BuildingType) float64 {
	if c := s.tuning.PlacementCost; c > 0 && c != economy.DefaultPlacementCost {
		return c
	}
	return economy.PlacementCost(typ)
}

// RemoveBuilding demolishes a building. Income it accrued since the last
// payout is forfeited.
func (s *Store) RemoveBuilding(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.buildings = append(s.buildings[:i], s.buildings[i+1:]...)
	s.refreshLocked()
	s.persistLocked("remove_building")
	return true
}

// UpgradeBuilding raises a building one level if the upgrade is affordable.
func (s *Store) UpgradeBuilding(id string) bool {
	_, err := s.Upgrade(id)
	return err == nil
}

// Upgrade raises a building one level and returns it. It fails with
// ErrNotFound for an unknown id and ErrInsufficientFunds when the upgrade
// is not affordable.
func (s *Store) Upgrade(id string) (Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Building{}, ErrNotFound
	}
	b := &s.buildings[i]
	if !s.spendLocked(s.tuning.UpgradeCost(b.Level)) {
		return Building{}, ErrInsufficientFunds
	}
	b.Level++
	b.LastIncomeAt = s.nowMs()
	s.refreshLocked()
	s.persistLocked("upgrade_building")
	return s.buildings[i], nil
}

// MergeBuildingsAt folds a neighbour of the same type and level into the
// building at (q, r), raising it one level. Pending income is collected first.
func (s *Store) MergeBuildingsAt(q, r int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.atLocked(world.HexCoord{Q: q, R: r})
	if target < 0 {
		return false
	}
	t := s.buildings[target]
	victim := -1
	for _, n := range t.Coord.Neighbors() {
		j := s.atLocked(n)
		if j >= 0 && s.buildings[j].Type == t.Type && s.buildings[j].Level == t.Level {
			victim = j
			break
		}
	}
	if victim < 0 {
		return false
	}

	now := s.nowMs()
	s.collectLocked(now)
	s.buildings = append(s.buildings[:victim], s.buildings[victim+1:]...)
	target = s.indexLocked(t.ID)
	s.buildings[target].Level++
	s.buildings[target].LastIncomeAt = now
	s.refreshLocked()
	s.persistLocked("merge")
	return true
}

// UpgradeClusterByTiles upgrades every building on tiles when at least
// threshold of them share the most common level. The whole batch is paid
// up front or nothing happens. threshold <= 0 uses the tuned default.
func (s *Store) UpgradeClusterByTiles(tiles []world.HexCoord, threshold float64) bool {
	if threshold <= 0 {
		threshold = s.tuning.MergeThreshold
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	on := make(map[world.HexCoord]bool, len(tiles))
	for _, c := range tiles {
		on[c] = true
	}
	var members []int
	levels := make(map[int]int)
	for i := range s.buildings {
		if on[s.buildings[i].Coord] {
			members = append(members, i)
			levels[s.buildings[i].Level]++
		}
	}
	if len(members) == 0 {
		return false
	}
	top := 0
	for _, n := range levels {
		top = max(top, n)
	}
	if float64(top)/float64(len(members)) < threshold {
		return false
	}

	total := 0.0
	for _, i := range members {
		total += s.tuning.UpgradeCost(s.buildings[i].Level)
	}
	if !s.spendLocked(total) {
		return false
	}
	now := s.nowMs()
	for _, i := range members {
		s.buildings[i].Level++
		s.buildings[i].LastIncomeAt = now
	}
	s.refreshLocked()
	s.persistLocked("upgrade_cluster")
	return true
}

// Reset clears the saved city and starts over.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	if s.persister != nil {
		if err := s.persister.Clear(); err != nil {
			slog.Warn("clear saved city failed", "error", err)
		}
	}
	if lp, ok := s.persister.(LedgerPersister); ok {
		if err := lp.ClearLedger(); err != nil {
			slog.Warn("clear finance book failed", "error", err)
		}
	}
	s.coins = s.tuning.StartCoins
	s.buildings = nil
	s.population, s.jobs = 0, 0
	s.investments, s.loans = nil, nil
	s.paidThrough = s.nowMs()
	s.cache.Invalidate()
	s.dirty = false
}

// ── Internals ──

func (s *Store) indexLocked(id string) int {
	for i := range s.buildings {
		if s.buildings[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) atLocked(c world.HexCoord) int {
	for i := range s.buildings {
		if s.buildings[i].Coord == c {
			return i
		}
	}
	return -1
}

func (s *Store) membersLocked() []cluster.Member {
	members := make([]cluster.Member, len(s.buildings))
	for i := range s.buildings {
		b := &s.buildings[i]
		members[i] = cluster.Member{ID: b.ID, Type: b.Type, Level: b.Level, Coord: b.Coord}
	}
	return members
}

// refreshLocked recomputes population, jobs and every building's cached
// hourly income.
func (s *Store) refreshLocked() {
	types := make([]economy.BuildingType, len(s.buildings))
	for i := range s.buildings {
		types[i] = s.buildings[i].Type
	}
	s.population, s.jobs = economy.Workforce(types)
	ratio := economy.EmploymentRatio(s.population, s.jobs)

	res := s.cache.Recompute(s.membersLocked(), s.tuning.ClusterOptions())
	for i := range s.buildings {
		b := &s.buildings[i]
		b.IncomePerHour = economy.IncomePerHour(b.Rated(), economy.Modifiers{
			ClusterTileCount: res.SizeOf(b.ID),
			EmploymentRatio:  ratio,
		})
	}
}

func (s *Store) persistLocked(op string) {
	if s.persister == nil {
		s.dirty = false
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		slog.Warn("save city failed", "op", op, "error", err)
		return
	}
	s.lastPersist = s.now()
	s.dirty = false
}
