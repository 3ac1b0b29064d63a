package game

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/engine"
	"github.com/talgya/hexcity/internal/tuning"
	"github.com/talgya/hexcity/internal/world"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memPersister keeps the last saved snapshot and can be told to fail.
type memPersister struct {
	snap  *Snapshot
	saves int
	fail  error
}

func (m *memPersister) Load() (Snapshot, error) {
	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return *m.snap, nil
}

func (m *memPersister) Save(s Snapshot) error {
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.snap = &s
	return nil
}

func (m *memPersister) Clear() error {
	m.snap = nil
	return m.fail
}

func newTestStore(t *testing.T) (*Store, *testClock, *memPersister) {
	t.Helper()
	clock := newTestClock()
	p := &memPersister{}
	return Open(p, Options{Clock: clock.Now}), clock, p
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestOpenStartsWithDefaultCoins(t *testing.T) {
	s, _, _ := newTestStore(t)
	if s.Coins() != 500 {
		t.Fatalf("coins = %v, want 500", s.Coins())
	}
	if len(s.Buildings()) != 0 || s.Population() != 0 || s.Jobs() != 0 {
		t.Fatalf("fresh store not empty")
	}
}

func TestLoneHouseIncome(t *testing.T) {
	s, clock, _ := newTestStore(t)
	b := s.AddBuildingAt(0, 0, economy.House, 1)
	if !near(b.IncomePerHour, 8640) {
		t.Fatalf("incomePerHour = %v, want 8640", b.IncomePerHour)
	}
	if b.Position != world.AxialToPixel(world.HexCoord{}) {
		t.Fatalf("position not derived from coord: %+v", b.Position)
	}

	clock.Advance(2 * time.Hour)
	got := s.CollectIncome()
	if got != 17280 {
		t.Fatalf("collected %v, want 17280", got)
	}
	if s.Coins() != 500+17280 {
		t.Fatalf("coins = %v", s.Coins())
	}
}

func TestLegacyCollectLevel(t *testing.T) {
	clock := newTestClock()
	tun := tuning.Default()
	tun.LegacyCollectLevel = true
	s := Open(nil, Options{Clock: clock.Now, Tuning: tun})
	s.AddBuildingAt(0, 0, economy.House, 2)
	clock.Advance(time.Hour)

	// 2 * 1.35 * 1.2 * 3600 = 11664 per hour, times level again.
	if got := s.CollectIncome(); got < 23327 || got > 23328 {
		t.Fatalf("collected %v, want about 23328", got)
	}
}

func TestAdjacentHousesKeepLoneIncome(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(1, 0, economy.House, 1)

	res := s.Clusters()
	if len(res.Clusters) != 1 || res.Clusters[0].Size() != 2 {
		t.Fatalf("clusters = %+v, want one of size 2", res.Clusters)
	}
	for _, b := range s.Buildings() {
		if !near(b.IncomePerHour, 8640) {
			t.Fatalf("%s income %v, want 8640", b.ID, b.IncomePerHour)
		}
	}
	if s.Population() != 10 || s.Jobs() != 0 {
		t.Fatalf("population %d jobs %d", s.Population(), s.Jobs())
	}
}

func TestSpendGuards(t *testing.T) {
	s, _, p := newTestStore(t)
	if s.Spend(600) {
		t.Fatalf("spend(600) succeeded with 500 coins")
	}
	if s.Coins() != 500 {
		t.Fatalf("failed spend changed balance to %v", s.Coins())
	}
	if !s.Spend(0) || !s.Spend(-10) || s.Coins() != 500 {
		t.Fatalf("non-positive spend should succeed without debiting")
	}
	if p.saves != 0 {
		t.Fatalf("no-op spends persisted %d times", p.saves)
	}

	for _, amt := range []float64{120, 300, 90, 50} {
		s.Spend(amt)
		if s.Coins() < 0 {
			t.Fatalf("balance went negative")
		}
	}
	if s.Coins() != 500-120-300-50 {
		t.Fatalf("coins = %v", s.Coins())
	}
	if !s.CanSpend(30) || s.CanSpend(31) {
		t.Fatalf("CanSpend disagrees with balance %v", s.Coins())
	}

	s.AddCoins(-1000)
	if s.Coins() != 0 {
		t.Fatalf("negative AddCoins left %v", s.Coins())
	}
}

func TestCollectTwiceYieldsZero(t *testing.T) {
	s, clock, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.Factory, 1)
	clock.Advance(90 * time.Minute)
	if s.CollectIncome() == 0 {
		t.Fatalf("first collect paid nothing")
	}
	if got := s.CollectIncome(); got != 0 {
		t.Fatalf("second collect paid %v", got)
	}
}

func TestPlaceBuilding(t *testing.T) {
	clock := newTestClock()
	m := world.NewMap(1)
	m.Set(&world.Tile{Coord: world.HexCoord{Q: 0, R: 0}, Biome: world.BiomeGrass})
	m.Set(&world.Tile{Coord: world.HexCoord{Q: 1, R: 0}, Biome: world.BiomeWater})
	s := Open(nil, Options{Clock: clock.Now, World: m})

	if _, err := s.PlaceBuilding(0, 0, economy.Shop); err != nil {
		t.Fatalf("place: %v", err)
	}
	if s.Coins() != 400 {
		t.Fatalf("coins after placement = %v", s.Coins())
	}

	cases := []struct {
		q, r int
		typ  economy.BuildingType
		want error
	}{
		{0, 0, economy.House, ErrOccupied},
		{1, 0, economy.House, ErrNotBuildable},
		{5, 5, economy.House, ErrNotBuildable},
		{0, 0, "castle", ErrUnknownType},
	}
	for _, tc := range cases {
		if _, err := s.PlaceBuilding(tc.q, tc.r, tc.typ); !errors.Is(err, tc.want) {
			t.Errorf("place %s at (%d,%d): err %v, want %v", tc.typ, tc.q, tc.r, err, tc.want)
		}
	}

	tun := tuning.Default()
	tun.StartCoins = 10
	poor := Open(nil, Options{Clock: clock.Now, Tuning: tun})
	if _, err := poor.PlaceBuilding(0, 0, economy.House); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err %v, want ErrInsufficientFunds", err)
	}
	if len(poor.Buildings()) != 0 || poor.Coins() != 10 {
		t.Fatalf("failed placement mutated state")
	}
}

func TestUpgradeBuilding(t *testing.T) {
	s, _, _ := newTestStore(t)
	b := s.AddBuildingAt(0, 0, economy.House, 1)
	if !s.UpgradeBuilding(b.ID) {
		t.Fatalf("upgrade failed")
	}
	got, _ := s.Building(b.ID)
	if got.Level != 2 || s.Coins() != 450 {
		t.Fatalf("level %d coins %v, want 2 and 450", got.Level, s.Coins())
	}
	if got.IncomePerHour <= b.IncomePerHour {
		t.Fatalf("income did not rise with level")
	}
	if !s.UpgradeBuilding(b.ID) || s.Coins() != 370 {
		t.Fatalf("second upgrade should cost 80, coins %v", s.Coins())
	}
	if s.UpgradeBuilding("missing") {
		t.Fatalf("upgrading an unknown id succeeded")
	}

	s.Spend(s.Coins())
	if s.UpgradeBuilding(b.ID) {
		t.Fatalf("upgrade succeeded with no coins")
	}
}

func TestUpgradeReportsCause(t *testing.T) {
	s, _, _ := newTestStore(t)
	b := s.AddBuildingAt(0, 0, economy.House, 1)

	up, err := s.Upgrade(b.ID)
	if err != nil || up.Level != 2 {
		t.Fatalf("upgrade = %+v, %v", up, err)
	}
	if _, err := s.Upgrade("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
	s.RemoveBuilding(b.ID)
	if _, err := s.Upgrade(b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed building err = %v, want ErrNotFound", err)
	}

	c := s.AddBuildingAt(1, 0, economy.House, 1)
	s.Spend(s.Coins())
	if _, err := s.Upgrade(c.ID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("broke err = %v, want ErrInsufficientFunds", err)
	}
}

func TestMergeCollectsThenCombines(t *testing.T) {
	s, clock, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(1, 0, economy.House, 1)
	s.AddBuildingAt(0, 1, economy.Shop, 1)
	clock.Advance(time.Hour)

	before := s.Coins()
	if !s.MergeBuildingsAt(0, 0) {
		t.Fatalf("merge failed")
	}
	bs := s.Buildings()
	if len(bs) != 2 {
		t.Fatalf("building count %d, want 2", len(bs))
	}
	var merged *Building
	for i := range bs {
		if bs[i].Coord == (world.HexCoord{}) {
			merged = &bs[i]
		}
	}
	if merged == nil || merged.Level != 2 {
		t.Fatalf("merged building %+v", merged)
	}
	if s.Coins() <= before {
		t.Fatalf("income accrued before the merge was not collected")
	}
	if s.Population() != 5 {
		t.Fatalf("population %d after merge, want 5", s.Population())
	}
}

func TestMergeNeedsMatchingNeighbour(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(1, 0, economy.House, 2)
	s.AddBuildingAt(0, 1, economy.Shop, 1)
	s.AddBuildingAt(3, 3, economy.House, 1)

	if s.MergeBuildingsAt(0, 0) {
		t.Fatalf("merged without a same-type same-level neighbour")
	}
	if s.MergeBuildingsAt(9, 9) {
		t.Fatalf("merged at an empty tile")
	}
	if len(s.Buildings()) != 4 {
		t.Fatalf("failed merge changed the building count")
	}
}

func TestUpgradeClusterByTiles(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.AddCoins(1000)
	var tiles []world.HexCoord
	for _, c := range world.Disk(1)[:5] {
		s.AddBuildingAt(c.Q, c.R, economy.Shop, 1)
		tiles = append(tiles, c)
	}

	if !s.UpgradeClusterByTiles(tiles, 0) {
		t.Fatalf("cluster upgrade failed")
	}
	if s.Coins() != 1500-5*50 {
		t.Fatalf("coins = %v, want %v", s.Coins(), 1500-5*50)
	}
	for _, b := range s.Buildings() {
		if b.Level != 2 {
			t.Fatalf("building %s at level %d", b.ID, b.Level)
		}
	}

	// One odd level out of two is below the threshold.
	s.UpgradeBuilding(s.Buildings()[0].ID)
	if s.UpgradeClusterByTiles(tiles[:2], 0.8) {
		t.Fatalf("mixed levels upgraded")
	}
	if s.UpgradeClusterByTiles([]world.HexCoord{{Q: 7, R: 7}}, 0) {
		t.Fatalf("empty tile set upgraded")
	}

	s.Spend(s.Coins())
	if s.UpgradeClusterByTiles(tiles[1:], 0) {
		t.Fatalf("unaffordable batch upgraded")
	}
}

func TestRemoveBuilding(t *testing.T) {
	s, _, _ := newTestStore(t)
	b := s.AddBuildingAt(0, 0, economy.Bank, 1)
	if s.Jobs() != 4 {
		t.Fatalf("jobs = %d", s.Jobs())
	}
	if !s.RemoveBuilding(b.ID) || s.RemoveBuilding(b.ID) {
		t.Fatalf("remove should succeed once")
	}
	if s.Jobs() != 0 {
		t.Fatalf("jobs not recomputed")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	clock := newTestClock()
	p := &memPersister{}
	s := Open(p, Options{Clock: clock.Now})
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(2, -1, economy.Factory, 3)
	s.AddCoins(12.5)
	want := s.Snapshot()

	reopened := Open(p, Options{Clock: clock.Now})
	got := reopened.Snapshot()
	if got.Coins != want.Coins || len(got.Buildings) != len(want.Buildings) {
		t.Fatalf("snapshot %+v, want %+v", got, want)
	}
	for i := range want.Buildings {
		w, g := want.Buildings[i], got.Buildings[i]
		if g.ID != w.ID || g.Type != w.Type || g.Level != w.Level || g.Coord != w.Coord || g.LastIncomeAt != w.LastIncomeAt {
			t.Fatalf("building %d: got %+v, want %+v", i, g, w)
		}
		if g.Position != world.AxialToPixel(g.Coord) {
			t.Fatalf("position not re-derived")
		}
	}
}

func TestOpenRejectsMalformedSnapshot(t *testing.T) {
	clock := newTestClock()
	p := &memPersister{snap: &Snapshot{Coins: -5}}
	s := Open(p, Options{Clock: clock.Now})
	if s.Coins() != 500 {
		t.Fatalf("malformed snapshot not replaced by defaults")
	}
}

func TestCollectOnOpen(t *testing.T) {
	clock := newTestClock()
	p := &memPersister{}
	s := Open(p, Options{Clock: clock.Now})
	s.AddBuildingAt(0, 0, economy.House, 1)

	clock.Advance(time.Hour)
	reopened := Open(p, Options{Clock: clock.Now, CollectOnOpen: true})
	if reopened.Coins() != 500+8640 {
		t.Fatalf("coins after offline catch-up = %v", reopened.Coins())
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	s, _, p := newTestStore(t)
	p.fail = errors.New("disk full")
	s.AddCoins(50)
	s.Reset()
	if s.Coins() != 500 {
		t.Fatalf("coins = %v", s.Coins())
	}
	s.AddBuildingAt(0, 0, economy.House, 1)
	if len(s.Buildings()) != 1 {
		t.Fatalf("state lost after failed saves")
	}
}

func TestAbsorbTickAdvancesPayout(t *testing.T) {
	s, clock, p := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	saves := p.saves

	start := clock.Now()
	clock.Advance(time.Hour)
	s.AbsorbTick(engine.Payout{Delta: 8640, From: start, Until: clock.Now()})
	if s.Coins() != 500+8640 {
		t.Fatalf("coins = %v", s.Coins())
	}
	if got := s.CollectIncome(); got != 0 {
		t.Fatalf("collect after absorbed tick paid %v again", got)
	}

	from := clock.Now()
	clock.Advance(10 * time.Millisecond)
	before := p.saves
	s.AbsorbTick(engine.Payout{Delta: 0.02, From: from, Until: clock.Now()})
	if p.saves != before {
		t.Fatalf("tick within the persist interval was written")
	}
	s.Flush()
	if p.saves != before+1 || p.saves <= saves {
		t.Fatalf("flush did not write held-back state")
	}
}

func TestAbsorbTickSkipsCollectedWindow(t *testing.T) {
	s, clock, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	start := clock.Now()

	clock.Advance(time.Hour)
	if got := s.CollectIncome(); got != 8640 {
		t.Fatalf("collect = %v, want 8640", got)
	}
	s.AbsorbTick(engine.Payout{Delta: 8640, From: start, Until: clock.Now()})
	if s.Coins() != 500+8640 {
		t.Fatalf("coins = %v, collected hour was paid twice", s.Coins())
	}

	// Only the half after the collection point is new.
	mid := clock.Now()
	clock.Advance(30 * time.Minute)
	end := clock.Now()
	s.AbsorbTick(engine.Payout{Delta: 8640, From: mid.Add(-30 * time.Minute), Until: end})
	if !near(s.Coins(), 500+8640+4320) {
		t.Fatalf("coins = %v, want straddling window prorated", s.Coins())
	}
}

func TestCollectBetweenTicksPaysOnce(t *testing.T) {
	s, clock, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)

	tk := engine.NewTicker(engine.TickerOptions{Clock: clock.Now})
	defer tk.Close()
	absorbed := make(chan struct{}, 8)
	tk.Subscribe(func(p engine.Payout) {
		s.AbsorbTick(p)
		absorbed <- struct{}{}
	})
	wait := func() {
		t.Helper()
		select {
		case <-absorbed:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick")
		}
	}

	clock.Advance(time.Hour)
	if got := s.CollectIncome(); got != 8640 {
		t.Fatalf("collect = %v, want 8640", got)
	}
	in, ratio := s.TickInputs()
	tk.Tick(in, ratio)
	wait()
	if s.Coins() != 500+8640 {
		t.Fatalf("coins = %v after collect then tick, want %v", s.Coins(), 500+8640)
	}

	clock.Advance(time.Second)
	in, ratio = s.TickInputs()
	tk.Tick(in, ratio)
	wait()
	if math.Abs(s.Coins()-(500+8640+2.4)) > 0.011 {
		t.Fatalf("coins = %v, want next second paid normally", s.Coins())
	}
	if got := s.CollectIncome(); got != 0 {
		t.Fatalf("collect after tick paid %v again", got)
	}
}

func TestMergeDoesNotDoublePayTickerWindow(t *testing.T) {
	s, clock, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(1, 0, economy.House, 1)
	start := clock.Now()

	clock.Advance(time.Hour)
	if !s.MergeBuildingsAt(0, 0) {
		t.Fatalf("merge failed")
	}
	coins := s.Coins()
	s.AbsorbTick(engine.Payout{Delta: 17280, From: start, Until: clock.Now()})
	if s.Coins() != coins {
		t.Fatalf("coins %v -> %v, merge-collected hour paid again", coins, s.Coins())
	}
}

func TestResetClearsPersistedState(t *testing.T) {
	s, _, p := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.Reset()
	if p.snap != nil {
		t.Fatalf("snapshot not cleared")
	}
	if s.Coins() != 500 || len(s.Buildings()) != 0 || s.Population() != 0 {
		t.Fatalf("reset state wrong")
	}
}

func TestTickInputs(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.AddBuildingAt(0, 0, economy.House, 1)
	s.AddBuildingAt(3, 0, economy.Factory, 2)
	in, ratio := s.TickInputs()
	if len(in) != 2 || in[1].Level != 2 || in[1].Type != economy.Factory {
		t.Fatalf("inputs %+v", in)
	}
	if !near(ratio, 5.0/6.0) {
		t.Fatalf("ratio %v, want 5/6", ratio)
	}
}
