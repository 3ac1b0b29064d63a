package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/hexcity/internal/cluster"
	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/world"
)

// DefaultQueueSize bounds the requests waiting for the calculator.
const DefaultQueueSize = 64

// Input is the per-building view the ticker needs.
type Input struct {
	ID    string
	Coord world.HexCoord
	economy.Rated
}

// Payout is the coins earned over one tick window.
type Payout struct {
	Delta float64
	From  time.Time
	Until time.Time
}

// Subscriber receives each payout.
type Subscriber func(Payout)

// TickerOptions configure a Ticker.
type TickerOptions struct {
	Cluster    *cluster.Options // nil means cluster.DefaultOptions()
	QueueSize  int              // default DefaultQueueSize
	Calculator Calculator       // default Compute
	Clock      func() time.Time // default time.Now

	// Investments returns positions to accrue on every tick; nil means none.
	Investments func() []Investment
}

// Ticker is the economy pipeline. Tick runs on the caller's goroutine:
// it clusters, prices each building and queues a request. A single worker
// goroutine runs the calculator and fans results out to subscribers in
// queue order.
//
// The ticker is idle until the first Subscribe. When the queue is full a
// tick is skipped and its elapsed time rolls into the next one.
type Ticker struct {
	opts    TickerOptions
	cluster cluster.Options
	cache   cluster.Cache
	jobs    chan Request

	mu      sync.Mutex
	subs    map[int]Subscriber
	nextSub int
	last    time.Time
	running bool
	closed  bool
	carry   float64 // worker-owned

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	issued    atomic.Uint64
	coalesced atomic.Uint64
	lost      atomic.Uint64
}

// NewTicker creates an idle ticker.
func NewTicker(opts TickerOptions) *Ticker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Calculator == nil {
		opts.Calculator = Compute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	copts := cluster.DefaultOptions()
	if opts.Cluster != nil {
		copts = *opts.Cluster
	}
	return &Ticker{
		opts:    opts,
		cluster: copts,
		jobs:    make(chan Request, opts.QueueSize),
		subs:    make(map[int]Subscriber),
		last:    opts.Clock(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Subscribe registers fn for every future payout and returns a function
// that removes it. The first subscription starts the worker.
func (t *Ticker) Subscribe(fn Subscriber) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn

	if !t.running && !t.closed {
		t.running = true
		t.last = t.opts.Clock()
		go t.work()
		slog.Debug("economy ticker running", "queue", cap(t.jobs))
	}

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Running reports whether the worker has started and not been closed.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && !t.closed
}

// Tick prices the buildings and queues a request covering the time since
// the previous queued request.
func (t *Ticker) Tick(buildings []Input, employmentRatio float64) {
	now := t.opts.Clock()

	t.mu.Lock()
	if t.closed || !t.running {
		t.mu.Unlock()
		return
	}
	since := t.last
	t.mu.Unlock()

	if now.Before(since) {
		now = since
	}
	req := Request{
		Buildings: Enrich(buildings, employmentRatio, &t.cache, t.cluster),
		DtMs:      float64(now.Sub(since)) / float64(time.Millisecond),
		From:      since,
		Until:     now,
	}
	if t.opts.Investments != nil {
		req.Investments = t.opts.Investments()
	}

	select {
	case t.jobs <- req:
		t.mu.Lock()
		t.last = now
		t.mu.Unlock()
		t.issued.Add(1)
	default:
		t.coalesced.Add(1)
	}
}

// Enrich clusters the buildings and attaches each one's hourly income.
// A nil cache recomputes from scratch.
func Enrich(buildings []Input, employmentRatio float64, cache *cluster.Cache, opts cluster.Options) []EnrichedBuilding {
	members := make([]cluster.Member, len(buildings))
	for i, b := range buildings {
		members[i] = cluster.Member{ID: b.ID, Type: b.Type, Level: b.Level, Coord: b.Coord}
	}

	var res cluster.Result
	if cache != nil {
		res = cache.Recompute(members, opts)
	} else {
		res = cluster.Recompute(members, opts)
	}

	out := make([]EnrichedBuilding, len(buildings))
	for i, b := range buildings {
		size := res.SizeOf(b.ID)
		iph := economy.IncomePerHour(b.Rated, economy.Modifiers{
			ClusterTileCount: size,
			EmploymentRatio:  employmentRatio,
		})
		out[i] = EnrichedBuilding{
			ID:            b.ID,
			Type:          b.Type,
			Level:         b.Level,
			ClusterSize:   size,
			IncomePerHour: iph,
		}
	}
	return out
}

// Stats reports how many ticks were queued, skipped on a full queue, and
// lost to a failing calculator.
func (t *Ticker) Stats() (issued, coalesced, lost uint64) {
	return t.issued.Load(), t.coalesced.Load(), t.lost.Load()
}

// Close stops the worker. A result still in flight is discarded.
func (t *Ticker) Close() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		running := t.running
		t.mu.Unlock()

		close(t.done)
		if running {
			<-t.stopped
		}
	})
}

func (t *Ticker) work() {
	defer close(t.stopped)
	for {
		select {
		case <-t.done:
			return
		case req := <-t.jobs:
			req.Carry = t.carry
			resp, ok := t.calculate(req)
			if !ok {
				t.lost.Add(1)
				continue
			}
			t.carry = resp.Carry
			t.publish(Payout{Delta: resp.CoinsDelta, From: req.From, Until: req.Until})
		}
	}
}

// calculate runs the calculator, turning a panic into a lost tick.
func (t *Ticker) calculate(req Request) (resp Response, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			slog.Warn("economy calculation failed, tick dropped", "panic", v, "dt_ms", req.DtMs)
			ok = false
		}
	}()
	return t.opts.Calculator(req), true
}

func (t *Ticker) publish(p Payout) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	subs := make([]Subscriber, 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}
