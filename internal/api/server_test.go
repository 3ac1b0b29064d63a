package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hexcity/internal/cluster"
	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/engine"
	"github.com/talgya/hexcity/internal/game"
	"github.com/talgya/hexcity/internal/world"
)

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T) (*Server, world.HexCoord) {
	t.Helper()
	m := world.Generate(world.SmallTestConfig())
	var land world.HexCoord
	found := false
	for _, tile := range m.Ordered() {
		if m.Buildable(tile.Coord) {
			land, found = tile.Coord, true
			break
		}
	}
	if !found {
		t.Fatalf("test world has no buildable tile")
	}
	return &Server{
		Store:   game.Open(nil, game.Options{World: m}),
		Map:     m,
		Origins: []string{testOrigin},
	}, land
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	st := decode[stateResponse](t, rec)
	if st.Coins != 500 || st.CoinsDisplay != "500" || len(st.Buildings) != 0 {
		t.Fatalf("state %+v", st)
	}
}

func TestPlaceUpgradeRemove(t *testing.T) {
	srv, land := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/buildings", placeRequest{Q: land.Q, R: land.R, Type: economy.House})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place status %d: %s", rec.Code, rec.Body)
	}
	b := decode[game.Building](t, rec)
	if b.Level != 1 || b.Coord != land {
		t.Fatalf("placed %+v", b)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/buildings/"+b.ID+"/upgrade", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("upgrade status %d: %s", rec.Code, rec.Body)
	}
	if up := decode[game.Building](t, rec); up.Level != 2 {
		t.Fatalf("upgraded to level %d", up.Level)
	}
	if srv.Store.Coins() != 500-100-50 {
		t.Fatalf("coins %v", srv.Store.Coins())
	}

	if rec = do(t, h, http.MethodPost, "/api/v1/buildings/nope/upgrade", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("upgrade unknown status %d", rec.Code)
	}
	srv.Store.Spend(srv.Store.Coins())
	if rec = do(t, h, http.MethodPost, "/api/v1/buildings/"+b.ID+"/upgrade", nil); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("unaffordable upgrade status %d", rec.Code)
	}
	if rec = do(t, h, http.MethodDelete, "/api/v1/buildings/"+b.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	if rec = do(t, h, http.MethodDelete, "/api/v1/buildings/"+b.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status %d", rec.Code)
	}
}

func TestPlaceErrors(t *testing.T) {
	srv, land := newTestServer(t)
	h := srv.Handler()
	if rec := do(t, h, http.MethodPost, "/api/v1/buildings", placeRequest{Q: land.Q, R: land.R, Type: economy.Shop}); rec.Code != http.StatusCreated {
		t.Fatalf("first placement status %d", rec.Code)
	}

	cases := []struct {
		name string
		body any
		want int
	}{
		{"occupied", placeRequest{Q: land.Q, R: land.R, Type: economy.House}, http.StatusConflict},
		{"off map", placeRequest{Q: 50, R: 50, Type: economy.House}, http.StatusUnprocessableEntity},
		{"unknown type", placeRequest{Q: land.Q, R: land.R, Type: "castle"}, http.StatusBadRequest},
		{"bad json", "{not json", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/api/v1/buildings", tc.body); rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body)
			}
		})
	}

	srv.Store.Spend(srv.Store.Coins())
	var other world.HexCoord
	for _, tile := range srv.Map.Ordered() {
		if tile.Coord != land && srv.Map.Buildable(tile.Coord) {
			other = tile.Coord
			break
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/buildings", placeRequest{Q: other.Q, R: other.R, Type: economy.House}); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("broke placement status %d", rec.Code)
	}
}

func TestMergeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Store.AddBuildingAt(0, 0, economy.House, 1)
	srv.Store.AddBuildingAt(1, 0, economy.House, 1)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/merge", coordRequest{Q: 0, R: 0})
	if got := decode[map[string]bool](t, rec); !got["merged"] {
		t.Fatalf("merge response %s", rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/merge", coordRequest{Q: 0, R: 0})
	if got := decode[map[string]bool](t, rec); got["merged"] {
		t.Fatalf("second merge should find no partner")
	}
	if n := len(srv.Store.Buildings()); n != 1 {
		t.Fatalf("buildings %d", n)
	}
}

func TestClusterUpgradeByID(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Store.AddBuildingAt(0, 0, economy.House, 1)
	srv.Store.AddBuildingAt(1, 0, economy.House, 1)
	h := srv.Handler()

	clusters := decode[[]cluster.Cluster](t, do(t, h, http.MethodGet, "/api/v1/clusters", nil))
	if len(clusters) != 1 {
		t.Fatalf("clusters %+v", clusters)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/clusters/upgrade", clusterUpgradeRequest{ClusterID: clusters[0].ID})
	if got := decode[map[string]bool](t, rec); !got["upgraded"] {
		t.Fatalf("upgrade response %s", rec.Body)
	}
	if srv.Store.Coins() != 400 {
		t.Fatalf("coins %v, want 400", srv.Store.Coins())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/clusters/upgrade", clusterUpgradeRequest{ClusterID: "cl_missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown cluster status %d", rec.Code)
	}
}

func TestCollectAndReset(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/collect", nil)
	if got := decode[map[string]float64](t, rec); got["collected"] != 0 || got["coins"] != 500 {
		t.Fatalf("collect response %v", got)
	}

	srv.Store.AddCoins(250)
	rec = do(t, h, http.MethodPost, "/api/v1/reset", nil)
	if got := decode[map[string]float64](t, rec); got["coins"] != 500 {
		t.Fatalf("reset response %v", got)
	}
}

func TestFinanceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/investments", investRequest{Kind: game.Bonds, Amount: 200, RatePerHour: 0.01})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invest status %d: %s", rec.Code, rec.Body)
	}
	inv := decode[game.Investment](t, rec)
	rec = do(t, h, http.MethodPost, "/api/v1/investments/"+inv.ID+"/collect", nil)
	if got := decode[map[string]float64](t, rec); got["payout"] != 200 {
		t.Fatalf("payout %v", got)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/loans", loanRequest{Amount: 1000, RatePerHour: 0})
	if rec.Code != http.StatusCreated {
		t.Fatalf("loan status %d", rec.Code)
	}
	loan := decode[game.Loan](t, rec)
	rec = do(t, h, http.MethodPost, "/api/v1/loans/"+loan.ID+"/pay", map[string]float64{"amount": 400})
	if got := decode[map[string]float64](t, rec); got["remaining"] != 600 {
		t.Fatalf("remaining %v", got)
	}

	if rec = do(t, h, http.MethodPost, "/api/v1/investments", investRequest{Kind: game.Stocks, Amount: -5}); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative investment status %d", rec.Code)
	}
	if rec = do(t, h, http.MethodPost, "/api/v1/loans/missing/pay", map[string]float64{"amount": 1}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown loan status %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/v1/bankruptcy", nil)
	if len(srv.Store.Loans()) != 0 || srv.Store.Coins() != 500 {
		t.Fatalf("bankruptcy did not wipe finances")
	}
}

func TestMapEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/map", nil)
	m := decode[mapResponse](t, rec)
	if m.Radius != 4 || len(m.Tiles) != 61 {
		t.Fatalf("map radius %d tiles %d", m.Radius, len(m.Tiles))
	}
	if m.Bounds.Width <= 0 || m.Bounds.Height <= 0 {
		t.Fatalf("bounds %+v", m.Bounds)
	}
}

func TestRateLimitedActions(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Limiter = NewRateLimiter(1, 2)
	defer srv.Limiter.Close()
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/api/v1/collect", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/v1/collect", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("status %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/state", nil); rec.Code != http.StatusOK {
		t.Fatalf("reads should not be limited, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("clientIP with XFF = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/buildings", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

type streamClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *streamClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *streamClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStreamDeliversDeltas(t *testing.T) {
	srv, _ := newTestServer(t)
	clock := &streamClock{now: time.Unix(1_700_000_000, 0)}
	srv.Ticker = engine.NewTicker(engine.TickerOptions{Clock: clock.Now})
	defer srv.Ticker.Close()
	srv.Store.AddBuildingAt(0, 0, economy.House, 1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	clock.Advance(time.Second)
	in, ratio := srv.Store.TickInputs()
	srv.Ticker.Tick(in, ratio)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if math.Abs(msg.Delta-2.4) > 0.011 {
		t.Fatalf("delta %v, want 2.4", msg.Delta)
	}
	if msg.Coins != 500 {
		t.Fatalf("coins %v", msg.Coins)
	}
}

func TestStreamWithoutTicker(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/stream", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestPauseEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	if rec := do(t, h, http.MethodPost, "/api/v1/pause", pauseRequest{Paused: true}); rec.Code != http.StatusNotFound {
		t.Fatalf("pause without engine status %d", rec.Code)
	}

	srv.Engine = engine.NewEngine()
	h = srv.Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/pause", pauseRequest{Paused: true})
	if rec.Code != http.StatusOK || !decode[pauseRequest](t, rec).Paused {
		t.Fatalf("pause status %d: %s", rec.Code, rec.Body)
	}
	if !srv.Engine.Paused() {
		t.Fatalf("engine not paused")
	}
	if st := decode[stateResponse](t, do(t, h, http.MethodGet, "/api/v1/state", nil)); !st.Paused {
		t.Fatalf("state does not report pause")
	}

	do(t, h, http.MethodPost, "/api/v1/pause", pauseRequest{Paused: false})
	if srv.Engine.Paused() {
		t.Fatalf("engine still paused after resume")
	}
}
