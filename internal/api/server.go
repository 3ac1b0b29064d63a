// Package api serves the city over HTTP: read endpoints for the client's
// renderer, mutation endpoints for player actions, and a websocket stream
// of coin deltas.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/cors"

	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/engine"
	"github.com/talgya/hexcity/internal/game"
	"github.com/talgya/hexcity/internal/persistence"
	"github.com/talgya/hexcity/internal/world"
)

const maxStreamConns = 8

// Server serves the game state over HTTP.
type Server struct {
	Store   *game.Store
	Map     *world.Map
	Port    string
	Origins []string

	// Optional collaborators. Ticker enables /api/v1/stream, Engine enables
	// /api/v1/pause, Rate reports smoothed coins/second, DB records payouts,
	// Limiter guards the mutating endpoints.
	Ticker  *engine.Ticker
	Engine  *engine.Engine
	Rate    *engine.RateWindow
	DB      *persistence.DB
	Limiter *RateLimiter

	streamConns atomic.Int32
	httpSrv     *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Reads.
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/clusters", s.handleClusters)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/rate", s.handleRate)
	mux.HandleFunc("GET /api/v1/collections", s.handleCollections)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Player actions.
	mux.HandleFunc("POST /api/v1/buildings", s.limited(s.handlePlace))
	mux.HandleFunc("POST /api/v1/buildings/{id}/upgrade", s.limited(s.handleUpgrade))
	mux.HandleFunc("DELETE /api/v1/buildings/{id}", s.limited(s.handleRemove))
	mux.HandleFunc("POST /api/v1/merge", s.limited(s.handleMerge))
	mux.HandleFunc("POST /api/v1/collect", s.limited(s.handleCollect))
	mux.HandleFunc("POST /api/v1/clusters/upgrade", s.limited(s.handleClusterUpgrade))
	mux.HandleFunc("POST /api/v1/reset", s.limited(s.handleReset))
	mux.HandleFunc("POST /api/v1/pause", s.limited(s.handlePause))

	// Finance.
	mux.HandleFunc("POST /api/v1/investments", s.limited(s.handleInvest))
	mux.HandleFunc("POST /api/v1/investments/{id}/collect", s.limited(s.handleCollectInvestment))
	mux.HandleFunc("POST /api/v1/loans", s.limited(s.handleTakeLoan))
	mux.HandleFunc("POST /api/v1/loans/{id}/pay", s.limited(s.handlePayLoan))
	mux.HandleFunc("POST /api/v1/bankruptcy", s.limited(s.handleBankruptcy))

	c := cors.New(cors.Options{
		AllowedOrigins: s.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := ":" + s.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "origins", s.Origins, "rate_limited", s.Limiter != nil)

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for requests in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Limiter != nil {
		s.Limiter.Close()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	if s.Limiter == nil {
		return h
	}
	return RateLimitMiddleware(s.Limiter, h)
}

// ── Reads ──

type stateResponse struct {
	Coins           float64           `json:"coins"`
	CoinsDisplay    string            `json:"coins_display"`
	CoinsPerSecond  float64           `json:"coins_per_second"`
	Paused          bool              `json:"paused"`
	Population      int               `json:"population"`
	Jobs            int               `json:"jobs"`
	EmploymentRatio float64           `json:"employment_ratio"`
	Buildings       []game.Building   `json:"buildings"`
	Investments     []game.Investment `json:"investments"`
	Loans           []game.Loan       `json:"loans"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	coins := s.Store.Coins()
	writeJSON(w, stateResponse{
		Coins:           coins,
		CoinsDisplay:    humanize.CommafWithDigits(coins, 2),
		CoinsPerSecond:  s.rate(),
		Paused:          s.Engine != nil && s.Engine.Paused(),
		Population:      s.Store.Population(),
		Jobs:            s.Store.Jobs(),
		EmploymentRatio: s.Store.EmploymentRatio(),
		Buildings:       s.Store.Buildings(),
		Investments:     s.Store.Investments(),
		Loans:           s.Store.Loans(),
	})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	res := s.Store.Clusters()
	writeJSON(w, res.Clusters)
}

type mapTile struct {
	Q     int         `json:"q"`
	R     int         `json:"r"`
	Biome world.Biome `json:"biome"`
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
}

type mapResponse struct {
	Seed   int64        `json:"seed"`
	Radius int          `json:"radius"`
	Bounds world.Bounds `json:"bounds"`
	Tiles  []mapTile    `json:"tiles"`
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.Map == nil {
		http.Error(w, "no world map", http.StatusNotFound)
		return
	}
	tiles := s.Map.Ordered()
	resp := mapResponse{
		Seed:   s.Map.Seed,
		Radius: s.Map.Radius,
		Tiles:  make([]mapTile, 0, len(tiles)),
	}
	coords := make([]world.HexCoord, 0, len(tiles))
	for _, t := range tiles {
		p := world.AxialToPixel(t.Coord)
		resp.Tiles = append(resp.Tiles, mapTile{Q: t.Coord.Q, R: t.Coord.R, Biome: t.Biome, X: p.X, Y: p.Y})
		coords = append(coords, t.Coord)
	}
	resp.Bounds = world.ComputeBounds(coords)
	writeJSON(w, resp)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]float64{"coins_per_second": s.rate()})
}

func (s *Server) rate() float64 {
	if s.Rate == nil {
		return 0
	}
	return s.Rate.Rate()
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, []persistence.Collection{})
		return
	}
	list, err := s.DB.RecentCollections(50)
	if err != nil {
		slog.Error("recent collections", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

// ── Player actions ──

type coordRequest struct {
	Q int `json:"q"`
	R int `json:"r"`
}

type placeRequest struct {
	Q    int                  `json:"q"`
	R    int                  `json:"r"`
	Type economy.BuildingType `json:"type"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.Store.PlaceBuilding(req.Q, req.R, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("building placed", "type", b.Type, "q", b.Coord.Q, "r", b.Coord.R)
	writeJSONStatus(w, http.StatusCreated, b)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	b, err := s.Store.Upgrade(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !s.Store.RemoveBuilding(r.PathValue("id")) {
		http.Error(w, "building not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req coordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, map[string]bool{"merged": s.Store.MergeBuildingsAt(req.Q, req.R)})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	total := s.Store.CollectIncome()
	if s.DB != nil && total > 0 {
		if err := s.DB.RecordCollection(time.Now(), total, "collect"); err != nil {
			slog.Warn("record collection failed", "error", err)
		}
	}
	writeJSON(w, map[string]float64{"collected": total, "coins": s.Store.Coins()})
}

type clusterUpgradeRequest struct {
	ClusterID string           `json:"cluster_id,omitempty"`
	Tiles     []world.HexCoord `json:"tiles,omitempty"`
	Threshold float64          `json:"threshold,omitempty"`
}

func (s *Server) handleClusterUpgrade(w http.ResponseWriter, r *http.Request) {
	var req clusterUpgradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tiles := req.Tiles
	if req.ClusterID != "" {
		tiles = nil
		res := s.Store.Clusters()
		for _, c := range res.Clusters {
			if c.ID == req.ClusterID {
				tiles = c.Tiles
			}
		}
		if tiles == nil {
			http.Error(w, "cluster not found", http.StatusNotFound)
			return
		}
	}
	writeJSON(w, map[string]bool{"upgraded": s.Store.UpgradeClusterByTiles(tiles, req.Threshold)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.Store.Reset()
	if s.Rate != nil {
		s.Rate.Reset()
	}
	slog.Info("city reset")
	writeJSON(w, map[string]float64{"coins": s.Store.Coins()})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

// handlePause suspends or resumes the frame loop. Income for the paused
// span is paid by the first tick after resuming.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		http.Error(w, "no frame loop", http.StatusNotFound)
		return
	}
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.Engine.SetPaused(req.Paused)
	slog.Info("frame loop", "paused", req.Paused, "frame", s.Engine.Frame())
	writeJSON(w, pauseRequest{Paused: s.Engine.Paused()})
}

// ── Finance ──

type investRequest struct {
	Kind        game.InvestmentKind `json:"kind"`
	Amount      float64             `json:"amount"`
	RatePerHour float64             `json:"rate_per_hour"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inv, err := s.Store.Invest(req.Kind, req.Amount, req.RatePerHour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, inv)
}

func (s *Server) handleCollectInvestment(w http.ResponseWriter, r *http.Request) {
	payout, err := s.Store.CollectInvestment(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.DB != nil {
		if err := s.DB.RecordCollection(time.Now(), payout, "investment"); err != nil {
			slog.Warn("record collection failed", "error", err)
		}
	}
	writeJSON(w, map[string]float64{"payout": payout})
}

type loanRequest struct {
	Amount      float64 `json:"amount"`
	RatePerHour float64 `json:"rate_per_hour"`
}

func (s *Server) handleTakeLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	loan, err := s.Store.TakeLoan(req.Amount, req.RatePerHour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, loan)
}

func (s *Server) handlePayLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	left, err := s.Store.PayLoan(r.PathValue("id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"remaining": left})
}

func (s *Server) handleBankruptcy(w http.ResponseWriter, r *http.Request) {
	s.Store.DeclareBankruptcy()
	if s.Rate != nil {
		s.Rate.Reset()
	}
	slog.Warn("bankruptcy declared")
	writeJSON(w, map[string]float64{"coins": s.Store.Coins()})
}

// ── Helpers ──

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps store errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrOccupied):
		status = http.StatusConflict
	case errors.Is(err, game.ErrNotBuildable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, game.ErrUnknownType), errors.Is(err, game.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrNotFound):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
