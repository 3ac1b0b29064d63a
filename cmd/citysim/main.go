// Command citysim runs the hex city economy: it restores the saved city,
// pays offline income, drives the frame-rate income ticker and serves the
// HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/hexcity/internal/api"
	"github.com/talgya/hexcity/internal/config"
	"github.com/talgya/hexcity/internal/engine"
	"github.com/talgya/hexcity/internal/game"
	"github.com/talgya/hexcity/internal/logger"
	"github.com/talgya/hexcity/internal/persistence"
	"github.com/talgya/hexcity/internal/tuning"
	"github.com/talgya/hexcity/internal/world"
)

func main() {
	exportPath := flag.String("export", "", "write a zstd snapshot of the saved city to this path and exit")
	reset := flag.Bool("reset", false, "clear the saved city before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	tun, err := tuning.Load(cfg.Tuning)
	if err != nil {
		slog.Error("failed to load tuning", "path", cfg.Tuning, "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(cfg.Storage.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.DBPath)
	snapshots := persistence.NewSnapshotStore(db)

	if *exportPath != "" {
		code := export(snapshots, *exportPath)
		db.Close()
		os.Exit(code)
	}

	// ── World Map (always regenerated, deterministic from seed) ───────
	worldMap := world.Generate(world.GenConfig{
		Radius: cfg.World.Radius,
		Seed:   cfg.World.Seed,
		Mode:   cfg.World.Mode,
	})
	counts := worldMap.BiomeCounts()
	for _, b := range world.AllBiomes {
		slog.Debug("biome", "type", b, "count", counts[b])
	}
	slog.Info("world ready", "seed", worldMap.Seed, "radius", worldMap.Radius, "tiles", worldMap.TileCount())

	// ── City ──────────────────────────────────────────────────────────
	store := game.Open(snapshots, game.Options{
		Tuning:        tun,
		World:         worldMap,
		CollectOnOpen: !*reset,
	})
	if *reset {
		store.Reset()
		if err := db.ClearCollections(); err != nil {
			slog.Warn("clear payout history failed", "error", err)
		}
		slog.Info("city reset", "coins", store.Coins())
	}
	slog.Info("city ready",
		"coins", humanize.CommafWithDigits(store.Coins(), 2),
		"buildings", len(store.Buildings()),
		"population", store.Population(),
		"jobs", store.Jobs(),
	)

	// ── Economy ───────────────────────────────────────────────────────
	rate := engine.NewRateWindow(tun.RateWindow())
	clusterOpts := tun.ClusterOptions()
	ticker := engine.NewTicker(engine.TickerOptions{
		Cluster:   &clusterOpts,
		QueueSize: tun.TickQueueSize,
	})
	defer ticker.Close()
	ticker.Subscribe(func(p engine.Payout) {
		store.AbsorbTick(p)
		rate.Add(p.Until, p.Delta)
	})

	eng := engine.NewEngine()
	eng.Interval = tun.FrameInterval()
	eng.OnFrame = func(uint64) {
		in, ratio := store.TickInputs()
		ticker.Tick(in, ratio)
	}
	seconds := 0
	eng.OnSecond = func(uint64) {
		// Report once a minute.
		if seconds++; seconds%60 != 0 {
			return
		}
		issued, coalesced, lost := ticker.Stats()
		slog.Info("economy",
			"coins", humanize.CommafWithDigits(store.Coins(), 2),
			"per_second", humanize.FtoaWithDigits(rate.Rate(), 2),
			"buildings", len(store.Buildings()),
			"ticks", humanize.Comma(int64(issued)),
			"coalesced", coalesced,
			"lost", lost,
		)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Store:   store,
		Map:     worldMap,
		Port:    cfg.Server.Port,
		Origins: cfg.Server.CORSOrigins,
		Ticker:  ticker,
		Engine:  eng,
		Rate:    rate,
		DB:      db,
	}
	if cfg.RateLimit.Enabled {
		apiServer.Limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nCity open: %s coins, %d buildings on %d tiles.\n",
		humanize.CommafWithDigits(store.Coins(), 2), len(store.Buildings()), worldMap.TileCount())
	fmt.Printf("API: http://localhost:%s/api/v1/state\n", cfg.Server.Port)

	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	ticker.Close()

	// Final save on shutdown.
	store.Flush()
	fmt.Printf("City closed with %s coins. State saved.\n", humanize.CommafWithDigits(store.Coins(), 2))
}

// export copies the saved city into a compressed snapshot file.
func export(src game.Persister, path string) int {
	snap, err := src.Load()
	if err != nil {
		slog.Error("nothing to export", "error", err)
		return 1
	}
	dst := &persistence.FileStore{Path: path}
	if err := dst.Save(snap); err != nil {
		slog.Error("export failed", "path", path, "error", err)
		return 1
	}
	slog.Info("snapshot exported",
		"path", path,
		"coins", humanize.CommafWithDigits(snap.Coins, 2),
		"buildings", len(snap.Buildings),
	)
	return 0
}
