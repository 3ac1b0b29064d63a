// Package tuning loads the economy balance knobs from YAML. Every field
// defaults to the shipped game balance, so a missing file or a partial one
// is fine.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexcity/internal/cluster"
	"github.com/talgya/hexcity/internal/economy"
)

// Tuning holds the economy balance knobs.
type Tuning struct {
	StartCoins     float64 `yaml:"start_coins"`
	PlacementCost  float64 `yaml:"placement_cost"`
	UpgradeBase    float64 `yaml:"upgrade_base_cost"`
	UpgradeGrowth  float64 `yaml:"upgrade_growth"`
	MergeThreshold float64 `yaml:"cluster_upgrade_threshold"`

	MaxLevelDelta int    `yaml:"max_level_delta"`
	ClusterAnchor string `yaml:"cluster_anchor"` // "frontier" or "seed"

	// LegacyCollectLevel multiplies collected income by level a second time.
	LegacyCollectLevel bool `yaml:"legacy_collect_level"`

	FrameIntervalMs int `yaml:"frame_interval_ms"`
	TickQueueSize   int `yaml:"tick_queue_size"`
	PersistEveryMs  int `yaml:"persist_every_ms"`
	RateWindowMs    int `yaml:"rate_window_ms"`
}

// Default returns the shipped balance.
func Default() Tuning {
	return Tuning{
		StartCoins:      500,
		PlacementCost:   economy.DefaultPlacementCost,
		UpgradeBase:     economy.UpgradeBaseCost,
		UpgradeGrowth:   economy.UpgradeGrowth,
		MergeThreshold:  0.8,
		MaxLevelDelta:   cluster.DefaultMaxLevelDelta,
		ClusterAnchor:   "frontier",
		FrameIntervalMs: 16,
		TickQueueSize:   64,
		PersistEveryMs:  1000,
		RateWindowMs:    5000,
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults without error.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Validate rejects settings that would break the economy's invariants.
func (t Tuning) Validate() error {
	switch {
	case t.StartCoins < 0:
		return errors.New("start_coins must not be negative")
	case t.UpgradeBase <= 0:
		return errors.New("upgrade_base_cost must be positive")
	case t.UpgradeGrowth <= 1:
		return errors.New("upgrade_growth must be greater than 1")
	case t.MergeThreshold <= 0 || t.MergeThreshold > 1:
		return errors.New("cluster_upgrade_threshold must be in (0, 1]")
	case t.MaxLevelDelta < 0:
		return errors.New("max_level_delta must not be negative")
	}
	if _, err := cluster.ParseAnchor(t.ClusterAnchor); err != nil {
		return err
	}
	return nil
}

// ClusterOptions converts the clustering knobs.
func (t Tuning) ClusterOptions() cluster.Options {
	anchor, _ := cluster.ParseAnchor(t.ClusterAnchor)
	return cluster.Options{MaxLevelDelta: t.MaxLevelDelta, Anchor: anchor}
}

// UpgradeCost prices one level-up from level.
func (t Tuning) UpgradeCost(level int) float64 {
	return economy.UpgradeCostWith(level, t.UpgradeBase, t.UpgradeGrowth)
}

// FrameInterval is the frame loop period.
func (t Tuning) FrameInterval() time.Duration {
	return time.Duration(t.FrameIntervalMs) * time.Millisecond
}

// PersistEvery throttles snapshot writes from tick deltas.
func (t Tuning) PersistEvery() time.Duration {
	return time.Duration(t.PersistEveryMs) * time.Millisecond
}

// RateWindow is the coins/second smoothing span.
func (t Tuning) RateWindow() time.Duration {
	return time.Duration(t.RateWindowMs) * time.Millisecond
}
