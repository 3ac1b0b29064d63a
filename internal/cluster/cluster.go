// Package cluster groups adjacent buildings of the same type and similar
// level into connected components on the hex grid.
//
// Clusters are a view: they are recomputed from the full building list on
// every call and never patched incrementally.
package cluster

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/hexcity/internal/economy"
	"github.com/talgya/hexcity/internal/world"
)

// DefaultMaxLevelDelta is the largest level gap allowed between neighbours.
const DefaultMaxLevelDelta = 1

// Anchor selects which level a candidate neighbour is compared against.
type Anchor uint8

const (
	// AnchorFrontier compares against the building the search is expanding
	// from, so gradually drifting levels chain into one cluster.
	AnchorFrontier Anchor = iota
	// AnchorSeed compares against the first building of the cluster.
	AnchorSeed
)

// ParseAnchor maps "frontier" or "seed" to an Anchor.
func ParseAnchor(s string) (Anchor, error) {
	switch s {
	case "", "frontier":
		return AnchorFrontier, nil
	case "seed":
		return AnchorSeed, nil
	}
	return AnchorFrontier, fmt.Errorf("unknown cluster anchor %q", s)
}

// Options tune the adjacency rule.
type Options struct {
	MaxLevelDelta int
	Anchor        Anchor
}

// DefaultOptions returns delta 1 with frontier anchoring.
func DefaultOptions() Options {
	return Options{MaxLevelDelta: DefaultMaxLevelDelta, Anchor: AnchorFrontier}
}

// Member is the part of a building the clustering reads.
type Member struct {
	ID    string
	Type  economy.BuildingType
	Level int
	Coord world.HexCoord
}

// Cluster is one connected component.
type Cluster struct {
	ID       string               `json:"id"`
	Type     economy.BuildingType `json:"type"`
	Level    int                  `json:"level"`
	Tiles    []world.HexCoord     `json:"tiles"`
	Centroid world.HexCoord       `json:"centroid"`
}

// Size returns the number of member tiles.
func (c *Cluster) Size() int {
	return len(c.Tiles)
}

// Result is a full partition of the building list.
type Result struct {
	Clusters   []Cluster         `json:"clusters"`
	ByBuilding map[string]string `json:"by_building"` // building ID → cluster ID
	index      map[string]int
}

// ClusterOf returns the cluster containing the building, or nil.
func (r *Result) ClusterOf(buildingID string) *Cluster {
	id, ok := r.ByBuilding[buildingID]
	if !ok {
		return nil
	}
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return &r.Clusters[i]
}

// SizeOf returns the tile count of the building's cluster, 1 if unknown.
func (r *Result) SizeOf(buildingID string) int {
	if c := r.ClusterOf(buildingID); c != nil {
		return c.Size()
	}
	return 1
}

// Recompute partitions members into maximal clusters. Each member lands in
// exactly one cluster; isolated members form singletons. Members sharing a
// coordinate are a caller bug; the last one listed wins the tile.
func Recompute(members []Member, opts Options) Result {
	byCoord := make(map[world.HexCoord]*Member, len(members))
	for i := range members {
		byCoord[members[i].Coord] = &members[i]
	}

	visited := make(map[world.HexCoord]bool, len(members))
	res := Result{
		ByBuilding: make(map[string]string, len(members)),
		index:      make(map[string]int),
	}

	for i := range members {
		seed := byCoord[members[i].Coord]
		if visited[seed.Coord] {
			continue
		}

		id := fmt.Sprintf("cl_%s_%d_%d_%s", seed.Type, seed.Coord.Q, seed.Coord.R, uuid.NewString()[:8])
		stack := []*Member{seed}
		var tiles []world.HexCoord
		levelSum, qSum, rSum := 0, 0, 0

		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur.Coord] {
				continue
			}
			visited[cur.Coord] = true

			tiles = append(tiles, cur.Coord)
			levelSum += cur.Level
			qSum += cur.Coord.Q
			rSum += cur.Coord.R
			res.ByBuilding[cur.ID] = id

			ref := cur.Level
			if opts.Anchor == AnchorSeed {
				ref = seed.Level
			}
			for _, nc := range cur.Coord.Neighbors() {
				nb, ok := byCoord[nc]
				if !ok || visited[nc] {
					continue
				}
				if nb.Type != seed.Type {
					continue
				}
				if abs(nb.Level-ref) > opts.MaxLevelDelta {
					continue
				}
				stack = append(stack, nb)
			}
		}

		n := float64(len(tiles))
		res.index[id] = len(res.Clusters)
		res.Clusters = append(res.Clusters, Cluster{
			ID:    id,
			Type:  seed.Type,
			Level: roundHalfUp(float64(levelSum) / n),
			Tiles: tiles,
			Centroid: world.HexCoord{
				Q: roundHalfUp(float64(qSum) / n),
				R: roundHalfUp(float64(rSum) / n),
			},
		})
	}

	return res
}

// roundHalfUp rounds halves toward +Inf.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
