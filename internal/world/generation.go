// World generation. The default mode assigns biomes from a seeded
// Mulberry32 stream; the noise mode samples layered simplex noise.
// Both are fully deterministic for a given seed and radius.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Generation modes.
const (
	ModePRNG  = "prng"
	ModeNoise = "noise"
)

// DefaultSeed matches the seed the city page has always used.
const DefaultSeed = 1337

// GenConfig holds world generation parameters.
type GenConfig struct {
	Radius int    // Hex disk radius
	Seed   int64  // Generator seed; same seed, same world
	Mode   string // ModePRNG or ModeNoise
}

// DefaultGenConfig returns the standard city map configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius: 20,
		Seed:   DefaultSeed,
		Mode:   ModePRNG,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius: 4,
		Seed:   42,
		Mode:   ModePRNG,
	}
}

// Generate builds a hex disk of tiles and tags each with a biome.
func Generate(cfg GenConfig) *Map {
	m := NewMap(cfg.Radius)
	m.Seed = cfg.Seed

	coords := Disk(cfg.Radius)
	var biomes []Biome
	switch cfg.Mode {
	case ModeNoise:
		biomes = noiseBiomes(coords, cfg)
	default:
		biomes = prngBiomes(coords, cfg.Seed)
	}

	for i, c := range coords {
		m.Set(&Tile{ID: c.Key(), Coord: c, Biome: biomes[i]})
	}
	return m
}

// Mulberry32 is a small 32-bit seeded PRNG. Its output sequence is part of
// the world format: changing it changes every generated map.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 seeds a generator. Only the low 32 bits of seed are used.
func NewMulberry32(seed int64) *Mulberry32 {
	return &Mulberry32{state: uint32(seed)}
}

// Uint32 returns the next raw value.
func (g *Mulberry32) Uint32() uint32 {
	g.state += 0x6d2b79f5
	t := g.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return t ^ t>>14
}

// Float64 returns the next value in [0, 1).
func (g *Mulberry32) Float64() float64 {
	return float64(g.Uint32()) / 4294967296
}

// prngBiomes draws one value per tile in disk order.
func prngBiomes(coords []HexCoord, seed int64) []Biome {
	rnd := NewMulberry32(seed)
	out := make([]Biome, len(coords))
	for i := range coords {
		n := rnd.Float64()
		switch {
		case n < 0.12:
			out[i] = BiomeWater
		case n < 0.38:
			out[i] = BiomeGrass
		case n < 0.62:
			out[i] = BiomeForest
		case n < 0.82:
			out[i] = BiomeDesert
		default:
			out[i] = BiomeMountain
		}
	}
	return out
}

// noiseBiomes derives biomes from elevation and moisture layers.
func noiseBiomes(coords []HexCoord, cfg GenConfig) []Biome {
	elevNoise := opensimplex.NewNormalized(cfg.Seed)
	moistNoise := opensimplex.NewNormalized(cfg.Seed + 1)

	out := make([]Biome, len(coords))
	for i, c := range coords {
		// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
		x := float64(c.Q) + float64(c.R)*0.5
		y := float64(c.R) * math.Sqrt(3.0) / 2.0

		elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
		moist := octaveNoise(moistNoise, x, y, 3, 0.06, 0.5)

		switch {
		case elev < 0.3:
			out[i] = BiomeWater
		case elev > 0.75:
			out[i] = BiomeMountain
		case moist < 0.3:
			out[i] = BiomeDesert
		case moist > 0.6:
			out[i] = BiomeForest
		default:
			out[i] = BiomeGrass
		}
	}
	return out
}

// octaveNoise sums several noise octaves, normalized to [0, 1].
func octaveNoise(n opensimplex.Noise, x, y float64, octaves int, freq, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxAmp := 0.0
	for i := 0; i < octaves; i++ {
		total += n.Eval2(x*freq, y*freq) * amplitude
		maxAmp += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return total / maxAmp
}
