package world

import "fmt"

// Biome tags a tile with its land type.
type Biome uint8

const (
	BiomeWater Biome = iota
	BiomeGrass
	BiomeForest
	BiomeDesert
	BiomeMountain
)

var biomeNames = [...]string{"water", "grass", "forest", "desert", "mountain"}

// AllBiomes lists every biome in declaration order.
var AllBiomes = []Biome{BiomeWater, BiomeGrass, BiomeForest, BiomeDesert, BiomeMountain}

// String returns the lowercase biome name.
func (b Biome) String() string {
	if int(b) < len(biomeNames) {
		return biomeNames[b]
	}
	return fmt.Sprintf("biome(%d)", b)
}

// MarshalText encodes the biome by name.
func (b Biome) MarshalText() ([]byte, error) {
	if int(b) >= len(biomeNames) {
		return nil, fmt.Errorf("unknown biome %d", b)
	}
	return []byte(biomeNames[b]), nil
}

// UnmarshalText decodes a biome name.
func (b *Biome) UnmarshalText(text []byte) error {
	biome, err := ParseBiome(string(text))
	if err != nil {
		return err
	}
	*b = biome
	return nil
}

// ParseBiome maps a biome name to its value.
func ParseBiome(name string) (Biome, error) {
	for i, n := range biomeNames {
		if n == name {
			return Biome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown biome %q", name)
}

// Tile is a single hex of the world map.
type Tile struct {
	ID    string   `json:"id"`
	Coord HexCoord `json:"coord"`
	Biome Biome    `json:"biome"`
}

// Map holds the complete hex grid world state.
type Map struct {
	Seed   int64              `json:"seed"`
	Radius int                `json:"radius"`
	Tiles  map[HexCoord]*Tile `json:"-"`
	order  []HexCoord
}

// NewMap creates an empty map with the given radius.
func NewMap(radius int) *Map {
	return &Map{
		Radius: radius,
		Tiles:  make(map[HexCoord]*Tile),
	}
}

// Get returns the tile at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Tile {
	return m.Tiles[coord]
}

// Set places a tile at its coordinate.
func (m *Map) Set(t *Tile) {
	if _, ok := m.Tiles[t.Coord]; !ok {
		m.order = append(m.order, t.Coord)
	}
	m.Tiles[t.Coord] = t
}

// Ordered returns tiles in generation order.
func (m *Map) Ordered() []*Tile {
	out := make([]*Tile, 0, len(m.order))
	for _, c := range m.order {
		out = append(out, m.Tiles[c])
	}
	return out
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return Distance(coord, HexCoord{}) <= m.Radius
}

// Buildable reports whether a building may stand on the coordinate:
// inside the map and not water.
func (m *Map) Buildable(coord HexCoord) bool {
	t := m.Get(coord)
	return t != nil && t.Biome != BiomeWater
}

// TileCount returns the total number of tiles in the map.
func (m *Map) TileCount() int {
	return len(m.Tiles)
}

// BiomeCounts tallies tiles per biome.
func (m *Map) BiomeCounts() map[Biome]int {
	counts := make(map[Biome]int)
	for _, t := range m.Tiles {
		counts[t.Biome]++
	}
	return counts
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(seed=%d, radius=%d, tiles=%d)", m.Seed, m.Radius, m.TileCount())
}
