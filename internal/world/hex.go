// Package world provides the hex grid math, tiles, and seeded map generation.
// Uses axial coordinates (q, r) with pointy-top hexagons.
package world

import (
	"fmt"
	"math"
	"strings"
)

// HexSize is the hex radius in pixels (centre to corner).
const HexSize = 30.0

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Key returns the "q:r" form used for tile ids.
func (h HexCoord) Key() string {
	return fmt.Sprintf("%d:%d", h.Q, h.R)
}

// Point is a position in pixel/world space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 0, R: 1},
	{Q: -1, R: 1},
	{Q: -1, R: 0},
	{Q: 0, R: -1},
	{Q: 1, R: -1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	return maxAbs(a.Q-b.Q, a.R-b.R, a.S()-b.S())
}

// AxialToPixel converts an axial coordinate to the pixel centre of its hex.
func AxialToPixel(c HexCoord) Point {
	x := HexSize * (math.Sqrt(3)*float64(c.Q) + math.Sqrt(3)/2*float64(c.R))
	y := HexSize * (3.0 / 2.0) * float64(c.R)
	return Point{X: x, Y: y}
}

// HexCenter is AxialToPixel for a bare q, r pair.
func HexCenter(q, r int) Point {
	return AxialToPixel(HexCoord{Q: q, R: r})
}

// HexPolygon returns the six corners of a pointy-top hex, clockwise from
// the upper-right corner.
func HexPolygon(c HexCoord) [6]Point {
	center := AxialToPixel(c)
	var pts [6]Point
	for i := 0; i < 6; i++ {
		angle := math.Pi / 180 * float64(60*i-30)
		pts[i] = Point{
			X: center.X + HexSize*math.Cos(angle),
			Y: center.Y + HexSize*math.Sin(angle),
		}
	}
	return pts
}

// HexPolygonPoints formats HexPolygon as a space separated "x,y" list.
func HexPolygonPoints(c HexCoord) string {
	pts := HexPolygon(c)
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = fmt.Sprintf("%g,%g", p.X, p.Y)
	}
	return strings.Join(parts, " ")
}

// Disk returns every coordinate within the given hex radius of the origin,
// ordered by q then r. A negative radius yields nil.
func Disk(radius int) []HexCoord {
	if radius < 0 {
		return nil
	}
	res := make([]HexCoord, 0, 3*radius*(radius+1)+1)
	for q := -radius; q <= radius; q++ {
		r1 := max(-radius, -q-radius)
		r2 := min(radius, -q+radius)
		for r := r1; r <= r2; r++ {
			res = append(res, HexCoord{Q: q, R: r})
		}
	}
	return res
}

// Bounds is a pixel-space bounding box.
type Bounds struct {
	MinX   float64 `json:"min_x"`
	MaxX   float64 `json:"max_x"`
	MinY   float64 `json:"min_y"`
	MaxY   float64 `json:"max_y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ComputeBounds returns the bounding box of the hex centres. Empty input
// yields a zero Bounds.
func ComputeBounds(coords []HexCoord) Bounds {
	if len(coords) == 0 {
		return Bounds{}
	}
	b := Bounds{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
	}
	for _, c := range coords {
		p := AxialToPixel(c)
		b.MinX = math.Min(b.MinX, p.X)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	b.Width = b.MaxX - b.MinX
	b.Height = b.MaxY - b.MinY
	return b
}

func maxAbs(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}
