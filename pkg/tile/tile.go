// Package tile implements slippy-map tile addressing: converting geographic
// coordinates into (z, x, y) tile addresses and resolving a tile's fetch URL
// from a template.
//
// URL resolution is deterministic. The same tile always maps to the same URL,
// which makes the URL usable as a cache key across separate download and
// delete runs.
//
// All functions are pure and safe for concurrent use.
package tile

import (
	"math"
	"strconv"
	"strings"
)

// Coord addresses a single tile at zoom level Z.
type Coord struct {
	Z int
	X int
	Y int
}

// String renders the coordinate as "z/x/y".
func (c Coord) String() string {
	return strconv.Itoa(c.Z) + "/" + strconv.Itoa(c.X) + "/" + strconv.Itoa(c.Y)
}

// LonToTileX returns the tile column containing longitude lon at the given zoom.
func LonToTileX(lon float64, zoom int) int {
	return int(math.Floor((lon + 180) / 360 * math.Exp2(float64(zoom))))
}

// LatToTileY returns the tile row containing latitude lat at the given zoom
// using the Web Mercator projection.
func LatToTileY(lat float64, zoom int) int {
	rad := lat * math.Pi / 180
	n := math.Exp2(float64(zoom))
	return int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n))
}

// URL substitutes the {s}, {z}, {x} and {y} placeholders of template for c.
// The subdomain is subdomains[(x+y) mod len(subdomains)]. With no subdomains
// {s} is left untouched.
func URL(template string, subdomains []string, c Coord) string {
	r := []string{
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	}
	if len(subdomains) > 0 {
		idx := (c.X + c.Y) % len(subdomains)
		if idx < 0 {
			idx += len(subdomains)
		}
		r = append(r, "{s}", subdomains[idx])
	}
	return strings.NewReplacer(r...).Replace(template)
}

// ForRegion lists every tile covering r's bounding box for each zoom in
// [r.MinZoom, r.MaxZoom]. The order is z ascending, then x, then y. Column
// bounds come from the west and east longitudes; row bounds from the north
// latitude (smallest y) and the south latitude (largest y). A zoom whose
// ranges are empty contributes nothing.
func ForRegion(r Region) []Coord {
	var out []Coord
	for z := r.MinZoom; z <= r.MaxZoom; z++ {
		minX := LonToTileX(r.Bounds.MinLon, z)
		maxX := LonToTileX(r.Bounds.MaxLon, z)
		minY := LatToTileY(r.Bounds.MaxLat, z)
		maxY := LatToTileY(r.Bounds.MinLat, z)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				out = append(out, Coord{Z: z, X: x, Y: y})
			}
		}
	}
	return out
}

// Count returns len(ForRegion(r)) without allocating the list.
func Count(r Region) int {
	total := 0
	for z := r.MinZoom; z <= r.MaxZoom; z++ {
		w := LonToTileX(r.Bounds.MaxLon, z) - LonToTileX(r.Bounds.MinLon, z) + 1
		h := LatToTileY(r.Bounds.MinLat, z) - LatToTileY(r.Bounds.MaxLat, z) + 1
		if w > 0 && h > 0 {
			total += w * h
		}
	}
	return total
}

// Source describes a tile server: a URL template and its subdomain set.
type Source struct {
	Template   string
	Subdomains []string
}

// OpenStreetMap is the default public tile source.
var OpenStreetMap = Source{
	Template:   "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	Subdomains: []string{"a", "b", "c"},
}

// URL resolves the fetch URL of c on this source.
func (s Source) URL(c Coord) string {
	return URL(s.Template, s.Subdomains, c)
}

// URLs returns the cache keys of every tile in r, in [ForRegion] order.
func (s Source) URLs(r Region) []string {
	coords := ForRegion(r)
	urls := make([]string, len(coords))
	for i, c := range coords {
		urls[i] = s.URL(c)
	}
	return urls
}
