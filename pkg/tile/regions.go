package tile

import (
	"errors"
	"fmt"
)

// Bounds is a latitude/longitude rectangle in degrees.
type Bounds struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the point lies inside b (edges inclusive).
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Region is a named area that is downloaded and deleted as one unit.
type Region struct {
	// ID is the stable identifier used as the status record key.
	ID string

	// NameKey is the translation key of the display name.
	NameKey string

	Bounds Bounds

	// MinZoom and MaxZoom form an inclusive zoom range.
	MinZoom int
	MaxZoom int
}

// Validate checks that r is well formed.
func (r Region) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if r.Bounds.MinLat > r.Bounds.MaxLat {
		errs = append(errs, fmt.Errorf("min_lat %v exceeds max_lat %v", r.Bounds.MinLat, r.Bounds.MaxLat))
	}
	if r.Bounds.MinLon > r.Bounds.MaxLon {
		errs = append(errs, fmt.Errorf("min_lon %v exceeds max_lon %v", r.Bounds.MinLon, r.Bounds.MaxLon))
	}
	if r.Bounds.MinLat < -85.0511 || r.Bounds.MaxLat > 85.0511 {
		errs = append(errs, errors.New("latitude outside the Web Mercator range"))
	}
	if r.MinZoom < 0 || r.MaxZoom > 22 || r.MinZoom > r.MaxZoom {
		errs = append(errs, fmt.Errorf("invalid zoom range [%d, %d]", r.MinZoom, r.MaxZoom))
	}
	return errors.Join(errs...)
}

// NepalRegions is the built-in catalog: the seven provinces of Nepal at zoom
// levels 7 to 14.
var NepalRegions = []Region{
	{ID: "province1", NameKey: "province_1", Bounds: Bounds{MinLat: 26.35, MinLon: 86.15, MaxLat: 28.15, MaxLon: 88.20}, MinZoom: 7, MaxZoom: 14},
	{ID: "province2", NameKey: "province_2", Bounds: Bounds{MinLat: 26.35, MinLon: 84.80, MaxLat: 27.25, MaxLon: 86.95}, MinZoom: 7, MaxZoom: 14},
	{ID: "bagmati", NameKey: "province_bagmati", Bounds: Bounds{MinLat: 27.20, MinLon: 83.90, MaxLat: 28.40, MaxLon: 86.55}, MinZoom: 7, MaxZoom: 14},
	{ID: "gandaki", NameKey: "province_gandaki", Bounds: Bounds{MinLat: 27.80, MinLon: 82.85, MaxLat: 29.35, MaxLon: 85.20}, MinZoom: 7, MaxZoom: 14},
	{ID: "lumbini", NameKey: "province_lumbini", Bounds: Bounds{MinLat: 27.35, MinLon: 81.05, MaxLat: 28.85, MaxLon: 84.05}, MinZoom: 7, MaxZoom: 14},
	{ID: "karnali", NameKey: "province_karnali", Bounds: Bounds{MinLat: 28.30, MinLon: 80.95, MaxLat: 30.45, MaxLon: 83.70}, MinZoom: 7, MaxZoom: 14},
	{ID: "sudurpashchim", NameKey: "province_sudurpashchim", Bounds: Bounds{MinLat: 28.35, MinLon: 80.05, MaxLat: 30.15, MaxLon: 81.85}, MinZoom: 7, MaxZoom: 14},
}

// Catalog is an ordered, ID-indexed set of regions.
type Catalog struct {
	order []Region
	byID  map[string]Region
}

// NewCatalog builds a catalog from regions. Later entries replace earlier
// ones with the same ID while keeping the original position.
func NewCatalog(regions ...[]Region) *Catalog {
	c := &Catalog{byID: make(map[string]Region)}
	for _, set := range regions {
		for _, r := range set {
			if _, dup := c.byID[r.ID]; dup {
				for i := range c.order {
					if c.order[i].ID == r.ID {
						c.order[i] = r
					}
				}
			} else {
				c.order = append(c.order, r)
			}
			c.byID[r.ID] = r
		}
	}
	return c
}

// Lookup returns the region with the given id.
func (c *Catalog) Lookup(id string) (Region, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// All returns the regions in catalog order. The slice is a copy.
func (c *Catalog) All() []Region {
	out := make([]Region, len(c.order))
	copy(out, c.order)
	return out
}
