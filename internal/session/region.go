package session

import "github.com/cory-johannsen/lobby/internal/transport"

// RegionCatalog is an immutable snapshot of a discovery response.
// A new response replaces the catalog; entries are never merged.
type RegionCatalog struct {
	regions []transport.Region
	byCode  map[string]int
}

// NewRegionCatalog copies regions into a catalog, preserving their order.
// When a code repeats, the first occurrence wins.
//
// Postcondition: Returns a non-nil catalog (possibly empty).
func NewRegionCatalog(regions []transport.Region) *RegionCatalog {
	c := &RegionCatalog{
		regions: make([]transport.Region, 0, len(regions)),
		byCode:  make(map[string]int, len(regions)),
	}
	for _, r := range regions {
		if _, dup := c.byCode[r.Code]; dup {
			continue
		}
		c.byCode[r.Code] = len(c.regions)
		c.regions = append(c.regions, r)
	}
	return c
}

// Len returns the number of regions.
func (c *RegionCatalog) Len() int {
	return len(c.regions)
}

// Regions returns a copy of the regions in discovery order.
func (c *RegionCatalog) Regions() []transport.Region {
	out := make([]transport.Region, len(c.regions))
	copy(out, c.regions)
	return out
}

// Lookup returns the region with the given code.
//
// Postcondition: Returns (region, true) if found, or (zero, false) otherwise.
func (c *RegionCatalog) Lookup(code string) (transport.Region, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return transport.Region{}, false
	}
	return c.regions[i], true
}

// Best returns the region with the lowest observed latency. Regions without
// a measurement are only chosen when none has one.
//
// Postcondition: Returns (region, false) only when the catalog is empty.
func (c *RegionCatalog) Best() (transport.Region, bool) {
	if len(c.regions) == 0 {
		return transport.Region{}, false
	}
	best := c.regions[0]
	for _, r := range c.regions[1:] {
		switch {
		case !r.HasLatency():
		case !best.HasLatency(), r.Latency < best.Latency:
			best = r
		}
	}
	return best, true
}
