package catalog

import (
	"sort"
	"strings"

	"nem_dashboard/internal/model"
)

// Catalog is the DUID reference table. It is immutable once built.
type Catalog struct {
	units      map[string]model.UnitRecord
	order      []string
	duplicates int
}

// New copies units into a catalog keyed by DUID. Later duplicates replace
// earlier ones.
func New(units []model.UnitRecord) *Catalog {
	c := &Catalog{units: make(map[string]model.UnitRecord, len(units))}
	for _, u := range units {
		if _, exists := c.units[u.DUID]; exists {
			c.duplicates++
		} else {
			c.order = append(c.order, u.DUID)
		}
		c.units[u.DUID] = u
	}
	sort.Strings(c.order)
	return c
}

func (c *Catalog) Lookup(duid string) (model.UnitRecord, bool) {
	u, ok := c.units[duid]
	return u, ok
}

func (c *Catalog) Len() int { return len(c.units) }

// Duplicates returns how many rows were shadowed by a later row for the same DUID.
func (c *Catalog) Duplicates() int { return c.duplicates }

// Units returns a copy of all units sorted by DUID.
func (c *Catalog) Units() []model.UnitRecord {
	out := make([]model.UnitRecord, 0, len(c.order))
	for _, duid := range c.order {
		out = append(out, c.units[duid])
	}
	return out
}

// Stations groups DUIDs by station name.
func (c *Catalog) Stations() map[string][]string {
	out := make(map[string][]string)
	for _, duid := range c.order {
		u := c.units[duid]
		if u.StationName == "" {
			continue
		}
		out[u.StationName] = append(out[u.StationName], duid)
	}
	return out
}

// Search returns units whose DUID, station or owner contains query,
// case-insensitively, sorted by station then DUID.
func (c *Catalog) Search(query string) []model.UnitRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []model.UnitRecord
	for _, duid := range c.order {
		u := c.units[duid]
		if strings.Contains(strings.ToLower(u.DUID), q) ||
			strings.Contains(strings.ToLower(u.StationName), q) ||
			strings.Contains(strings.ToLower(u.Owner), q) {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StationName != out[j].StationName {
			return out[i].StationName < out[j].StationName
		}
		return out[i].DUID < out[j].DUID
	})
	return out
}

// CapacityByFuel sums registered capacity per fuel for a region, or for the
// whole market when region is NEM or empty.
func (c *Catalog) CapacityByFuel(region model.Region) map[model.Fuel]float64 {
	out := make(map[model.Fuel]float64)
	for _, u := range c.units {
		if region != "" && region != model.RegionNEM && u.Region != region {
			continue
		}
		if u.CapacityMW > 0 {
			out[u.Fuel] += u.CapacityMW
		}
	}
	return out
}
