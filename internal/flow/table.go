package flow

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"nem_dashboard/internal/model"
)

// Direction says what a positive metered flow means for a region.
type Direction string

const (
	PositiveExports Direction = "export"
	PositiveImports Direction = "import"
)

// Table maps each region to the interconnectors touching it.
type Table map[model.Region]map[string]Direction

// DefaultTable is the AEMO interconnector layout.
func DefaultTable() Table {
	return Table{
		model.RegionNSW: {
			"NSW1-QLD1": PositiveExports,
			"N-Q-MNSP1": PositiveExports,
			"VIC1-NSW1": PositiveImports,
		},
		model.RegionQLD: {
			"NSW1-QLD1": PositiveImports,
			"N-Q-MNSP1": PositiveImports,
		},
		model.RegionVIC: {
			"VIC1-NSW1": PositiveExports,
			"V-SA":      PositiveExports,
			"V-S-MNSP1": PositiveExports,
			"T-V-MNSP1": PositiveImports,
		},
		model.RegionSA: {
			"V-SA":      PositiveImports,
			"V-S-MNSP1": PositiveImports,
		},
		model.RegionTAS: {
			"T-V-MNSP1": PositiveExports,
		},
	}
}

// Interconnectors lists the links of region in name order.
func (t Table) Interconnectors(region model.Region) []string {
	links := t[region]
	out := make([]string, 0, len(links))
	for id := range links {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type tableFile struct {
	Regions map[string]map[string]string `yaml:"regions"`
}

// LoadTable reads a table from YAML:
//
//	regions:
//	  NSW1:
//	    NSW1-QLD1: export
//	    VIC1-NSW1: import
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading interconnector table: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty interconnector table")
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing interconnector table %s: %w", path, err)
	}

	table := make(Table, len(file.Regions))
	for name, links := range file.Regions {
		region, ok := model.ParseRegion(name)
		if !ok || region == model.RegionNEM {
			return nil, fmt.Errorf("interconnector table: unknown region %q", name)
		}
		table[region] = make(map[string]Direction, len(links))
		for id, dir := range links {
			d := Direction(strings.ToLower(strings.TrimSpace(dir)))
			if d != PositiveExports && d != PositiveImports {
				return nil, fmt.Errorf("interconnector table: %s/%s: direction must be export or import, got %q", name, id, dir)
			}
			table[region][strings.ToUpper(strings.TrimSpace(id))] = d
		}
	}
	return table, nil
}
