package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"nem_dashboard/internal/model"
)

// RooftopParser parses the wide rooftop-solar table: one row per timestamp,
// one column per region. Empty cells are skipped so the repair pass sees them
// as gaps.
//
//	settlementdate,NSW1,QLD1,SA1,TAS1,VIC1
//	2025-03-01 10:00:00,2810.2,2544.0,902.3,88.1,1650.7
type RooftopParser struct {
	Location *time.Location
}

func (p *RooftopParser) Parse(r io.Reader) ([]model.RooftopSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cols, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	tsIdx, ok := newHeader(cols).lookup(timestampField)
	if !ok {
		return nil, fmt.Errorf("%s snapshot: missing column %q", SchemaRooftop, timestampField.name)
	}
	regions := rooftopColumns(cols)
	if len(regions) == 0 {
		return nil, fmt.Errorf("%s snapshot: no region columns", SchemaRooftop)
	}

	var samples []model.RooftopSample
	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		ts, err := ParseTimestamp(cell(record, tsIdx), p.Location)
		if err != nil {
			continue
		}
		for _, col := range regions {
			v, err := parseFloat(cell(record, col.pos))
			if err != nil {
				continue
			}
			samples = append(samples, model.RooftopSample{Timestamp: ts, Region: col.region, MW: v})
		}
	}

	return samples, nil
}

type regionColumn struct {
	pos    int
	region model.Region
}

// rooftopColumns returns the region columns of a rooftop header in file order.
func rooftopColumns(cols []string) []regionColumn {
	var out []regionColumn
	for i, c := range cols {
		r, ok := model.ParseRegion(c)
		if ok && r != model.RegionNEM {
			out = append(out, regionColumn{pos: i, region: r})
		}
	}
	return out
}
