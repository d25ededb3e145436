package ingest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"nem_dashboard/internal/model"
)

// GenerationParser parses unit SCADA snapshots.
//
// Expected format (column order and case are free):
//
//	settlementdate,duid,scadavalue
//	2025-03-01 10:05:00,BW01,612.4
type GenerationParser struct {
	Location *time.Location
}

func (p *GenerationParser) Parse(r io.Reader) ([]model.GenerationSample, error) {
	return parseTable(r, SchemaGeneration, func(idx map[string]int, record []string) (model.GenerationSample, error) {
		duid := cell(record, idx["duid"])
		if duid == "" {
			return model.GenerationSample{}, fmt.Errorf("empty duid")
		}
		ts, err := ParseTimestamp(cell(record, idx["settlementdate"]), p.Location)
		if err != nil {
			return model.GenerationSample{}, err
		}
		mw, err := parseFloat(cell(record, idx["scadavalue"]))
		if err != nil {
			return model.GenerationSample{}, fmt.Errorf("parsing scadavalue: %w", err)
		}
		return model.GenerationSample{DUID: duid, Timestamp: ts, MW: mw}, nil
	})
}

// PriceParser parses regional reference price snapshots.
//
//	SETTLEMENTDATE,REGIONID,RRP
//	2025-03-01 10:05:00,NSW1,87.12
type PriceParser struct {
	Location *time.Location
}

func (p *PriceParser) Parse(r io.Reader) ([]model.PriceSample, error) {
	return parseTable(r, SchemaPrice, func(idx map[string]int, record []string) (model.PriceSample, error) {
		region := cell(record, idx["regionid"])
		if region == "" {
			return model.PriceSample{}, fmt.Errorf("empty region")
		}
		ts, err := ParseTimestamp(cell(record, idx["settlementdate"]), p.Location)
		if err != nil {
			return model.PriceSample{}, err
		}
		rrp, err := parseFloat(cell(record, idx["rrp"]))
		if err != nil {
			return model.PriceSample{}, fmt.Errorf("parsing rrp: %w", err)
		}
		return model.PriceSample{Region: model.Region(region), Timestamp: ts, RRP: rrp}, nil
	})
}

// UnitParser parses the DUID reference catalog.
//
//	DUID,Site Name,Owner,Fuel,Region,Capacity(MW)
//	BW01,Bayswater,AGL Energy,Coal,NSW1,685
type UnitParser struct{}

func (p *UnitParser) Parse(r io.Reader) ([]model.UnitRecord, error) {
	return parseTable(r, SchemaUnits, func(idx map[string]int, record []string) (model.UnitRecord, error) {
		duid := cell(record, idx["duid"])
		if duid == "" {
			return model.UnitRecord{}, fmt.Errorf("empty duid")
		}
		region, _ := model.ParseRegion(cell(record, idx["region"]))
		return model.UnitRecord{
			DUID:        duid,
			StationName: cell(record, idx["site name"]),
			Owner:       cell(record, idx["owner"]),
			Fuel:        model.ParseFuel(cell(record, idx["fuel"])),
			Region:      region,
			CapacityMW:  ParseCapacity(cell(record, idx["capacity(mw)"])),
		}, nil
	})
}

// ParseCapacity reads a capacity cell. Ranges "a - b" resolve to their mean;
// anything unparseable is 0, meaning unknown.
func ParseCapacity(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := parseFloat(s); err == nil {
		return v
	}
	lo, hi, ok := strings.Cut(s, "-")
	if !ok || strings.TrimSpace(lo) == "" {
		return 0
	}
	a, err := parseFloat(strings.TrimSpace(lo))
	if err != nil {
		return 0
	}
	b, err := parseFloat(strings.TrimSpace(hi))
	if err != nil {
		return 0
	}
	return (a + b) / 2
}

// TransmissionParser parses interconnector flow snapshots. Limits are optional.
//
//	SETTLEMENTDATE,INTERCONNECTORID,METEREDMWFLOW,IMPORTLIMIT,EXPORTLIMIT
//	2025-03-01 10:05:00,NSW1-QLD1,-412.5,1078,700
type TransmissionParser struct {
	Location *time.Location
}

func (p *TransmissionParser) Parse(r io.Reader) ([]model.TransmissionSample, error) {
	return parseTable(r, SchemaTransmission, func(idx map[string]int, record []string) (model.TransmissionSample, error) {
		id := cell(record, idx["interconnectorid"])
		if id == "" {
			return model.TransmissionSample{}, fmt.Errorf("empty interconnector")
		}
		ts, err := ParseTimestamp(cell(record, idx["settlementdate"]), p.Location)
		if err != nil {
			return model.TransmissionSample{}, err
		}
		flow, err := parseFloat(cell(record, idx["meteredmwflow"]))
		if err != nil {
			return model.TransmissionSample{}, fmt.Errorf("parsing meteredmwflow: %w", err)
		}
		return model.TransmissionSample{
			Interconnector: id,
			Timestamp:      ts,
			MeteredFlowMW:  flow,
			ImportLimitMW:  optionalFloat(record, idx["importlimit"]),
			ExportLimitMW:  optionalFloat(record, idx["exportlimit"]),
		}, nil
	})
}
