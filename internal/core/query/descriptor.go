package query

import "slices"

// Capability names a filterable attribute whose column spelling varies across tables.
type Capability string

const (
	CapName        Capability = "name"
	CapMapSymbol   Capability = "map_symbol"
	CapFeatureType Capability = "feature_type"
	CapRegion      Capability = "region"
	CapFanID       Capability = "fan_id"
)

// Descriptor maps each capability to the candidate column names tried for it.
type Descriptor map[Capability][]string

// DefaultDescriptor lists every spelling seen across the survey tables.
var DefaultDescriptor = Descriptor{
	CapName:        {"Name", "NAME", "name"},
	CapMapSymbol:   {"MAP_SYMBOL", "MAPSYMBOL", "map_symbol"},
	CapFeatureType: {"FEATURETYP"},
	CapRegion:      {"REGION"},
	CapFanID:       {"FanID"},
}

func (d Descriptor) Columns(c Capability) []string {
	return d[c]
}

// Restrict keeps only the candidate columns present in columns.
// A capability left with no columns stays in the map with an empty list.
func (d Descriptor) Restrict(columns []string) Descriptor {
	out := make(Descriptor, len(d))
	for c, cands := range d {
		kept := make([]string, 0, len(cands))
		for _, col := range cands {
			if slices.Contains(columns, col) {
				kept = append(kept, col)
			}
		}
		out[c] = kept
	}
	return out
}

// KeyColumns are the row identifier spellings, in order of preference.
var KeyColumns = []string{"id", "ID", "OBJECTID", "objectid", "gid", "fid"}

// OrderColumn picks the first key column present in columns, or "" when the
// table has none.
func OrderColumn(columns []string) string {
	for _, c := range KeyColumns {
		if slices.Contains(columns, c) {
			return c
		}
	}
	return ""
}
