package query

import (
	"strings"
	"unicode"
)

// Denylist holds PostGIS system tables never exposed through the API.
var Denylist = map[string]struct{}{
	"spatial_ref_sys":   {},
	"geometry_columns":  {},
	"geography_columns": {},
}

func Denied(table string) bool {
	_, ok := Denylist[table]
	return ok
}

var displayNames = map[string]string{
	"atlas_maps":                  "Atlas Maps",
	"atlasmaps":                   "Atlas Maps (Extended)",
	"fan_geology":                 "Fan Geology",
	"fangeology":                  "Fan Geology (Detailed)",
	"fan_delivery_system":         "Fan Delivery System",
	"fieldtripstops":              "Field Trip Stops",
	"ftrip_m":                     "Field Trip Markers",
	"gis_region_large":            "Large GIS Regions",
	"gis_region_small":            "Small GIS Regions",
	"gradient_regions":            "Gradient Regions",
	"measured_sections_all_areas": "Measured Sections",
	"photo_panels":                "Photo Panels",
	"geospatial_data":             "Geospatial Data (General)",
}

// DisplayName returns the human-readable name of a table.
func DisplayName(table string) string {
	if n, ok := displayNames[table]; ok {
		return n
	}
	return titleCase(strings.ReplaceAll(table, "_", " "))
}

// upper-cases the first letter of every alphabetic run, lower-cases the rest
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
