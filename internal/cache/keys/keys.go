// Package keys builds Redis keys for cached feature collections.
package keys

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/core/query"
)

const prefix = "geojson"

// Collection returns the key of one table/generation/filter-set combination.
// Equivalent filter sets map to the same key. The readable parts are
// sanitized; the hash suffix covers the raw table name and filter text so
// names that sanitize alike stay distinct.
func Collection(table string, gen int64, f *model.FilterParams) string {
	filterText := Canonical(f)
	filterSafe := sanitize(filterText, true)

	const maxFilterTextLen = 160
	if len(filterSafe) > maxFilterTextLen {
		filterSafe = filterSafe[:maxFilterTextLen]
	}

	sum := xxhash.Sum64String(table + "\x00" + filterText)
	return fmt.Sprintf("%s:%s:g%d:%s:f=%016x", prefix, tableKey(table), gen, filterSafe, sum)
}

// Generation is the counter bumped to invalidate every key of a table.
func Generation(table string) string {
	return fmt.Sprintf("%s:%s:gen:t=%016x", prefix, tableKey(table), xxhash.Sum64String(table))
}

// Canonical renders filters as a sorted query string with defaults applied.
// A malformed bbox is omitted because the query builder ignores it.
func Canonical(f *model.FilterParams) string {
	v := url.Values{}
	limit := query.DefaultLimit
	offset := 0
	if f != nil {
		if f.Limit != nil {
			limit = *f.Limit
		}
		offset = f.Offset
		if bb, ok := query.ParseBBox(f.BBox); ok {
			v.Set("bbox", bb.String())
		}
		if f.Name != "" {
			// the name match is case-insensitive
			v.Set("name", strings.ToLower(f.Name))
		}
		if f.MapSymbol != "" {
			v.Set("map_symbol", f.MapSymbol)
		}
		if f.FeatureType != "" {
			v.Set("feature_type", f.FeatureType)
		}
		if f.Region != "" {
			v.Set("region", f.Region)
		}
		if f.FanID != nil {
			v.Set("fan_id", strconv.Itoa(*f.FanID))
		}
	}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))
	return v.Encode()
}

func tableKey(table string) string {
	return sanitize(table, false)
}

// sanitize maps whitespace to '_' and anything outside [A-Za-z0-9:_-] (plus
// '=' when allowEq) to '-', collapsing repeats.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
