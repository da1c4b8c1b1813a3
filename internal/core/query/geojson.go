// Package query assembles PostGIS SQL text and bound arguments for GeoJSON extraction.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mohammed-shakir/geologic-api/internal/core/model"
)

const (
	DefaultLimit    = 100
	DefaultGeometry = "geometry"
	SRIDWGS84       = 4326
)

type Builder struct {
	Descriptor Descriptor
	// OrderBy is the column pages are ordered by; empty orders by ctid.
	OrderBy string
}

// BuildGeoJSON builds a FeatureCollection query using DefaultDescriptor.
func BuildGeoJSON(table, geomColumn string, filters *model.FilterParams) (string, pgx.NamedArgs) {
	return Builder{Descriptor: DefaultDescriptor}.GeoJSON(table, geomColumn, filters)
}

// GeoJSON returns a statement yielding one row with a single json column "geojson".
// table and geomColumn are interpolated as quoted identifiers and must be
// allow-listed by the caller; every filter value is bound.
func (b Builder) GeoJSON(table, geomColumn string, filters *model.FilterParams) (string, pgx.NamedArgs) {
	if geomColumn == "" {
		geomColumn = DefaultGeometry
	}
	desc := b.Descriptor
	if desc == nil {
		desc = DefaultDescriptor
	}

	args := pgx.NamedArgs{}
	var where []string
	if filters != nil {
		conds, condArgs := desc.Conditions(geomColumn, filters)
		where = append(where, conds...)
		for k, v := range condArgs {
			args[k] = v
		}
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	orderBy := "ctid"
	if b.OrderBy != "" {
		orderBy = Ident(b.OrderBy)
	}

	geom := Ident(geomColumn)
	sql := fmt.Sprintf(`SELECT json_build_object(
	'type', 'FeatureCollection',
	'features', COALESCE(json_agg(
		json_build_object(
			'type', 'Feature',
			'geometry', ST_AsGeoJSON(t.%s)::json,
			'properties', to_jsonb(t.*) - @geometry_column::text
		)
	), '[]'::json)
) AS geojson
FROM (
	SELECT * FROM %s
	%s
	ORDER BY %s
	LIMIT @limit OFFSET @offset
) t`, geom, Ident(table), whereClause, orderBy)

	args["geometry_column"] = geomColumn
	args["limit"] = DefaultLimit
	args["offset"] = 0
	if filters != nil {
		if filters.Limit != nil {
			args["limit"] = *filters.Limit
		}
		args["offset"] = filters.Offset
	}
	return sql, args
}

// Conditions builds the WHERE predicates for filters; they are meant to be AND-ed.
func (d Descriptor) Conditions(geomColumn string, f *model.FilterParams) ([]string, pgx.NamedArgs) {
	var conds []string
	args := pgx.NamedArgs{}
	if f == nil {
		return conds, args
	}

	// malformed bbox is skipped, not rejected
	if bb, ok := ParseBBox(f.BBox); ok {
		conds = append(conds, fmt.Sprintf(
			"ST_Intersects(%s, ST_MakeEnvelope(@min_lng, @min_lat, @max_lng, @max_lat, %d))",
			Ident(geomColumn), SRIDWGS84))
		args["min_lng"] = bb.MinLng
		args["min_lat"] = bb.MinLat
		args["max_lng"] = bb.MaxLng
		args["max_lat"] = bb.MaxLat
	}

	if f.Name != "" {
		conds = append(conds, anyOf(d.Columns(CapName), `LOWER(CAST(%s AS TEXT)) LIKE LOWER(@name_pattern)`))
		args["name_pattern"] = "%" + f.Name + "%"
	}
	if f.MapSymbol != "" {
		conds = append(conds, anyOf(d.Columns(CapMapSymbol), `CAST(%s AS TEXT) = @map_symbol`))
		args["map_symbol"] = f.MapSymbol
	}
	if f.FeatureType != "" {
		conds = append(conds, anyOf(d.Columns(CapFeatureType), `CAST(%s AS TEXT) = @feature_type`))
		args["feature_type"] = f.FeatureType
	}
	if f.Region != "" {
		conds = append(conds, anyOf(d.Columns(CapRegion), `CAST(%s AS TEXT) = @region`))
		args["region"] = f.Region
	}
	if f.FanID != nil {
		conds = append(conds, anyOf(d.Columns(CapFanID), `CAST(%s AS INTEGER) = @fan_id`))
		args["fan_id"] = *f.FanID
	}
	return conds, args
}

// ParseBBox parses "min_lng,min_lat,max_lng,max_lat". ok is false on any
// malformed input, including a wrong number of values.
func ParseBBox(raw string) (model.BBox, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.BBox{}, false
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, false
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, false
		}
		v[i] = f
	}
	return model.BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}, true
}

// OR-combine one predicate per candidate column; no candidates matches nothing
func anyOf(cols []string, pattern string) string {
	if len(cols) == 0 {
		return "FALSE"
	}
	preds := make([]string, len(cols))
	for i, c := range cols {
		preds[i] = fmt.Sprintf(pattern, Ident(c))
	}
	return "(" + strings.Join(preds, " OR ") + ")"
}

// Ident quotes a single SQL identifier, doubling embedded quotes.
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
