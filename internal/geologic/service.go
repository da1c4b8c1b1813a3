// Package geologic serves any allow-listed PostGIS table as GeoJSON.
package geologic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/core/observability"
	"github.com/mohammed-shakir/geologic-api/internal/core/query"
	"github.com/mohammed-shakir/geologic-api/internal/logger"
	"github.com/mohammed-shakir/geologic-api/internal/store/postgis"
)

// CollectionCache stores computed collections per table and filter set.
// On a miss Get returns a nil collection and the key to Put the result
// under; an empty key means the result must not be stored.
type CollectionCache interface {
	Get(ctx context.Context, table string, f *model.FilterParams) (*model.FeatureCollection, string, error)
	Put(ctx context.Context, key string, fc model.FeatureCollection) error
}

type Service struct {
	db      postgis.Querier
	catalog *Catalog
	cache   CollectionCache
	log     *slog.Logger
}

type Option func(*Service)

// WithCache enables the response cache; nil leaves it disabled.
func WithCache(c CollectionCache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(db postgis.Querier, catalog *Catalog, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{db: db, catalog: catalog, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListTables returns every servable table with a live row count.
// A failed count is reported as zero.
func (s *Service) ListTables(ctx context.Context) ([]model.Table, error) {
	snap, err := s.catalog.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	out := make([]model.Table, 0, len(snap.Tables))
	for _, m := range snap.Tables {
		n, err := s.count(ctx, m.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("list tables: %w", ctx.Err())
			}
			s.log.WarnContext(logger.WithTable(ctx, m.Name), "feature count failed", "err", err)
			observability.IncCountFailure(m.Name)
			n = 0
		}
		out = append(out, tableFromMeta(m, n))
	}
	return out, nil
}

// TableInfo describes one table. It returns nil, nil for denylisted or
// unknown tables and when the row count cannot be read.
func (s *Service) TableInfo(ctx context.Context, name string) (*model.Table, error) {
	if query.Denied(name) {
		return nil, nil
	}
	m, ok, err := s.catalog.Lookup(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	n, err := s.count(ctx, name)
	if err != nil {
		s.log.WarnContext(logger.WithTable(ctx, name), "feature count failed", "err", err)
		observability.IncCountFailure(name)
		return nil, nil
	}
	t := tableFromMeta(m, n)
	return &t, nil
}

// Features runs the GeoJSON query for table with the given filters.
func (s *Service) Features(ctx context.Context, name string, filters *model.FilterParams) (model.FeatureCollection, error) {
	if query.Denied(name) {
		return model.FeatureCollection{}, &TableError{Table: name, Kind: ErrNotAccessible}
	}
	m, ok, err := s.catalog.Lookup(ctx, name)
	if err != nil {
		return model.FeatureCollection{}, fmt.Errorf("resolve table %q: %w", name, err)
	}
	if !ok {
		return model.FeatureCollection{}, &TableError{Table: name, Kind: ErrTableNotFound}
	}

	ctx = logger.WithTable(ctx, name)

	var cacheKey string
	if s.cache != nil {
		fc, key, err := s.cache.Get(ctx, name, filters)
		cacheKey = key
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "collection cache get failed", "err", err)
		case fc != nil:
			return *fc, nil
		}
	}

	if filters != nil && filters.BBox != "" {
		if _, ok := query.ParseBBox(filters.BBox); !ok {
			s.log.DebugContext(ctx, "ignoring malformed bbox", "bbox", filters.BBox)
		}
	}

	b := query.Builder{
		Descriptor: query.DefaultDescriptor.Restrict(m.Columns),
		OrderBy:    query.OrderColumn(m.Columns),
	}
	sql, args := b.GeoJSON(name, m.Geometry(), filters)

	var raw []byte
	if err := s.db.QueryRow(ctx, sql, args).Scan(&raw); err != nil {
		return model.FeatureCollection{}, fmt.Errorf("query features: %w", err)
	}
	fc, err := decodeCollection(raw)
	if err != nil {
		return model.FeatureCollection{}, err
	}

	if cacheKey != "" {
		if err := s.cache.Put(ctx, cacheKey, fc); err != nil {
			s.log.WarnContext(ctx, "collection cache put failed", "err", err)
		}
	}
	return fc, nil
}

func (s *Service) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+query.Ident(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %q: %w", table, err)
	}
	return n, nil
}

func tableFromMeta(m TableMeta, count int64) model.Table {
	return model.Table{
		Name:         m.Name,
		DisplayName:  query.DisplayName(m.Name),
		FeatureCount: count,
		GeometryType: m.GeometryType,
	}
}

// decodeCollection keeps numbers as json.Number so property values round-trip unchanged.
func decodeCollection(raw []byte) (model.FeatureCollection, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.EmptyCollection(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fc model.FeatureCollection
	if err := dec.Decode(&fc); err != nil {
		return model.FeatureCollection{}, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Type == "" {
		fc.Type = model.TypeFeatureCollection
	}
	if fc.Features == nil {
		fc.Features = []model.Feature{}
	}
	for i := range fc.Features {
		if fc.Features[i].Properties == nil {
			fc.Features[i].Properties = map[string]any{}
		}
	}
	return fc, nil
}

// IsNotFound reports whether err means the table cannot be served.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
