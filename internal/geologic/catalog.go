package geologic

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geologic-api/internal/core/query"
	"github.com/mohammed-shakir/geologic-api/internal/store/postgis"
)

const (
	schemaPublic = "public"

	// a cached snapshot is not reloaded for a missing name more often than this
	minRefreshInterval = 5 * time.Second
)

// TableMeta is what the catalog knows about one servable table.
type TableMeta struct {
	Name           string
	Columns        []string
	GeometryColumn string
	GeometryType   *string
}

// Geometry returns the geometry column, falling back to query.DefaultGeometry.
func (m TableMeta) Geometry() string {
	if m.GeometryColumn == "" {
		return query.DefaultGeometry
	}
	return m.GeometryColumn
}

func (m TableMeta) HasColumn(name string) bool {
	return slices.Contains(m.Columns, name)
}

// Snapshot is one load of the public schema, minus denylisted tables.
type Snapshot struct {
	Tables   []TableMeta
	byName   map[string]int
	LoadedAt time.Time
}

func (s *Snapshot) Lookup(name string) (TableMeta, bool) {
	i, ok := s.byName[name]
	if !ok {
		return TableMeta{}, false
	}
	return s.Tables[i], true
}

const catalogSQL = `SELECT
	t.table_name::text AS table_name,
	gc.f_geometry_column::text AS geometry_column,
	gc.type::text AS geometry_type,
	ARRAY(
		SELECT c.column_name::text
		FROM information_schema.columns c
		WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name
		ORDER BY c.ordinal_position
	) AS columns
FROM information_schema.tables t
LEFT JOIN LATERAL (
	SELECT g.f_geometry_column, g.type
	FROM geometry_columns g
	WHERE g.f_table_schema = t.table_schema AND g.f_table_name = t.table_name
	LIMIT 1
) gc ON TRUE
WHERE t.table_schema = @schema
	AND t.table_type = 'BASE TABLE'
	AND t.table_name::text <> ALL(@denylist::text[])
ORDER BY t.table_name`

// Catalog serves table metadata from a TTL-cached snapshot.
type Catalog struct {
	db    postgis.Querier
	log   *slog.Logger
	cache *expirable.LRU[string, *Snapshot]
	group singleflight.Group
	now   func() time.Time
}

func NewCatalog(db postgis.Querier, ttl time.Duration, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{
		db:    db,
		log:   log,
		cache: expirable.NewLRU[string, *Snapshot](1, nil, ttl),
		now:   time.Now,
	}
}

// Snapshot returns the cached snapshot, loading one when none is cached.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s, ok := c.cache.Get(schemaPublic); ok {
		return s, nil
	}
	return c.Refresh(ctx)
}

// Refresh loads a new snapshot; concurrent callers share one query.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do(schemaPublic, func() (any, error) {
		s, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Add(schemaPublic, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Lookup resolves a table; a name missing from a stale-enough snapshot triggers one reload.
func (c *Catalog) Lookup(ctx context.Context, name string) (TableMeta, bool, error) {
	if query.Denied(name) {
		return TableMeta{}, false, nil
	}
	s, err := c.Snapshot(ctx)
	if err != nil {
		return TableMeta{}, false, err
	}
	if m, ok := s.Lookup(name); ok {
		return m, true, nil
	}
	if c.now().Sub(s.LoadedAt) < minRefreshInterval {
		return TableMeta{}, false, nil
	}
	if s, err = c.Refresh(ctx); err != nil {
		return TableMeta{}, false, err
	}
	m, ok := s.Lookup(name)
	return m, ok, nil
}

// GeometryColumn satisfies the photo service's resolver.
func (c *Catalog) GeometryColumn(ctx context.Context, table string) (string, error) {
	m, ok, err := c.Lookup(ctx, table)
	if err != nil {
		return "", err
	}
	if !ok {
		return query.DefaultGeometry, nil
	}
	return m.Geometry(), nil
}

// Invalidate drops the cached snapshot.
func (c *Catalog) Invalidate() {
	c.cache.Remove(schemaPublic)
}

func (c *Catalog) load(ctx context.Context) (*Snapshot, error) {
	denied := make([]string, 0, len(query.Denylist))
	for name := range query.Denylist {
		denied = append(denied, name)
	}
	slices.Sort(denied)

	rows, err := c.db.Query(ctx, catalogSQL, pgx.NamedArgs{
		"schema":   schemaPublic,
		"denylist": denied,
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	s := &Snapshot{byName: map[string]int{}, LoadedAt: c.now()}
	for rows.Next() {
		var (
			m       TableMeta
			geomCol *string
		)
		if err := rows.Scan(&m.Name, &geomCol, &m.GeometryType, &m.Columns); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if geomCol != nil {
			m.GeometryColumn = *geomCol
		}
		s.byName[m.Name] = len(s.Tables)
		s.Tables = append(s.Tables, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}

	c.log.Debug("catalog loaded", "tables", len(s.Tables))
	return s, nil
}
