// Package photos serves photo panel metadata and the photo storage index.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/core/query"
	"github.com/mohammed-shakir/geologic-api/internal/store/postgis"
)

const (
	PanelsTable  = "photo_panels"
	StorageTable = "photos"

	unknownName = "Unknown"
)

var ErrNotFound = errors.New("photo not found")

// GeometryResolver finds the geometry column of a table.
type GeometryResolver interface {
	GeometryColumn(ctx context.Context, table string) (string, error)
}

type Service struct {
	db      postgis.Querier
	geom    GeometryResolver
	baseURL string
	log     *slog.Logger
}

func NewService(db postgis.Querier, geom GeometryResolver, baseURL string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, geom: geom, baseURL: baseURL, log: log}
}

// List returns panels ordered by ID, optionally filtered by a partial,
// case-insensitive match on NAME or PM_NAME.
func (s *Service) List(ctx context.Context, limit, offset int, name string) ([]model.Photo, error) {
	geom := s.geometryColumn(ctx)
	args := pgx.NamedArgs{"limit": limit, "offset": offset}
	where := ""
	if name != "" {
		where = `WHERE LOWER(CAST(t."NAME" AS TEXT)) LIKE LOWER(@name_pattern) OR LOWER(CAST(t."PM_NAME" AS TEXT)) LIKE LOWER(@name_pattern)`
		args["name_pattern"] = "%" + name + "%"
	}
	sql := fmt.Sprintf(`SELECT %s
FROM %s t
%s
ORDER BY t."ID"
LIMIT @limit OFFSET @offset`, photoColumns(geom), query.Ident(PanelsTable), where)

	return s.queryPhotos(ctx, sql, args)
}

// InBBox returns panels whose geometry intersects bb.
func (s *Service) InBBox(ctx context.Context, bb model.BBox, limit, offset int) ([]model.Photo, error) {
	geom := s.geometryColumn(ctx)
	sql := fmt.Sprintf(`SELECT %s
FROM %s t
WHERE ST_Intersects(t.%s, ST_MakeEnvelope(@min_lng, @min_lat, @max_lng, @max_lat, %d))
ORDER BY t."ID"
LIMIT @limit OFFSET @offset`, photoColumns(geom), query.Ident(PanelsTable), query.Ident(geom), query.SRIDWGS84)

	return s.queryPhotos(ctx, sql, pgx.NamedArgs{
		"min_lng": bb.MinLng,
		"min_lat": bb.MinLat,
		"max_lng": bb.MaxLng,
		"max_lat": bb.MaxLat,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get returns one panel with all of its non-geometry columns as properties.
func (s *Service) Get(ctx context.Context, id int64) (*model.PhotoDetail, error) {
	geom := s.geometryColumn(ctx)
	sql := fmt.Sprintf(`SELECT %s,
	to_jsonb(t.*) - @geometry_column::text AS properties
FROM %s t
WHERE t."ID" = @photo_id`, photoColumns(geom), query.Ident(PanelsTable))

	var (
		p     model.Photo
		props []byte
	)
	err := s.db.QueryRow(ctx, sql, pgx.NamedArgs{"geometry_column": geom, "photo_id": id}).
		Scan(photoDest(&p, &props)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("photo %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %d: %w", id, err)
	}
	normalize(&p)

	d := &model.PhotoDetail{Photo: p, Properties: map[string]any{}}
	if p.Hyperlink != nil {
		d.FullURL = FullURL(s.baseURL, *p.Hyperlink)
	}
	if len(bytes.TrimSpace(props)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(props))
		dec.UseNumber()
		if err := dec.Decode(&d.Properties); err != nil {
			return nil, fmt.Errorf("decode photo %d properties: %w", id, err)
		}
		if d.Properties == nil {
			d.Properties = map[string]any{}
		}
	}
	return d, nil
}

// URL returns the resolved photo URL; a panel without a hyperlink is not found.
func (s *Service) URL(ctx context.Context, id int64) (string, error) {
	sql := fmt.Sprintf(`SELECT CAST("Hyperlink" AS TEXT) FROM %s WHERE "ID" = @photo_id`, query.Ident(PanelsTable))

	var link *string
	err := s.db.QueryRow(ctx, sql, pgx.NamedArgs{"photo_id": id}).Scan(&link)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("photo %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get photo %d url: %w", id, err)
	}
	if link == nil || *link == "" {
		return "", fmt.Errorf("photo %d has no url: %w", id, ErrNotFound)
	}
	return *FullURL(s.baseURL, *link), nil
}

// Count returns the number of rows in the photo panel table.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+query.Ident(PanelsTable)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

// ListStorage pages through the storage index, newest first.
func (s *Service) ListStorage(ctx context.Context, limit, offset int, filename string) ([]model.StoragePhoto, error) {
	where, args := storageFilter(filename)
	args["limit"] = limit
	args["offset"] = offset
	sql := fmt.Sprintf(`SELECT %s
FROM %s
%s
ORDER BY created_at DESC NULLS LAST, filename
LIMIT @limit OFFSET @offset`, storageColumns, query.Ident(StorageTable), where)

	rows, err := s.db.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("list storage photos: %w", err)
	}
	defer rows.Close()

	out := []model.StoragePhoto{}
	for rows.Next() {
		var sp model.StoragePhoto
		if err := rows.Scan(&sp.ID, &sp.Filename, &sp.URL, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan storage photo: %w", err)
		}
		out = append(out, s.withURL(sp))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage photos: %w", err)
	}
	return out, nil
}

// CountStorage counts storage rows matching the same filename filter as ListStorage.
func (s *Service) CountStorage(ctx context.Context, filename string) (int64, error) {
	where, args := storageFilter(filename)
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, query.Ident(StorageTable), where)
	var n int64
	if err := s.db.QueryRow(ctx, sql, args).Scan(&n); err != nil {
		return 0, fmt.Errorf("count storage photos: %w", err)
	}
	return n, nil
}

// StorageByID looks up a storage row by UUID; a malformed id is not found.
func (s *Service) StorageByID(ctx context.Context, id string) (*model.StoragePhoto, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("storage photo %q: %w", id, ErrNotFound)
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = CAST(@id AS uuid)`, storageColumns, query.Ident(StorageTable))
	return s.storageOne(ctx, sql, pgx.NamedArgs{"id": u.String()}, id)
}

// StorageByFilename matches the filename exactly, ignoring case.
func (s *Service) StorageByFilename(ctx context.Context, filename string) (*model.StoragePhoto, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(filename) = LOWER(@filename)
ORDER BY created_at DESC NULLS LAST
LIMIT 1`, storageColumns, query.Ident(StorageTable))
	return s.storageOne(ctx, sql, pgx.NamedArgs{"filename": filename}, filename)
}

func (s *Service) storageOne(ctx context.Context, sql string, args pgx.NamedArgs, key string) (*model.StoragePhoto, error) {
	var sp model.StoragePhoto
	err := s.db.QueryRow(ctx, sql, args).Scan(&sp.ID, &sp.Filename, &sp.URL, &sp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("storage photo %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get storage photo %q: %w", key, err)
	}
	sp = s.withURL(sp)
	return &sp, nil
}

func (s *Service) queryPhotos(ctx context.Context, sql string, args pgx.NamedArgs) ([]model.Photo, error) {
	rows, err := s.db.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	out := []model.Photo{}
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(photoDest(&p, nil)...); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		normalize(&p)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return out, nil
}

func (s *Service) geometryColumn(ctx context.Context) string {
	if s.geom == nil {
		return query.DefaultGeometry
	}
	col, err := s.geom.GeometryColumn(ctx, PanelsTable)
	if err != nil || col == "" {
		if err != nil {
			s.log.WarnContext(ctx, "resolve photo geometry column", "err", err)
		}
		return query.DefaultGeometry
	}
	return col
}

func (s *Service) withURL(sp model.StoragePhoto) model.StoragePhoto {
	if sp.URL == "" && sp.Filename != "" {
		if u := FullURL(s.baseURL, sp.Filename); u != nil {
			sp.URL = *u
		}
	}
	return sp
}

const storageColumns = `id::text, filename, COALESCE(url, ''), created_at`

func storageFilter(filename string) (string, pgx.NamedArgs) {
	args := pgx.NamedArgs{}
	if filename == "" {
		return "", args
	}
	args["filename_pattern"] = "%" + filename + "%"
	return "WHERE LOWER(filename) LIKE LOWER(@filename_pattern)", args
}

func photoColumns(geom string) string {
	return fmt.Sprintf(`CAST(t."ID" AS BIGINT) AS id,
	COALESCE(CAST(t."NAME" AS TEXT), CAST(t."PM_NAME" AS TEXT), '%s') AS name,
	CAST(t."Hyperlink" AS TEXT) AS hyperlink,
	CAST(t."MAPSYMBOL" AS TEXT) AS map_symbol,
	CAST(t."STRAT_INTE" AS TEXT) AS strat_interval,
	CAST(t."FEATURETYP" AS TEXT) AS feature_type,
	CAST(t."LENGTH" AS DOUBLE PRECISION) AS length,
	ST_AsGeoJSON(t.%s)::json AS geometry`, unknownName, query.Ident(geom))
}

// scan targets in photoColumns order; props is appended when non-nil
func photoDest(p *model.Photo, props *[]byte) []any {
	dest := []any{
		&p.ID, &p.Name, &p.Hyperlink, &p.MapSymbol, &p.StratInterval,
		&p.FeatureType, &p.Length, (*[]byte)(&p.Geometry),
	}
	if props != nil {
		dest = append(dest, props)
	}
	return dest
}

func normalize(p *model.Photo) {
	if p.Name == "" {
		p.Name = unknownName
	}
}

// FullURL resolves a stored hyperlink against the storage base URL.
// Absolute http(s) links and an empty base leave the hyperlink unchanged.
func FullURL(base, hyperlink string) *string {
	if hyperlink == "" {
		return nil
	}
	if strings.HasPrefix(hyperlink, "http://") || strings.HasPrefix(hyperlink, "https://") || base == "" {
		return &hyperlink
	}
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(hyperlink, "/")
	return &u
}
