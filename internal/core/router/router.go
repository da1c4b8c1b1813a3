// Package router exposes the geologic and photo services over HTTP.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/geologic"
	"github.com/mohammed-shakir/geologic-api/internal/photos"
)

// TotalCountHeader reports the number of photo panels on photo listings.
const TotalCountHeader = "X-Total-Count"

type GeologicService interface {
	ListTables(ctx context.Context) ([]model.Table, error)
	TableInfo(ctx context.Context, name string) (*model.Table, error)
	Features(ctx context.Context, name string, filters *model.FilterParams) (model.FeatureCollection, error)
}

type PhotoService interface {
	List(ctx context.Context, limit, offset int, name string) ([]model.Photo, error)
	InBBox(ctx context.Context, bb model.BBox, limit, offset int) ([]model.Photo, error)
	Get(ctx context.Context, id int64) (*model.PhotoDetail, error)
	URL(ctx context.Context, id int64) (string, error)
	Count(ctx context.Context) (int64, error)
	ListStorage(ctx context.Context, limit, offset int, filename string) ([]model.StoragePhoto, error)
	CountStorage(ctx context.Context, filename string) (int64, error)
	StorageByID(ctx context.Context, id string) (*model.StoragePhoto, error)
	StorageByFilename(ctx context.Context, filename string) (*model.StoragePhoto, error)
}

type Handlers struct {
	geo    GeologicService
	photos PhotoService
	app    config.AppConfig
	api    config.APIConfig
	log    *slog.Logger
}

func NewHandlers(geo GeologicService, ph PhotoService, cfg config.Config, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{geo: geo, photos: ph, app: cfg.App, api: cfg.API, log: log}
}

// Mount registers the root document and every API route on r.
// Static segments are registered alongside parameters; chi matches them first.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/", h.Root)

	api := func(r chi.Router) {
		r.Route("/geologic", func(r chi.Router) {
			r.Get("/tables", h.ListTables)
			r.Get("/tables/{table_name}", h.TableInfo)
			r.Get("/{table_name}", h.Features)
			r.Get("/{table_name}/filter", h.FilterFeatures)
			r.Get("/{table_name}/bbox", h.BBoxFeatures)
		})
		r.Route("/photos", func(r chi.Router) {
			r.Get("/", h.ListPhotos)
			r.Get("/bbox", h.PhotosInBBox)
			r.Get("/storage/list", h.ListStorage)
			r.Get("/storage/filename/{filename}", h.StorageByFilename)
			r.Get("/storage/{id}", h.StorageByID)
			r.Get("/{photo_id}", h.Photo)
			r.Get("/{photo_id}/url", h.PhotoURL)
		})
	}
	if h.api.Prefix == "" {
		r.Group(api)
		return
	}
	r.Route(h.api.Prefix, api)
}

func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	p := h.api.Prefix
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    h.app.Name,
		"version": h.app.Version,
		"endpoints": map[string]string{
			"tables":          p + "/geologic/tables",
			"table_info":      p + "/geologic/tables/{table_name}",
			"features":        p + "/geologic/{table_name}",
			"filter":          p + "/geologic/{table_name}/filter",
			"bbox":            p + "/geologic/{table_name}/bbox",
			"photos":          p + "/photos",
			"photos_bbox":     p + "/photos/bbox",
			"photo":           p + "/photos/{photo_id}",
			"photo_url":       p + "/photos/{photo_id}/url",
			"storage":         p + "/photos/storage/list",
			"storage_photo":   p + "/photos/storage/{id}",
			"storage_by_name": p + "/photos/storage/filename/{filename}",
			"health":          "/health",
			"metrics":         "/metrics",
		},
	})
}

func (h *Handlers) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.geo.ListTables(r.Context())
	if err != nil {
		h.failed(w, r, "Error listing tables: ", err)
		return
	}
	writeJSON(w, http.StatusOK, model.TableList{Tables: tables, Total: len(tables)})
}

func (h *Handlers) TableInfo(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "table_name")
	t, err := h.geo.TableInfo(r.Context(), name)
	if err != nil {
		h.failed(w, r, "Error querying table: ", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table '%s' not found", name))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) Features(w http.ResponseWriter, r *http.Request) {
	q, err := parseFeatures(r)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	h.serveFeatures(w, r, "Error querying table: ", &model.FilterParams{Limit: q.Limit, Offset: q.Offset})
}

func (h *Handlers) FilterFeatures(w http.ResponseWriter, r *http.Request) {
	q, err := parseFilter(r, h.api.DefaultPageSize, h.api.MaxPageSize)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	h.serveFeatures(w, r, "Error filtering table: ", &model.FilterParams{
		Limit:       &q.Limit,
		Offset:      q.Offset,
		BBox:        q.BBox,
		Name:        q.Name,
		MapSymbol:   q.MapSymbol,
		FeatureType: q.FeatureType,
		Region:      q.Region,
		FanID:       q.FanID,
	})
}

func (h *Handlers) BBoxFeatures(w http.ResponseWriter, r *http.Request) {
	q, err := parseBBoxQuery(r, h.api.DefaultPageSize, h.api.MaxPageSize)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	bb := model.BBox{MinLng: *q.MinLng, MinLat: *q.MinLat, MaxLng: *q.MaxLng, MaxLat: *q.MaxLat}
	h.serveFeatures(w, r, "Error querying bounding box: ", &model.FilterParams{
		Limit:  &q.Limit,
		Offset: q.Offset,
		BBox:   bb.String(),
	})
}

func (h *Handlers) serveFeatures(w http.ResponseWriter, r *http.Request, prefix string, f *model.FilterParams) {
	fc, err := h.geo.Features(r.Context(), pathParam(r, "table_name"), f)
	switch {
	case geologic.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.failed(w, r, prefix, err)
	default:
		writeJSON(w, http.StatusOK, fc)
	}
}

func (h *Handlers) ListPhotos(w http.ResponseWriter, r *http.Request) {
	q, err := parsePage(r, h.api.DefaultPageSize, h.api.MaxPageSize)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	list, err := h.photos.List(r.Context(), q.Limit, q.Offset, newQueryReader(r).str("name"))
	if err != nil {
		h.failed(w, r, "List photos failed: ", err)
		return
	}
	// total stays the page length; the header carries the table size
	if n, err := h.photos.Count(r.Context()); err != nil {
		h.log.WarnContext(r.Context(), "photo count failed", slog.Any("err", err))
	} else {
		w.Header().Set(TotalCountHeader, strconv.FormatInt(n, 10))
	}
	writeJSON(w, http.StatusOK, model.PhotoList{Photos: list, Total: len(list)})
}

func (h *Handlers) PhotosInBBox(w http.ResponseWriter, r *http.Request) {
	q, err := parseBBoxQuery(r, h.api.DefaultPageSize, h.api.MaxPageSize)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	bb := model.BBox{MinLng: *q.MinLng, MinLat: *q.MinLat, MaxLng: *q.MaxLng, MaxLat: *q.MaxLat}
	list, err := h.photos.InBBox(r.Context(), bb, q.Limit, q.Offset)
	if err != nil {
		h.failed(w, r, "Photo bbox query failed: ", err)
		return
	}
	writeJSON(w, http.StatusOK, model.PhotoList{Photos: list, Total: len(list)})
}

func (h *Handlers) Photo(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	p, err := h.photos.Get(r.Context(), id)
	switch {
	case errors.Is(err, photos.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Photo with ID %d not found", id))
	case err != nil:
		h.failed(w, r, "Photo lookup failed: ", err)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *Handlers) PhotoURL(w http.ResponseWriter, r *http.Request) {
	id, err := photoID(r)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	u, err := h.photos.URL(r.Context(), id)
	switch {
	case errors.Is(err, photos.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Photo with ID %d not found or has no hyperlink", id))
	case err != nil:
		h.failed(w, r, "Photo URL lookup failed: ", err)
	default:
		writeJSON(w, http.StatusOK, model.PhotoURL{PhotoID: id, URL: u})
	}
}

func (h *Handlers) ListStorage(w http.ResponseWriter, r *http.Request) {
	q, err := parsePage(r, h.api.DefaultPageSize, h.api.MaxPageSize)
	if err != nil {
		h.failed(w, r, "", err)
		return
	}
	filename := newQueryReader(r).str("filename")
	list, err := h.photos.ListStorage(r.Context(), q.Limit, q.Offset, filename)
	if err != nil {
		h.failed(w, r, "Storage listing failed: ", err)
		return
	}
	total, err := h.photos.CountStorage(r.Context(), filename)
	if err != nil {
		h.failed(w, r, "Storage listing failed: ", err)
		return
	}
	writeJSON(w, http.StatusOK, model.StoragePhotoList{Photos: list, Total: total})
}

func (h *Handlers) StorageByID(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	sp, err := h.photos.StorageByID(r.Context(), id)
	switch {
	case errors.Is(err, photos.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Photo with ID %s not found in storage", id))
	case err != nil:
		h.failed(w, r, "Storage lookup failed: ", err)
	default:
		writeJSON(w, http.StatusOK, sp)
	}
}

func (h *Handlers) StorageByFilename(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "filename")
	sp, err := h.photos.StorageByFilename(r.Context(), name)
	switch {
	case errors.Is(err, photos.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Photo '%s' not found in storage", name))
	case err != nil:
		h.failed(w, r, "Storage lookup failed: ", err)
	default:
		writeJSON(w, http.StatusOK, sp)
	}
}
