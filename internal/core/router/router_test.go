package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/geologic"
	"github.com/mohammed-shakir/geologic-api/internal/photos"
)

type fakeGeo struct {
	tables   []model.Table
	info     *model.Table
	fc       model.FeatureCollection
	err      error
	gotTable string
	gotF     *model.FilterParams
}

func (f *fakeGeo) ListTables(context.Context) ([]model.Table, error) { return f.tables, f.err }

func (f *fakeGeo) TableInfo(_ context.Context, name string) (*model.Table, error) {
	f.gotTable = name
	return f.info, f.err
}

func (f *fakeGeo) Features(_ context.Context, name string, fp *model.FilterParams) (model.FeatureCollection, error) {
	f.gotTable, f.gotF = name, fp
	return f.fc, f.err
}

type fakePhotos struct {
	list    []model.Photo
	detail  *model.PhotoDetail
	url     string
	storage []model.StoragePhoto
	one     *model.StoragePhoto
	total   int64
	count   int64
	cntErr  error
	err     error

	gotLimit, gotOffset int
	gotName             string
	gotBBox             model.BBox
	gotKey              string
}

func (f *fakePhotos) List(_ context.Context, limit, offset int, name string) ([]model.Photo, error) {
	f.gotLimit, f.gotOffset, f.gotName = limit, offset, name
	return f.list, f.err
}

func (f *fakePhotos) InBBox(_ context.Context, bb model.BBox, limit, offset int) ([]model.Photo, error) {
	f.gotBBox, f.gotLimit, f.gotOffset = bb, limit, offset
	return f.list, f.err
}

func (f *fakePhotos) Get(context.Context, int64) (*model.PhotoDetail, error) { return f.detail, f.err }
func (f *fakePhotos) URL(context.Context, int64) (string, error)             { return f.url, f.err }

func (f *fakePhotos) ListStorage(_ context.Context, limit, offset int, filename string) ([]model.StoragePhoto, error) {
	f.gotLimit, f.gotOffset, f.gotName = limit, offset, filename
	return f.storage, f.err
}

func (f *fakePhotos) Count(context.Context) (int64, error)                { return f.count, f.cntErr }
func (f *fakePhotos) CountStorage(context.Context, string) (int64, error) { return f.total, f.err }

func (f *fakePhotos) StorageByID(_ context.Context, id string) (*model.StoragePhoto, error) {
	f.gotKey = id
	return f.one, f.err
}

func (f *fakePhotos) StorageByFilename(_ context.Context, name string) (*model.StoragePhoto, error) {
	f.gotKey = name
	return f.one, f.err
}

func newTestRouter(geo *fakeGeo, ph *fakePhotos) http.Handler {
	cfg := config.Defaults()
	r := chi.NewRouter()
	NewHandlers(geo, ph, cfg, nil).Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: body is not a json object: %q", path, rr.Body.String())
	}
	return rr, body
}

func TestRoot(t *testing.T) {
	rr, body := do(t, newTestRouter(&fakeGeo{}, &fakePhotos{}), "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if body["name"] != "Geologic Data API" || body["version"] != "1.0.0" {
		t.Fatalf("body=%v", body)
	}
	eps, ok := body["endpoints"].(map[string]any)
	if !ok || eps["tables"] != "/api/v1/geologic/tables" {
		t.Fatalf("endpoints=%v", body["endpoints"])
	}
}

func TestListTables(t *testing.T) {
	geo := &fakeGeo{tables: []model.Table{{Name: "atlas_maps"}, {Name: "fan_geology"}}}
	rr, body := do(t, newTestRouter(geo, &fakePhotos{}), "/api/v1/geologic/tables")
	if rr.Code != http.StatusOK || body["total"] != float64(2) {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestTableInfo_NotFound(t *testing.T) {
	rr, body := do(t, newTestRouter(&fakeGeo{}, &fakePhotos{}), "/api/v1/geologic/tables/nope")
	if rr.Code != http.StatusNotFound || body["detail"] != "Table 'nope' not found" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
}

func TestFeatures_PassesPagination(t *testing.T) {
	geo := &fakeGeo{fc: model.EmptyCollection()}
	rr, body := do(t, newTestRouter(geo, &fakePhotos{}), "/api/v1/geologic/atlas_maps?limit=5&offset=10")
	if rr.Code != http.StatusOK || body["type"] != "FeatureCollection" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if feats, ok := body["features"].([]any); !ok || len(feats) != 0 {
		t.Fatalf("features=%v", body["features"])
	}
	if geo.gotTable != "atlas_maps" || geo.gotF.Limit == nil || *geo.gotF.Limit != 5 || geo.gotF.Offset != 10 {
		t.Fatalf("table=%q filters=%+v", geo.gotTable, geo.gotF)
	}
}

func TestFeatures_NoLimitIsNil(t *testing.T) {
	geo := &fakeGeo{fc: model.EmptyCollection()}
	if rr, _ := do(t, newTestRouter(geo, &fakePhotos{}), "/api/v1/geologic/atlas_maps"); rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if geo.gotF.Limit != nil {
		t.Fatalf("limit=%v want nil", *geo.gotF.Limit)
	}
}

func TestFeatures_NotFoundAndNotAccessible(t *testing.T) {
	cases := map[string]error{
		"Table 'ghost' does not exist":    &geologic.TableError{Table: "ghost", Kind: geologic.ErrTableNotFound},
		"Table 'ghost' is not accessible": &geologic.TableError{Table: "ghost", Kind: geologic.ErrNotAccessible},
	}
	for want, err := range cases {
		rr, body := do(t, newTestRouter(&fakeGeo{err: err}, &fakePhotos{}), "/api/v1/geologic/ghost")
		if rr.Code != http.StatusNotFound || body["detail"] != want {
			t.Fatalf("status=%d body=%v want %q", rr.Code, body, want)
		}
	}
}

func TestFeatures_QueryErrorPrefixes(t *testing.T) {
	h := newTestRouter(&fakeGeo{err: errors.New("boom")}, &fakePhotos{})
	cases := map[string]string{
		"/api/v1/geologic/atlas_maps":        "Error querying table: boom",
		"/api/v1/geologic/atlas_maps/filter": "Error filtering table: boom",
		"/api/v1/geologic/atlas_maps/bbox?min_lng=-113&min_lat=36&max_lng=-112&max_lat=37": "Error querying bounding box: boom",
	}
	for path, want := range cases {
		rr, body := do(t, h, path)
		if rr.Code != http.StatusInternalServerError || body["detail"] != want {
			t.Fatalf("%s: status=%d body=%v", path, rr.Code, body)
		}
	}
}

func TestFilter_DefaultsAndFilters(t *testing.T) {
	geo := &fakeGeo{fc: model.EmptyCollection()}
	path := "/api/v1/geologic/fan_geology/filter?map_symbol=Qal&fan_id=4&bbox=-113,36,-112,37&name=canyon"
	if rr, _ := do(t, newTestRouter(geo, &fakePhotos{}), path); rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	f := geo.gotF
	if f.Limit == nil || *f.Limit != 100 || f.Offset != 0 {
		t.Fatalf("pagination=%+v", f)
	}
	if f.MapSymbol != "Qal" || f.FanID == nil || *f.FanID != 4 || f.BBox != "-113,36,-112,37" || f.Name != "canyon" {
		t.Fatalf("filters=%+v", f)
	}
}

func TestBBox_BuildsFilter(t *testing.T) {
	geo := &fakeGeo{fc: model.EmptyCollection()}
	path := "/api/v1/geologic/atlas_maps/bbox?min_lng=-113.5&min_lat=36&max_lng=-112&max_lat=37.25&limit=20"
	if rr, _ := do(t, newTestRouter(geo, &fakePhotos{}), path); rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if geo.gotF.BBox != "-113.5,36,-112,37.25" || *geo.gotF.Limit != 20 {
		t.Fatalf("filters=%+v", geo.gotF)
	}
}

func TestValidation_422(t *testing.T) {
	h := newTestRouter(&fakeGeo{}, &fakePhotos{})
	cases := map[string]string{
		"/api/v1/geologic/atlas_maps?limit=abc":                                       "limit must be a valid integer",
		"/api/v1/geologic/atlas_maps?limit=0":                                         "limit must be greater than or equal to 1",
		"/api/v1/geologic/atlas_maps?offset=-1":                                       "offset must be greater than or equal to 0",
		"/api/v1/geologic/atlas_maps/filter?limit=1001":                               "limit must be less than or equal to 1000",
		"/api/v1/geologic/atlas_maps/filter?fan_id=x":                                 "fan_id must be a valid integer",
		"/api/v1/photos/abc":                                                          "photo_id must be a valid integer",
		"/api/v1/photos?limit=5000":                                                   "limit must be less than or equal to 1000",
		"/api/v1/photos/bbox?min_lng=0&min_lat=0&max_lng=1":                           "max_lat is required",
		"/api/v1/geologic/atlas_maps/bbox?min_lng=-181&min_lat=0&max_lng=1&max_lat=1": "min_lng must be greater than or equal to -180",
		"/api/v1/geologic/atlas_maps/bbox?min_lng=0&min_lat=0&max_lng=1&max_lat=91":   "max_lat must be less than or equal to 90",
	}
	for path, want := range cases {
		rr, body := do(t, h, path)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: status=%d body=%v", path, rr.Code, body)
		}
		if d, _ := body["detail"].(string); !strings.Contains(d, want) {
			t.Fatalf("%s: detail=%q want %q", path, d, want)
		}
	}
}

func TestPhotos_ListAndBBox(t *testing.T) {
	ph := &fakePhotos{list: []model.Photo{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}, count: 57}
	h := newTestRouter(&fakeGeo{}, ph)

	rr, body := do(t, h, "/api/v1/photos?name=wall&limit=10&offset=2")
	if rr.Code != http.StatusOK || body["total"] != float64(2) {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if got := rr.Header().Get(TotalCountHeader); got != "57" {
		t.Fatalf("%s=%q want 57", TotalCountHeader, got)
	}
	if ph.gotName != "wall" || ph.gotLimit != 10 || ph.gotOffset != 2 {
		t.Fatalf("args name=%q limit=%d offset=%d", ph.gotName, ph.gotLimit, ph.gotOffset)
	}

	rr, _ = do(t, h, "/api/v1/photos/bbox?min_lng=-113&min_lat=36&max_lng=-112&max_lat=37")
	if rr.Code != http.StatusOK {
		t.Fatalf("bbox status=%d", rr.Code)
	}
	if (ph.gotBBox != model.BBox{MinLng: -113, MinLat: 36, MaxLng: -112, MaxLat: 37}) || ph.gotLimit != 100 {
		t.Fatalf("bbox=%+v limit=%d", ph.gotBBox, ph.gotLimit)
	}
}

func TestPhotos_CountFailureOmitsHeader(t *testing.T) {
	ph := &fakePhotos{list: []model.Photo{{ID: 1}}, cntErr: errors.New("count broke")}
	rr, body := do(t, newTestRouter(&fakeGeo{}, ph), "/api/v1/photos")
	if rr.Code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if got := rr.Header().Get(TotalCountHeader); got != "" {
		t.Fatalf("%s=%q want empty", TotalCountHeader, got)
	}
}

func TestPhotos_NotFoundMessages(t *testing.T) {
	h := newTestRouter(&fakeGeo{}, &fakePhotos{err: photos.ErrNotFound})
	cases := map[string]string{
		"/api/v1/photos/7":                          "Photo with ID 7 not found",
		"/api/v1/photos/7/url":                      "Photo with ID 7 not found or has no hyperlink",
		"/api/v1/photos/storage/abc":                "Photo with ID abc not found in storage",
		"/api/v1/photos/storage/filename/x%20y.jpg": "Photo 'x y.jpg' not found in storage",
	}
	for path, want := range cases {
		rr, body := do(t, h, path)
		if rr.Code != http.StatusNotFound || body["detail"] != want {
			t.Fatalf("%s: status=%d body=%v", path, rr.Code, body)
		}
	}
}

func TestPhotos_DetailAndURL(t *testing.T) {
	ph := &fakePhotos{detail: &model.PhotoDetail{Photo: model.Photo{ID: 7, Name: "Wall"}}, url: "https://cdn/x.jpg"}
	h := newTestRouter(&fakeGeo{}, ph)

	rr, body := do(t, h, "/api/v1/photos/7")
	if rr.Code != http.StatusOK || body["name"] != "Wall" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	rr, body = do(t, h, "/api/v1/photos/7/url")
	if rr.Code != http.StatusOK || body["photo_id"] != float64(7) || body["url"] != "https://cdn/x.jpg" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
}

func TestStorage_ListUsesCountForTotal(t *testing.T) {
	ph := &fakePhotos{storage: []model.StoragePhoto{{ID: "a", Filename: "a.jpg"}}, total: 42}
	rr, body := do(t, newTestRouter(&fakeGeo{}, ph), "/api/v1/photos/storage/list?filename=a&limit=1")
	if rr.Code != http.StatusOK || body["total"] != float64(42) {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if ph.gotName != "a" || ph.gotLimit != 1 {
		t.Fatalf("filename=%q limit=%d", ph.gotName, ph.gotLimit)
	}
}

func TestStorage_StaticRoutesWinOverPhotoID(t *testing.T) {
	ph := &fakePhotos{one: &model.StoragePhoto{ID: "id-1", Filename: "IMG.jpg"}}
	h := newTestRouter(&fakeGeo{}, ph)

	rr, body := do(t, h, "/api/v1/photos/storage/filename/IMG.jpg")
	if rr.Code != http.StatusOK || body["filename"] != "IMG.jpg" || ph.gotKey != "IMG.jpg" {
		t.Fatalf("status=%d body=%v key=%q", rr.Code, body, ph.gotKey)
	}
	rr, _ = do(t, h, "/api/v1/photos/storage/8d3c0c1e-6b8e-4a57-9c1b-2f0a3c4d5e6f")
	if rr.Code != http.StatusOK || ph.gotKey != "8d3c0c1e-6b8e-4a57-9c1b-2f0a3c4d5e6f" {
		t.Fatalf("status=%d key=%q", rr.Code, ph.gotKey)
	}
}

func TestPhotos_InternalError(t *testing.T) {
	rr, body := do(t, newTestRouter(&fakeGeo{}, &fakePhotos{err: errors.New("db gone")}), "/api/v1/photos")
	if rr.Code != http.StatusInternalServerError || body["detail"] != "List photos failed: db gone" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
}

func TestMount_EmptyPrefix(t *testing.T) {
	cfg := config.Defaults()
	cfg.API.Prefix = ""
	r := chi.NewRouter()
	NewHandlers(&fakeGeo{}, &fakePhotos{}, cfg, nil).Mount(r)

	rr, body := do(t, r, "/geologic/tables")
	if rr.Code != http.StatusOK || body["total"] != float64(0) {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
}
