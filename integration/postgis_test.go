//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/core/router"
	"github.com/mohammed-shakir/geologic-api/internal/core/server"
	"github.com/mohammed-shakir/geologic-api/internal/geologic"
	"github.com/mohammed-shakir/geologic-api/internal/photos"
	"github.com/mohammed-shakir/geologic-api/internal/store/postgis"
)

const postgisImage = "postgis/postgis:16-3.4"

const seedSQL = `
CREATE TABLE atlas_maps (
	id SERIAL PRIMARY KEY,
	"NAME" TEXT,
	"MAPSYMBOL" TEXT,
	geom geometry(MultiPolygon, 4326)
);
INSERT INTO atlas_maps ("NAME", "MAPSYMBOL", geom) VALUES
	('Vermilion Cliffs', 'Qal', ST_Multi(ST_MakeEnvelope(-112.5, 36.5, -112.0, 37.0, 4326))),
	('Kaibab Plateau', 'Pk', ST_Multi(ST_MakeEnvelope(-110.0, 35.0, -109.5, 35.5, 4326)));

CREATE TABLE fan_geology (
	id SERIAL PRIMARY KEY,
	"FanID" INTEGER,
	"FEATURETYP" TEXT,
	geometry geometry(Point, 4326)
);
INSERT INTO fan_geology ("FanID", "FEATURETYP", geometry) VALUES
	(4, 'fault', ST_SetSRID(ST_MakePoint(-112.2, 36.7), 4326)),
	(5, 'contact', ST_SetSRID(ST_MakePoint(-112.3, 36.8), 4326)),
	(6, 'fault', ST_SetSRID(ST_MakePoint(-112.4, 36.9), 4326)),
	(7, 'dike', ST_SetSRID(ST_MakePoint(-112.5, 37.0), 4326));

CREATE TABLE photo_panels (
	"ID" INTEGER PRIMARY KEY,
	"NAME" TEXT,
	"PM_NAME" TEXT,
	"Hyperlink" TEXT,
	"MAPSYMBOL" TEXT,
	"STRAT_INTE" TEXT,
	"FEATURETYP" TEXT,
	"LENGTH" NUMERIC,
	geom geometry(Point, 4326)
);
INSERT INTO photo_panels VALUES
	(1, 'Canyon Wall', NULL, 'IMG_001.jpg', 'Qal', 'Holocene', 'outcrop', 12.5, ST_SetSRID(ST_MakePoint(-112.1, 36.6), 4326)),
	(2, NULL, NULL, NULL, NULL, NULL, NULL, NULL, ST_SetSRID(ST_MakePoint(-100.0, 30.0), 4326));

CREATE TABLE photos (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL,
	url TEXT,
	created_at TIMESTAMPTZ DEFAULT now()
);
INSERT INTO photos (id, filename, url) VALUES
	('8d3c0c1e-6b8e-4a57-9c1b-2f0a3c4d5e6f', 'IMG_001.jpg', NULL),
	('1b4e28ba-2fa1-41d2-883f-0016d3cca427', 'IMG_002.jpg', 'https://cdn.example/IMG_002.jpg');
`

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostGIS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgisImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "geo",
				"POSTGRES_PASSWORD": "geo",
				"POSTGRES_DB":       "geologic",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgis: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("postgres://geo:geo@%s:%s/geologic?sslmode=disable", host, port.Port())
}

type env struct {
	h  http.Handler
	db *postgis.Client
}

func setup(t *testing.T) env {
	t.Helper()
	skipIfNoDocker(t)
	dsn := startPostGIS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := postgis.New(ctx, dsn)
	if err != nil {
		t.Fatalf("postgis.New: %v", err)
	}
	t.Cleanup(db.Close)

	rows, err := db.Query(ctx, seedSQL, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.Storage.BaseURL = "https://storage.example/photos"

	catalog := geologic.NewCatalog(db, time.Minute, log)
	geo := geologic.NewService(db, catalog, log)
	ph := photos.NewService(db, catalog, cfg.Storage.BaseURL, log)
	handlers := router.NewHandlers(geo, ph, cfg, log)
	h := server.NewHandler(cfg, log, server.Deps{DB: db, Mount: handlers.Mount})
	return env{h: h, db: db}
}

func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("%s: decode %q: %v", path, rr.Body.String(), err)
	}
	return rr.Code
}

type collection struct {
	Type     string `json:"type"`
	Features []struct {
		Type       string          `json:"type"`
		Geometry   json.RawMessage `json:"geometry"`
		Properties map[string]any  `json:"properties"`
	} `json:"features"`
}

func TestPostGIS_EndToEnd(t *testing.T) {
	e := setup(t)

	t.Run("tables", func(t *testing.T) {
		var body struct {
			Tables []struct {
				Name         string  `json:"name"`
				FeatureCount int64   `json:"feature_count"`
				GeometryType *string `json:"geometry_type"`
			} `json:"tables"`
			Total int `json:"total"`
		}
		if code := getJSON(t, e.h, "/api/v1/geologic/tables", &body); code != http.StatusOK {
			t.Fatalf("status=%d", code)
		}
		if body.Total != len(body.Tables) {
			t.Fatalf("total=%d len=%d", body.Total, len(body.Tables))
		}
		counts := map[string]int64{}
		for _, tb := range body.Tables {
			if tb.Name == "spatial_ref_sys" {
				t.Fatal("system table listed")
			}
			counts[tb.Name] = tb.FeatureCount
		}
		if counts["atlas_maps"] != 2 || counts["fan_geology"] != 4 {
			t.Fatalf("counts=%v", counts)
		}
	})

	t.Run("features honour limit", func(t *testing.T) {
		var fc collection
		if code := getJSON(t, e.h, "/api/v1/geologic/fan_geology?limit=1", &fc); code != http.StatusOK {
			t.Fatalf("status=%d", code)
		}
		if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
			t.Fatalf("fc=%+v", fc)
		}
		if _, ok := fc.Features[0].Properties["geometry"]; ok {
			t.Fatal("geometry column leaked into properties")
		}
	})

	t.Run("pages are disjoint", func(t *testing.T) {
		ids := func(path string) []float64 {
			var fc collection
			if code := getJSON(t, e.h, path, &fc); code != http.StatusOK {
				t.Fatalf("%s: status=%d", path, code)
			}
			out := make([]float64, 0, len(fc.Features))
			for _, f := range fc.Features {
				id, ok := f.Properties["id"].(float64)
				if !ok {
					t.Fatalf("%s: id=%#v", path, f.Properties["id"])
				}
				out = append(out, id)
			}
			return out
		}
		first := ids("/api/v1/geologic/fan_geology?limit=2&offset=0")
		second := ids("/api/v1/geologic/fan_geology?limit=2&offset=2")
		if len(first) != 2 || len(second) != 2 {
			t.Fatalf("page sizes %v %v", first, second)
		}
		for _, a := range first {
			for _, b := range second {
				if a == b {
					t.Fatalf("id %v on both pages: %v %v", a, first, second)
				}
			}
		}
		if first[0] != 1 || first[1] != 2 || second[0] != 3 || second[1] != 4 {
			t.Fatalf("pages not in key order: %v %v", first, second)
		}
	})

	t.Run("filter and bbox", func(t *testing.T) {
		var fc collection
		getJSON(t, e.h, "/api/v1/geologic/atlas_maps/filter?map_symbol=Qal", &fc)
		if len(fc.Features) != 1 || fc.Features[0].Properties["NAME"] != "Vermilion Cliffs" {
			t.Fatalf("filter fc=%+v", fc)
		}
		fc = collection{}
		getJSON(t, e.h, "/api/v1/geologic/atlas_maps/bbox?min_lng=-111&min_lat=34&max_lng=-109&max_lat=36", &fc)
		if len(fc.Features) != 1 || fc.Features[0].Properties["NAME"] != "Kaibab Plateau" {
			t.Fatalf("bbox fc=%+v", fc)
		}
		fc = collection{}
		getJSON(t, e.h, "/api/v1/geologic/fan_geology/filter?fan_id=5&feature_type=contact", &fc)
		if len(fc.Features) != 1 {
			t.Fatalf("fan filter fc=%+v", fc)
		}
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		var fc collection
		getJSON(t, e.h, "/api/v1/geologic/atlas_maps/filter?map_symbol=none", &fc)
		if fc.Features == nil || len(fc.Features) != 0 {
			t.Fatalf("fc=%+v", fc)
		}
	})

	t.Run("unknown and denied tables", func(t *testing.T) {
		var body map[string]any
		if code := getJSON(t, e.h, "/api/v1/geologic/nope", &body); code != http.StatusNotFound {
			t.Fatalf("status=%d body=%v", code, body)
		}
		if code := getJSON(t, e.h, "/api/v1/geologic/spatial_ref_sys", &body); code != http.StatusNotFound ||
			body["detail"] != "Table 'spatial_ref_sys' is not accessible" {
			t.Fatalf("status=%d body=%v", code, body)
		}
	})

	t.Run("photos", func(t *testing.T) {
		var list struct {
			Photos []map[string]any `json:"photos"`
			Total  int              `json:"total"`
		}
		getJSON(t, e.h, "/api/v1/photos", &list)
		if list.Total != 2 || list.Photos[1]["name"] != "Unknown" {
			t.Fatalf("list=%+v", list)
		}

		list.Photos = nil
		getJSON(t, e.h, "/api/v1/photos/bbox?min_lng=-113&min_lat=36&max_lng=-112&max_lat=37", &list)
		if len(list.Photos) != 1 || list.Photos[0]["id"] != float64(1) {
			t.Fatalf("bbox=%+v", list)
		}

		var detail map[string]any
		if code := getJSON(t, e.h, "/api/v1/photos/1", &detail); code != http.StatusOK {
			t.Fatalf("status=%d", code)
		}
		if detail["full_url"] != "https://storage.example/photos/IMG_001.jpg" {
			t.Fatalf("detail=%v", detail)
		}

		var u map[string]any
		if code := getJSON(t, e.h, "/api/v1/photos/2/url", &u); code != http.StatusNotFound {
			t.Fatalf("photo without hyperlink: status=%d body=%v", code, u)
		}
	})

	t.Run("storage", func(t *testing.T) {
		var list struct {
			Photos []map[string]any `json:"photos"`
			Total  int64            `json:"total"`
		}
		getJSON(t, e.h, "/api/v1/photos/storage/list?limit=1", &list)
		if list.Total != 2 || len(list.Photos) != 1 {
			t.Fatalf("list=%+v", list)
		}

		var sp map[string]any
		if code := getJSON(t, e.h, "/api/v1/photos/storage/filename/img_001.JPG", &sp); code != http.StatusOK {
			t.Fatalf("status=%d body=%v", code, sp)
		}
		if sp["url"] != "https://storage.example/photos/IMG_001.jpg" {
			t.Fatalf("sp=%v", sp)
		}
		if code := getJSON(t, e.h, "/api/v1/photos/storage/1b4e28ba-2fa1-41d2-883f-0016d3cca427", &sp); code != http.StatusOK ||
			sp["url"] != "https://cdn.example/IMG_002.jpg" {
			t.Fatalf("status=%d sp=%v", code, sp)
		}
	})

	t.Run("health", func(t *testing.T) {
		var body map[string]any
		getJSON(t, e.h, "/health", &body)
		if body["status"] != "healthy" {
			t.Fatalf("body=%v", body)
		}
	})
}
