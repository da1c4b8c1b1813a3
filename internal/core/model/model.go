// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeFeature           = "Feature"
	TypeFeatureCollection = "FeatureCollection"
)

// BBox is a WGS84 envelope given as min/max longitude and latitude.
type BBox struct {
	MinLng float64 `validate:"gte=-180,lte=180"`
	MinLat float64 `validate:"gte=-90,lte=90"`
	MaxLng float64 `validate:"gte=-180,lte=180"`
	MaxLat float64 `validate:"gte=-90,lte=90"`
}

// String representation matching the bbox query parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// FilterParams carries pagination and attribute filters for a feature query.
// BBox is kept raw; a malformed value is dropped by the query builder.
type FilterParams struct {
	Limit       *int `validate:"omitempty,min=1"`
	Offset      int  `validate:"min=0"`
	BBox        string
	Name        string
	MapSymbol   string
	FeatureType string
	Region      string
	FanID       *int
}

type Table struct {
	Name         string  `json:"name"`
	DisplayName  string  `json:"display_name"`
	FeatureCount int64   `json:"feature_count"`
	GeometryType *string `json:"geometry_type"`
	Description  *string `json:"description"`
}

type TableList struct {
	Tables []Table `json:"tables"`
	Total  int     `json:"total"`
}

type Feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type FeatureCollection struct {
	Type     string         `json:"type"`
	Features []Feature      `json:"features"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EmptyCollection returns a collection whose features encode as [] rather than null.
func EmptyCollection() FeatureCollection {
	return FeatureCollection{Type: TypeFeatureCollection, Features: []Feature{}}
}

type Photo struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Hyperlink     *string         `json:"hyperlink"`
	MapSymbol     *string         `json:"map_symbol"`
	StratInterval *string         `json:"strat_interval"`
	FeatureType   *string         `json:"feature_type"`
	Length        *float64        `json:"length"`
	Geometry      json.RawMessage `json:"geometry"`
}

type PhotoDetail struct {
	Photo
	FullURL    *string        `json:"full_url"`
	Properties map[string]any `json:"properties"`
}

type PhotoList struct {
	Photos []Photo `json:"photos"`
	Total  int     `json:"total"`
}

type PhotoURL struct {
	PhotoID int64  `json:"photo_id"`
	URL     string `json:"url"`
}

// StoragePhoto is a row of the storage-tracking table, unrelated to photo panel geometry.
type StoragePhoto struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	URL       string     `json:"url"`
	CreatedAt *time.Time `json:"created_at"`
}

type StoragePhotoList struct {
	Photos []StoragePhoto `json:"photos"`
	Total  int64          `json:"total"`
}
