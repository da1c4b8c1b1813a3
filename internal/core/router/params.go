package router

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report the query parameter name, not the Go field name
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("query"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidationError is returned for malformed or out-of-range request parameters.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

var messages = map[string]string{
	"required": "%s is required",
}

var messagesWithParam = map[string]string{
	"gte": "%s must be greater than or equal to %s",
	"lte": "%s must be less than or equal to %s",
	"min": "%s must be greater than or equal to %s",
	"max": "%s must be less than or equal to %s",
}

func translate(fe validator.FieldError) string {
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

func validateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	out := &ValidationError{Problems: make([]string, 0, len(ves))}
	for _, fe := range ves {
		out.Problems = append(out.Problems, translate(fe))
	}
	return out
}

// queryReader collects type errors while reading query parameters so that a
// request reports every bad parameter at once.
type queryReader struct {
	q    url.Values
	errs []string
}

func newQueryReader(r *http.Request) *queryReader {
	return &queryReader{q: r.URL.Query()}
}

func (qr *queryReader) raw(name string) (string, bool) {
	v := strings.TrimSpace(qr.q.Get(name))
	return v, v != ""
}

func (qr *queryReader) str(name string) string {
	v, _ := qr.raw(name)
	return v
}

func (qr *queryReader) intPtr(name string) *int {
	v, ok := qr.raw(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		qr.errs = append(qr.errs, name+" must be a valid integer")
		return nil
	}
	return &n
}

func (qr *queryReader) intOr(name string, def int) int {
	if p := qr.intPtr(name); p != nil {
		return *p
	}
	return def
}

func (qr *queryReader) floatPtr(name string) *float64 {
	v, ok := qr.raw(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		qr.errs = append(qr.errs, name+" must be a valid number")
		return nil
	}
	return &f
}

func (qr *queryReader) err() error {
	if len(qr.errs) == 0 {
		return nil
	}
	return &ValidationError{Problems: qr.errs}
}

type featuresQuery struct {
	Limit  *int `query:"limit" validate:"omitempty,min=1"`
	Offset int  `query:"offset" validate:"min=0"`
}

type filterQuery struct {
	Limit       int    `query:"limit" validate:"min=1"`
	Offset      int    `query:"offset" validate:"min=0"`
	BBox        string `query:"bbox"`
	Name        string `query:"name"`
	MapSymbol   string `query:"map_symbol"`
	FeatureType string `query:"feature_type"`
	Region      string `query:"region"`
	FanID       *int   `query:"fan_id"`
}

type bboxQuery struct {
	MinLng *float64 `query:"min_lng" validate:"required,gte=-180,lte=180"`
	MinLat *float64 `query:"min_lat" validate:"required,gte=-90,lte=90"`
	MaxLng *float64 `query:"max_lng" validate:"required,gte=-180,lte=180"`
	MaxLat *float64 `query:"max_lat" validate:"required,gte=-90,lte=90"`
	Limit  int      `query:"limit" validate:"min=1"`
	Offset int      `query:"offset" validate:"min=0"`
}

type pageQuery struct {
	Limit  int `query:"limit" validate:"min=1"`
	Offset int `query:"offset" validate:"min=0"`
}

// checkMax enforces the configured page ceiling, which struct tags cannot carry.
func checkMax(limit, max int) error {
	if limit > max {
		return invalid("limit must be less than or equal to %d", max)
	}
	return nil
}

func parseFeatures(r *http.Request) (featuresQuery, error) {
	qr := newQueryReader(r)
	q := featuresQuery{
		Limit:  qr.intPtr("limit"),
		Offset: qr.intOr("offset", 0),
	}
	if err := qr.err(); err != nil {
		return q, err
	}
	return q, validateStruct(q)
}

func parseFilter(r *http.Request, def, max int) (filterQuery, error) {
	qr := newQueryReader(r)
	q := filterQuery{
		Limit:       qr.intOr("limit", def),
		Offset:      qr.intOr("offset", 0),
		BBox:        qr.str("bbox"),
		Name:        qr.str("name"),
		MapSymbol:   qr.str("map_symbol"),
		FeatureType: qr.str("feature_type"),
		Region:      qr.str("region"),
		FanID:       qr.intPtr("fan_id"),
	}
	if err := qr.err(); err != nil {
		return q, err
	}
	if err := validateStruct(q); err != nil {
		return q, err
	}
	return q, checkMax(q.Limit, max)
}

func parseBBoxQuery(r *http.Request, def, max int) (bboxQuery, error) {
	qr := newQueryReader(r)
	q := bboxQuery{
		MinLng: qr.floatPtr("min_lng"),
		MinLat: qr.floatPtr("min_lat"),
		MaxLng: qr.floatPtr("max_lng"),
		MaxLat: qr.floatPtr("max_lat"),
		Limit:  qr.intOr("limit", def),
		Offset: qr.intOr("offset", 0),
	}
	if err := qr.err(); err != nil {
		return q, err
	}
	if err := validateStruct(q); err != nil {
		return q, err
	}
	return q, checkMax(q.Limit, max)
}

func parsePage(r *http.Request, def, max int) (pageQuery, error) {
	qr := newQueryReader(r)
	q := pageQuery{
		Limit:  qr.intOr("limit", def),
		Offset: qr.intOr("offset", 0),
	}
	if err := qr.err(); err != nil {
		return q, err
	}
	if err := validateStruct(q); err != nil {
		return q, err
	}
	return q, checkMax(q.Limit, max)
}

// pathParam returns the decoded value of a chi URL parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func photoID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(pathParam(r, "photo_id"), 10, 64)
	if err != nil {
		return 0, invalid("photo_id must be a valid integer")
	}
	return id, nil
}
