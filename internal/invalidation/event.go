// Package invalidation defines the table-change events that retire cached collections.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	// OpReload signals a schema or bulk change; it also drops the table catalog.
	OpReload = "reload"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Table   string    `json:"table"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete, OpReload:
	default:
		return fmt.Errorf("op must be insert|update|delete|reload (got %q)", e.Op)
	}
	if strings.TrimSpace(e.Table) == "" {
		return errors.New("table is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
