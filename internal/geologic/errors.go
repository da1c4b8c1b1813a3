package geologic

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every error meaning the table cannot be served.
	ErrNotFound = errors.New("table not found")

	ErrNotAccessible = fmt.Errorf("not accessible: %w", ErrNotFound)
	ErrTableNotFound = fmt.Errorf("does not exist: %w", ErrNotFound)
)

// TableError reports a table that is denylisted or absent from the catalog.
type TableError struct {
	Table string
	Kind  error
}

func (e *TableError) Error() string {
	if errors.Is(e.Kind, ErrNotAccessible) {
		return fmt.Sprintf("Table '%s' is not accessible", e.Table)
	}
	return fmt.Sprintf("Table '%s' does not exist", e.Table)
}

func (e *TableError) Unwrap() error { return e.Kind }
