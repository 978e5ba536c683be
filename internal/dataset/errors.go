package dataset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecryption covers a missing or wrong password and unreadable workbooks.
	ErrDecryption = errors.New("decrypt workbook")
	ErrSchema     = errors.New("unexpected workbook schema")
)

// SchemaError lists the expected columns that were not found in the header row.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns %s", ErrSchema, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }
