package proctree

import (
	"fmt"

	"github.com/worldland/gpustats/internal/domain"
)

// Process table sources
const (
	SourcePgrep = "pgrep"
	SourceTable = "table"
)

// NewLister returns the ChildLister for a source name
func NewLister(source string) (domain.ChildLister, error) {
	switch source {
	case SourcePgrep, "":
		return NewPgrepLister(), nil
	case SourceTable:
		return NewTableLister(), nil
	}
	return nil, fmt.Errorf("unknown process source %q (want %q or %q)", source, SourcePgrep, SourceTable)
}
