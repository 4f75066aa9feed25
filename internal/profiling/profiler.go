// Package profiling computes per-column summary statistics of a staged file.
package profiling

import (
	"context"
	"time"
)

// ColumnSummary is the profile of one column. Statistic values are kept as
// strings because their type follows the column type.
type ColumnSummary struct {
	Name           string   `json:"column_name"`
	Type           string   `json:"column_type"`
	Min            *string  `json:"min,omitempty"`
	Max            *string  `json:"max,omitempty"`
	ApproxUnique   int64    `json:"approx_unique"`
	Avg            *string  `json:"avg,omitempty"`
	Std            *string  `json:"std,omitempty"`
	Q25            *string  `json:"q25,omitempty"`
	Q50            *string  `json:"q50,omitempty"`
	Q75            *string  `json:"q75,omitempty"`
	Count          int64    `json:"count"`
	NullPercentage *float64 `json:"null_percentage,omitempty"`
}

// Report is the profiling artifact for one file version
type Report struct {
	Filename        string          `json:"filename"`
	FilenameVersion string          `json:"filename_version"`
	RowCount        int64           `json:"row_count"`
	Columns         []ColumnSummary `json:"columns"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Profiler summarizes the delimited file at path
type Profiler interface {
	Profile(ctx context.Context, path string) (*Report, error)
}
