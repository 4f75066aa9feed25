package profiling

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// DefaultSampleSize is how many rows DuckDB samples to infer column types.
const DefaultSampleSize = 20480

// DuckDBProfiler profiles files with DuckDB's SUMMARIZE over read_csv_auto
type DuckDBProfiler struct {
	db         *sql.DB
	sampleSize int
	logger     *slog.Logger
	now        func() time.Time
}

// NewDuckDBProfiler opens an in-memory DuckDB database
func NewDuckDBProfiler(sampleSize int, logger *slog.Logger) (*DuckDBProfiler, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	return &DuckDBProfiler{
		db:         db,
		sampleSize: sampleSize,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Close releases the database
func (p *DuckDBProfiler) Close() error {
	return p.db.Close()
}

func (p *DuckDBProfiler) Profile(ctx context.Context, path string) (*Report, error) {
	source := csvSource(path, p.sampleSize)

	var rows int64
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM "+source).Scan(&rows); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	columns, err := p.summarize(ctx, source)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("File profiled",
		slog.String("path", path),
		slog.Int64("rows", rows),
		slog.Int("columns", len(columns)),
	)

	return &Report{
		RowCount:    rows,
		Columns:     columns,
		GeneratedAt: p.now().UTC(),
	}, nil
}

func (p *DuckDBProfiler) summarize(ctx context.Context, source string) ([]ColumnSummary, error) {
	query := `
		SELECT column_name, column_type, min, max, approx_unique,
			avg, std, q25, q50, q75, count, CAST(null_percentage AS DOUBLE)
		FROM (SUMMARIZE SELECT * FROM ` + source + `)
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize: %w", err)
	}
	defer rows.Close()

	var columns []ColumnSummary
	for rows.Next() {
		var c ColumnSummary
		var lo, hi, avg, std, q25, q50, q75 sql.NullString
		var nulls sql.NullFloat64
		if err := rows.Scan(&c.Name, &c.Type, &lo, &hi, &c.ApproxUnique,
			&avg, &std, &q25, &q50, &q75, &c.Count, &nulls); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		c.Min, c.Max = nullable(lo), nullable(hi)
		c.Avg, c.Std = nullable(avg), nullable(std)
		c.Q25, c.Q50, c.Q75 = nullable(q25), nullable(q50), nullable(q75)
		if nulls.Valid {
			c.NullPercentage = &nulls.Float64
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	return columns, nil
}

// csvSource renders a read_csv_auto call; table functions take no bind
// parameters, so the path is quoted as a literal.
func csvSource(path string, sampleSize int) string {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	return fmt.Sprintf("read_csv_auto(%s, header = true, sample_size = %d)", quoted, sampleSize)
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

var _ Profiler = (*DuckDBProfiler)(nil)
