package validation

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// DefaultHeaderSampleSize is how many leading bytes the header rule reads.
const DefaultHeaderSampleSize = 1024

// invalidColumnName matches a leading digit or any disallowed character
// anywhere in the name.
var invalidColumnName = regexp.MustCompile(`^[0-9]|[@_!#$%^&*()<>?/|}{~: ]`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// HeaderRule checks that the first row is a header and that every column
// name is made of allowed characters.
type HeaderRule struct {
	SampleSize int
}

// NewHeaderRule returns a HeaderRule reading DefaultHeaderSampleSize bytes
func NewHeaderRule() *HeaderRule {
	return &HeaderRule{SampleSize: DefaultHeaderSampleSize}
}

func (r *HeaderRule) Name() string { return "csv_header" }

func (r *HeaderRule) Validate(_ context.Context, in Input) (Result, error) {
	sample, err := r.readSample(in)
	if err != nil {
		return Result{}, err
	}

	rows := sampleRows(sample)
	hasHeader := looksLikeHeader(rows)

	var findings []Finding
	if !hasHeader {
		findings = append(findings, errorFinding("File has no headers"))
	}

	allValid := true
	for _, name := range columnNames(rows) {
		valid := ValidColumnName(name)
		allValid = allValid && valid

		verdict := " is valid"
		if !valid {
			verdict = " is not valid"
		}
		findings = append(findings, errorFinding("Column name <"+name+">"+verdict))
	}

	return Result{Failed: !hasHeader || !allValid, Findings: findings}, nil
}

// ValidColumnName reports whether name is free of disallowed characters and
// does not start with a digit
func ValidColumnName(name string) bool {
	return !invalidColumnName.MatchString(name)
}

func (r *HeaderRule) readSample(in Input) ([]byte, error) {
	size := r.SampleSize
	if size <= 0 {
		size = DefaultHeaderSampleSize
	}

	buf := make([]byte, size)
	n, err := in.Body.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header sample: %w", err)
	}
	sample := buf[:n]

	// A cut-off final line would look like a short row; drop it.
	if int64(n) < in.Size {
		if idx := bytes.LastIndexByte(sample, '\n'); idx >= 0 {
			sample = sample[:idx+1]
		}
	}
	return bytes.TrimPrefix(sample, utf8BOM), nil
}

// sampleRows parses as many complete rows as the sample holds
func sampleRows(sample []byte) [][]string {
	reader := csv.NewReader(bytes.NewReader(sample))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

// columnNames takes the first row as names, filling blanks with
// "Unnamed: <index>" and suffixing repeats with ".<n>".
func columnNames(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	seen := make(map[string]int, len(rows[0]))
	names := make([]string, 0, len(rows[0]))
	for i, name := range rows[0] {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		names = append(names, name)
	}
	return names
}
