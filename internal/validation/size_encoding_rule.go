package validation

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxFileSize is the largest accepted upload, 3 GiB.
const MaxFileSize int64 = 3 * 1024 * 1024 * 1024

// Messages reported for unparseable bodies
const (
	msgUTF8Error = "UTF-8 encoding error"
	msgNoColumns = "No columns to parse from file"
)

// SizeEncodingRule checks the declared size against a ceiling and that the
// whole body parses as UTF-8 delimited data.
type SizeEncodingRule struct {
	MaxSize int64
}

// NewSizeEncodingRule returns a rule enforcing MaxFileSize
func NewSizeEncodingRule() *SizeEncodingRule {
	return &SizeEncodingRule{MaxSize: MaxFileSize}
}

func (r *SizeEncodingRule) Name() string { return "filesize_encoding" }

func (r *SizeEncodingRule) Validate(ctx context.Context, in Input) (Result, error) {
	var res Result

	limit := r.MaxSize
	if limit <= 0 {
		limit = MaxFileSize
	}
	if in.Size > limit {
		res.Failed = true
		res.Findings = append(res.Findings, errorFinding(fmt.Sprintf(
			"Exceeds maximum file size of %.2f Megabytes, your file size is %.2f Megabytes",
			toMegabytes(limit), toMegabytes(in.Size))))
	}

	msg, err := parseBody(ctx, in.Reader())
	if err != nil {
		return Result{}, err
	}
	if msg != "" {
		res.Failed = true
		res.Findings = append(res.Findings, errorFinding(msg))
	}
	return res, nil
}

func toMegabytes(n int64) float64 {
	return float64(n) / 1024 / 1024
}

// parseBody reads every record and returns a finding message for the first
// decode, quoting or structure problem, or "" when the body is clean. Errors
// from the underlying reader are returned as errors.
func parseBody(ctx context.Context, body io.Reader) (string, error) {
	src := &trackingReader{r: bufio.NewReaderSize(body, 64*1024)}
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	columns := -1
	for records := 0; ; records++ {
		if records%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if src.err != nil {
			return "", fmt.Errorf("read body: %w", src.err)
		}
		if err != nil {
			return err.Error(), nil
		}

		for _, field := range record {
			if !utf8.ValidString(field) {
				return msgUTF8Error, nil
			}
		}

		if columns < 0 {
			columns = len(record)
			continue
		}
		if len(record) > columns {
			line, _ := reader.FieldPos(0)
			return fmt.Sprintf("Error tokenizing data. Expected %d fields in line %d, saw %d",
				columns, line, len(record)), nil
		}
	}

	if columns < 0 {
		return msgNoColumns, nil
	}
	return "", nil
}

// trackingReader remembers the first non-EOF error of the wrapped reader so
// that I/O failures are not mistaken for malformed data.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
