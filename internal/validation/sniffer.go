package validation

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxSniffRows bounds how many data rows vote on the header decision.
const maxSniffRows = 21

// columnKind is what a column's data rows have in common: every value
// numeric, or every value of one fixed length.
type columnKind struct {
	set     bool
	numeric bool
	length  int
}

func kindOf(value string) columnKind {
	if isNumeric(value) {
		return columnKind{set: true, numeric: true}
	}
	return columnKind{set: true, length: utf8.RuneCountInString(value)}
}

// looksLikeHeader decides whether rows[0] is a header. Each column whose
// data rows share a kind votes: a header cell that does not fit the kind
// counts for a header, one that fits counts against. Columns without a
// consistent kind abstain; columns with no data rows count for a header.
func looksLikeHeader(rows [][]string) bool {
	if len(rows) == 0 {
		return false
	}
	header := rows[0]
	columns := len(header)

	kinds := make([]columnKind, columns)
	dropped := make([]bool, columns)

	checked := 0
	for _, row := range rows[1:] {
		if checked >= maxSniffRows {
			break
		}
		checked++
		if len(row) != columns {
			continue
		}
		for col := 0; col < columns; col++ {
			if dropped[col] {
				continue
			}
			k := kindOf(row[col])
			switch {
			case !kinds[col].set:
				kinds[col] = k
			case kinds[col] != k:
				dropped[col] = true
			}
		}
	}

	votes := 0
	for col := 0; col < columns; col++ {
		if dropped[col] {
			continue
		}
		k := kinds[col]
		switch {
		case !k.set:
			votes++
		case k.numeric:
			if isNumeric(header[col]) {
				votes--
			} else {
				votes++
			}
		default:
			if utf8.RuneCountInString(header[col]) != k.length {
				votes++
			} else {
				votes--
			}
		}
	}
	return votes > 0
}

// isNumeric accepts real and complex literals ("3", "-1.5e3", "inf", "2+3j").
func isNumeric(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return true
	}
	if strings.HasSuffix(v, "j") || strings.HasSuffix(v, "J") {
		v = v[:len(v)-1] + "i"
		_, err := strconv.ParseComplex(v, 128)
		return err == nil
	}
	return false
}
