package validation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inputOf(content string) Input {
	return Input{Key: "in.csv", Version: "v1", Size: int64(len(content)), Body: strings.NewReader(content)}
}

func messages(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Message)
	}
	return out
}

func TestHeaderRule_ValidHeader(t *testing.T) {
	res, err := NewHeaderRule().Validate(context.Background(), inputOf("id,name,price\n1,apple,0.5\n2,pear,0.75\n"))
	require.NoError(t, err)

	assert.False(t, res.Failed)
	assert.Equal(t, []string{
		"Column name <id> is valid",
		"Column name <name> is valid",
		"Column name <price> is valid",
	}, messages(res.Findings))
	for _, f := range res.Findings {
		assert.Equal(t, SeverityError, f.Severity, "positive confirmations keep error severity")
	}
}

func TestHeaderRule_NoHeaderAndInvalidColumn(t *testing.T) {
	res, err := NewHeaderRule().Validate(context.Background(), inputOf("1col,abc\n5,xyz\n6,uvw\n"))
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Equal(t, []string{
		"File has no headers",
		"Column name <1col> is not valid",
		"Column name <abc> is valid",
	}, messages(res.Findings))
}

func TestHeaderRule_InvalidColumnNames(t *testing.T) {
	for _, name := range []string{"1st", "first name", "a_b", "cost$", "x@y", "q?", "p/q", "a|b", "{x}", "t~", "a:b", "(x)", "#n", "5",
		"go!", "pct%", "x^2", "r&d", "a*b", "<x", "x>", "y}"} {
		t.Run(name, func(t *testing.T) {
			res, err := NewHeaderRule().Validate(context.Background(), inputOf("ok,"+name+"\n1,2\n3,4\n"))
			require.NoError(t, err)
			assert.True(t, res.Failed)
			assert.Contains(t, messages(res.Findings), "Column name <"+name+"> is not valid")
		})
	}
}

func TestValidColumnName(t *testing.T) {
	assert.True(t, ValidColumnName("price"))
	assert.True(t, ValidColumnName("price2"))
	assert.True(t, ValidColumnName("unit-price"))
	assert.True(t, ValidColumnName("Größe"))
	assert.False(t, ValidColumnName("2price"))
	assert.False(t, ValidColumnName("unit price"))
	assert.False(t, ValidColumnName("unit_price"))
}

func TestValidColumnName_EveryForbiddenCharacter(t *testing.T) {
	for _, c := range "@_!#$%^&*()<>?/|}{~: " {
		name := "col" + string(c) + "x"
		assert.False(t, ValidColumnName(name), "%q should be rejected", name)
	}
	for d := '0'; d <= '9'; d++ {
		assert.False(t, ValidColumnName(string(d)+"col"))
	}
}

func TestHeaderRule_EmptyAndDuplicateNames(t *testing.T) {
	res, err := NewHeaderRule().Validate(context.Background(), inputOf("a,,a\nx,1,yy\nz,2,ww\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Column name <a> is valid",
		"Column name <Unnamed: 1> is not valid",
		"Column name <a.1> is valid",
	}, messages(res.Findings))
	assert.True(t, res.Failed)
}

func TestHeaderRule_EmptyFile(t *testing.T) {
	res, err := NewHeaderRule().Validate(context.Background(), inputOf(""))
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Equal(t, []string{"File has no headers"}, messages(res.Findings))
}

func TestHeaderRule_OnlyReadsSample(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,label\n")
	for b.Len() < 4096 {
		b.WriteString("1,abcdefgh\n")
	}
	// Garbage past the sample must not matter.
	b.WriteString("\xff\xfe,broken,row,with,more,fields\n")

	rule := &HeaderRule{SampleSize: 100}
	res, err := rule.Validate(context.Background(), inputOf(b.String()))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Len(t, res.Findings, 2)
}

func TestHeaderRule_DropsTruncatedLastLine(t *testing.T) {
	content := "name\nab\ncd\nef\n"
	// The sample ends inside "ef"; keeping "e" would break the fixed-length
	// column and leave no vote for a header.
	rule := &HeaderRule{SampleSize: 12}
	res, err := rule.Validate(context.Background(), inputOf(content))
	require.NoError(t, err)
	assert.False(t, res.Failed)
}

func TestHeaderRule_StripsBOM(t *testing.T) {
	res, err := NewHeaderRule().Validate(context.Background(), inputOf("\xEF\xBB\xBFname\nx\ny\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Column name <name> is valid"}, messages(res.Findings))
}

type failingReaderAt struct{ err error }

func (f failingReaderAt) ReadAt([]byte, int64) (int, error) { return 0, f.err }

func TestHeaderRule_ReadErrorPropagates(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := NewHeaderRule().Validate(context.Background(), Input{Size: 10, Body: failingReaderAt{err: boom}})
	assert.ErrorIs(t, err, boom)
}

func TestHeaderRule_ShortFileIsNotTruncated(t *testing.T) {
	// No trailing newline and shorter than the sample: the last line is complete.
	res, err := NewHeaderRule().Validate(context.Background(), Input{Size: 10, Body: bytes.NewReader([]byte("name\nab\ncd"))})
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Len(t, res.Findings, 1)
}
