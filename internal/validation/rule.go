// Package validation runs an ordered set of rules over an uploaded tabular
// file and aggregates their findings into a verdict.
package validation

import (
	"context"
	"fmt"
	"io"
)

// Input is the file under validation. Body is read from offset 0 by every
// rule, so it must support independent positioned reads.
type Input struct {
	Key     string
	Version string
	// Size is the declared content length reported by the blob store.
	Size int64
	Body io.ReaderAt
}

// Reader returns a fresh sequential reader over the whole body
func (in Input) Reader() *io.SectionReader {
	return io.NewSectionReader(in.Body, 0, in.Size)
}

// Result is one rule's outcome
type Result struct {
	Failed   bool
	Findings []Finding
}

// Rule inspects an input. Problems with the data are reported as findings;
// a returned error means the rule could not run (I/O, unexpected state).
type Rule interface {
	Name() string
	Validate(ctx context.Context, in Input) (Result, error)
}

// Engine runs its rules in registration order
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over rules, dropping nil entries
func NewEngine(rules ...Rule) *Engine {
	filtered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	return &Engine{rules: filtered}
}

// DefaultEngine is the header rule followed by the size/encoding rule
func DefaultEngine() *Engine {
	return NewEngine(NewHeaderRule(), NewSizeEncodingRule())
}

// Rules returns the registered rule names in order
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Run executes every rule against in and concatenates findings rule by rule
func (e *Engine) Run(ctx context.Context, in Input) (Verdict, error) {
	var verdict Verdict
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}

		res, err := rule.Validate(ctx, in)
		if err != nil {
			return Verdict{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}

		verdict.HasFailed = verdict.HasFailed || res.Failed
		verdict.Findings = append(verdict.Findings, res.Findings...)
	}
	return verdict, nil
}
