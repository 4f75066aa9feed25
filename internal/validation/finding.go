package validation

// Severity tags a finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one severity-tagged validation message
type Finding struct {
	Severity Severity `json:"type"`
	Message  string   `json:"message"`
}

func errorFinding(msg string) Finding { return Finding{Severity: SeverityError, Message: msg} }

// Verdict aggregates every rule's outcome. HasFailed is true iff at least one
// rule failed; findings alone (even error-severity ones) do not fail it.
type Verdict struct {
	HasFailed bool
	Findings  []Finding
}

// Counts returns the number of warning and error findings
func (v Verdict) Counts() (warnings, errors int) {
	for _, f := range v.Findings {
		if f.Severity == SeverityError {
			errors++
		} else {
			warnings++
		}
	}
	return warnings, errors
}
