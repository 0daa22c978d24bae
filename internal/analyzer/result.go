package analyzer

import "fmt"

// IssueKind categorizes an analysis issue.
type IssueKind int

const (
	KindSyntax IssueKind = iota
	KindSecurity
	KindImport
	KindResult
	KindDomain
)

func (k IssueKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindSecurity:
		return "security"
	case KindImport:
		return "import"
	case KindResult:
		return "result"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// Severity indicates how an issue affects admission. Blocking issues force
// Passed=false; everything else is advisory.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// RiskLevel is the security risk assigned by the pattern scan.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Issue is a single finding. Ordered within a Result by discovery.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Line     int       `json:"line,omitempty"`
	Message  string    `json:"message"`
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("[%s/%s] line %d: %s", i.Kind, i.Severity, i.Line, i.Message)
	}
	return fmt.Sprintf("[%s/%s] %s", i.Kind, i.Severity, i.Message)
}

// Result is one immutable analysis pass.
type Result struct {
	Passed  bool      `json:"passed"`
	Issues  []Issue   `json:"issues,omitempty"`
	Risk    RiskLevel `json:"risk"`
	Imports []string  `json:"imports,omitempty"`
}

// Warnings returns the non-blocking issue messages, used as recommendations
// on successful outcomes.
func (r *Result) Warnings() []string {
	var out []string
	for _, issue := range r.Issues {
		if issue.Severity != SeverityBlocking {
			out = append(out, issue.String())
		}
	}
	return out
}

// BlockingMessages returns the messages of blocking issues, fed back into
// regeneration prompts.
func (r *Result) BlockingMessages() []string {
	var out []string
	for _, issue := range r.Issues {
		if issue.Severity == SeverityBlocking {
			out = append(out, issue.String())
		}
	}
	return out
}

// HasBlocking reports whether any issue is blocking.
func (r *Result) HasBlocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// escalate raises the risk level, never lowering it.
func (r *Result) escalate(level RiskLevel) {
	if level > r.Risk {
		r.Risk = level
	}
}

// SyntaxError is raised when code cannot be parsed. It is the analyzer's
// only abort case; nothing further can be checked.
type SyntaxError struct {
	Err    error
	Issues []Issue
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("generated code is unparsable: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Messages returns the issue strings for the regeneration error chain.
func (e *SyntaxError) Messages() []string {
	out := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		out = append(out, issue.String())
	}
	return out
}
