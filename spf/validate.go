package spf

// Level indicates the severity of an Issue.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"

	// Informational issues carry no level.
	LevelInfo Level = ""
)

// Issue is a diagnostic message about a record or an evaluation, with an
// optional severity.
type Issue struct {
	Level Level  `json:"level,omitempty"`
	Desc  string `json:"desc"`
}

// Validate runs semantic checks on a parsed record, catching configurations
// that parse fine but do not behave as their author likely intended. Error and
// warning level issues indicate the record needs fixing, informational issues
// are advice only.
func Validate(r *Record) []Issue {
	var issues []Issue

	allIndex := -1
	for i, d := range r.Directives {
		if d.Mechanism == "all" {
			allIndex = i
			break
		}
	}

	if allIndex >= 0 && allIndex != len(r.Directives)-1 {
		issues = append(issues, Issue{LevelWarning, "'all' should be the last mechanism (any other mechanism will be ignored)"})
	}
	if allIndex >= 0 && r.Redirect != "" {
		// RFC 7208 6.1: redirect is ignored when an "all" mechanism is present.
		issues = append(issues, Issue{LevelWarning, "The 'redirect' modifier is ignored when the record contains an 'all' mechanism"})
	}
	for _, d := range r.Directives {
		if d.Mechanism == "all" && (d.Qualifier == "" || d.Qualifier == "+") {
			issues = append(issues, Issue{LevelWarning, "An 'all' mechanism with a 'pass' qualifier authorizes every server to send for the domain"})
			break
		}
	}
	for _, d := range r.Directives {
		if d.Mechanism == "ptr" {
			// RFC 7208 5.5 discourages ptr, it is slow and unreliable.
			issues = append(issues, Issue{LevelInfo, "The 'ptr' mechanism is slow and unreliable, and should not be used"})
			break
		}
	}

	return issues
}
