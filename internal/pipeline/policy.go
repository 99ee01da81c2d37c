package pipeline

// Policy decides what happens when an edition is already stored.
type Policy int

// Replace policies.
const (
	// Preserve skips dates that already have a record.
	Preserve Policy = iota
	// Overwrite re-ingests and replaces existing records.
	Overwrite
)

func (p Policy) String() string {
	if p == Overwrite {
		return "overwrite"
	}
	return "preserve"
}

// DefaultPolicy returns the policy a selector runs with unless overridden:
// explicit dates overwrite, trailing windows preserve.
func DefaultPolicy(sel Selector) Policy {
	if sel.Kind == SelectWindow {
		return Preserve
	}
	return Overwrite
}
