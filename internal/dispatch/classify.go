package dispatch

import "strings"

// FailureClass maps an executor error containing any of Substrings to a
// friendlier user-facing Message. Kept as a table rather than a
// hard-coded branch so new startup-class error text can be added
// without touching the dispatch loop itself.
type FailureClass struct {
	Substrings []string
	Message    string
}

// DefaultFailureClasses maps the two substrings a not-yet-up executor
// backend is known to produce to a friendly "starting up" message;
// anything else falls through to "Translation failed: " + the error text.
var DefaultFailureClasses = []FailureClass{
	{
		Substrings: []string{"Cannot connect to host", "Connection refused"},
		Message:    "Translation service is starting up, please wait a moment and try again.",
	},
}

// classify turns a raw executor error into a user-facing message,
// using the first matching class's Message or a generic fallback.
func classify(classes []FailureClass, err error) string {
	text := err.Error()
	for _, class := range classes {
		for _, substr := range class.Substrings {
			if strings.Contains(text, substr) {
				return class.Message
			}
		}
	}
	return "Translation failed: " + text
}
