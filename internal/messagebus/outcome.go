package messagebus

// Outcome is what a handler reports on success. A skipped outcome marks a legitimate
// no-op, such as a redelivered create, and is never treated as a failure.
type Outcome struct {
	Value   any
	Skipped bool
	Reason  string
}

func Done(v any) Outcome { return Outcome{Value: v} }

func Skip(reason string) Outcome { return Outcome{Skipped: true, Reason: reason} }
