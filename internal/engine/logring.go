package engine

// logRing keeps the most recent engine log lines for the dashboard.
type logRing struct {
	lines []string
	cap   int
}

func newLogRing(capacity int) *logRing {
	return &logRing{cap: capacity}
}

// Append adds a line, evicting the oldest once at capacity.
func (r *logRing) Append(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Last returns up to n most recent lines, oldest first.
func (r *logRing) Last(n int) []string {
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}
