package uart

// lookahead holds at most one byte consumed while polling for input so the
// next read can return it.
type lookahead struct {
	b  byte
	ok bool
}

func (l *lookahead) put(b byte) {
	l.b = b
	l.ok = true
}

// take copies the held byte into p[0] and reports whether there was one.
func (l *lookahead) take(p []byte) bool {
	if !l.ok || len(p) == 0 {
		return false
	}
	p[0] = l.b
	l.ok = false
	return true
}
