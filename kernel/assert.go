package kernel

// That panics with msg when cond is false. It stands in for the
// original's ASSERT macro: a broken internal invariant is a programmer
// error, not a runtime fault, and spec.md §7 says those halt rather
// than propagate as an ordinary error return.
func That(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
