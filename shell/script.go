package shell

import (
	shlex "github.com/flynn-archive/go-shlex"
)

// tokenize splits a line of shell-like arguments honoring quotes, used
// by the "test" command to replay a canned multi-command scenario the
// way spec.md §8's test harness would, rather than a hand-rolled
// strings.Split that breaks on a quoted `echo "hello world" file`.
func tokenize(line string) ([]string, error) {
	return shlex.Split(line)
}
