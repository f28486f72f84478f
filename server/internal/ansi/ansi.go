// Package ansi strips terminal color escape sequences from task output
// before it is buffered or persisted, matching the original server's
// strip_ansi helper (original_source/server/main.py).
package ansi

import "regexp"

var sequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Strip removes ANSI SGR escape sequences from s.
func Strip(s string) string {
	return sequence.ReplaceAllString(s, "")
}
