// Package ansi strips terminal color escape sequences from task-runner
// output before it is forwarded to the server, matching the original
// server's strip_ansi helper (original_source/server/main.py). Duplicated
// from the server's own internal/ansi rather than shared — Go's internal/
// visibility rule scopes each to its own module subtree (server/, agent/).
package ansi

import "regexp"

var sequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Strip removes ANSI SGR escape sequences from s.
func Strip(s string) string {
	return sequence.ReplaceAllString(s, "")
}
