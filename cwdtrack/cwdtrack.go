// Package cwdtrack infers the directory a shell command line changed into.
//
// The input is rendered terminal text, not the shell's real state, so the
// result is best-effort: echoed-but-not-executed text, wrapped commands, or
// prompts containing "cd" can all fool it. Callers must treat the result as
// a UX hint only.
package cwdtrack

import (
	"regexp"
	"strings"
)

// cdPattern matches a `cd` token preceded by start-of-line or a shell
// separator, followed by one path argument bounded by the next separator or
// end-of-line. Quoted arguments may contain separators.
var cdPattern = regexp.MustCompile(`(?:^|[\s;&|])cd\s+("[^"]*"|'[^']*'|[^\s;&|]+)`)

// Extract returns the target of the last `cd` command on the line, with one
// layer of surrounding quotes stripped, or "" if the line contains no cd
// command with an argument. The last occurrence wins so chained commands
// like `ls && cd /tmp` resolve to the directory actually entered.
func Extract(line string) string {
	matches := cdPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return ""
	}

	path := matches[len(matches)-1][1]
	path = stripQuotes(path)
	return strings.TrimSpace(path)
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
