package sourcemap

import "strings"

// ExtractContext returns up to contextLines of source text before and after
// a 1-indexed line, along with the line itself. Lines past either end of the
// source are simply omitted rather than treated as an error.
func ExtractContext(source string, line int, contextLines int) (pre []string, lineText string, post []string) {
	lines := strings.Split(source, "\n")

	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return nil, "", nil
	}
	lineText = lines[idx]

	preStart := idx - contextLines
	if preStart < 0 {
		preStart = 0
	}
	if preStart < idx {
		pre = append(pre, lines[preStart:idx]...)
	}

	postEnd := idx + 1 + contextLines
	if postEnd > len(lines) {
		postEnd = len(lines)
	}
	if postEnd > idx+1 {
		post = append(post, lines[idx+1:postEnd]...)
	}

	return pre, lineText, post
}
