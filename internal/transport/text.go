package transport

import "strings"

// TextLimit is the largest message body (in runes) sent in one piece.
// Telegram accepts 4096; the margin leaves room for entity expansion.
const TextLimit = 4000

const ellipsis = "…"

// ClampText cuts s to at most limit runes. When a cut is needed it prefers
// the last newline in the final third of the window and marks the cut with
// an ellipsis line.
func ClampText(s string, limit int) string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	end := limit - 2 // "\n…"
	if end < 1 {
		return string(rs[:limit])
	}
	for i := end - 1; i >= limit*2/3; i-- {
		if rs[i] == '\n' {
			end = i
			break
		}
	}
	return strings.TrimRight(string(rs[:end]), "\n") + "\n" + ellipsis
}

// SplitText splits long text into chunks of at most limit runes, preferring
// newline boundaries.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
