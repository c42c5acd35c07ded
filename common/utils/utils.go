package utils

// Abbreviate shortens s to at most n runes for logging, marking the cut with an ellipsis.
func Abbreviate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}

	if n <= 3 {
		return string(runes[:n])
	}

	return string(runes[:n-3]) + "..."
}
