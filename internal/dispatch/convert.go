package dispatch

import "strconv"

func itoa(n int) string { return strconv.Itoa(n) }

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
