package utils

import (
	"strings"
)

func BoolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// SplitCSV splits a comma separated list, trimming blanks and dropping duplicates.
func SplitCSV(in string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range strings.Split(in, ",") {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
