package app

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// SplitNames parses a comma-separated resource list. Blank entries and repeats
// are dropped; the first occurrence keeps its position.
func SplitNames(arg string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, part := range strings.Split(arg, ",") {
		name := strings.TrimSpace(part)
		if name == "" || !seen.Add(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
