package parser

import (
	"strings"

	"github.com/indexd/gomu/internal/registry"
)

// priorityHeaders lists the headers examined for priority, in the order
// the later mu revision checks them: Precedence wins over X-Priority
// wins over Importance.
var priorityHeaders = []string{"Precedence", "X-Priority", "Importance"}

// priorityTable maps substrings to a priority level, in match precedence
// order: the first table row whose substring appears in the lowercased
// header value wins, regardless of position within the string.
var priorityTable = []struct {
	level      int
	substrings []string
}{
	{registry.PriorityHigh, []string{"high", "1", "2"}},
	{registry.PriorityNormal, []string{"normal", "3"}},
	{registry.PriorityLow, []string{"low", "list", "bulk", "4", "5"}},
}

// resolvePriority examines get (a lookup by header name) in header
// precedence order and returns the first substring match. Absent any
// match, the priority defaults to normal.
func resolvePriority(get func(name string) string) int {
	for _, name := range priorityHeaders {
		v := strings.ToLower(strings.TrimSpace(get(name)))
		if v == "" {
			continue
		}
		if level, ok := matchPriority(v); ok {
			return level
		}
	}
	return registry.PriorityNormal
}

func matchPriority(v string) (int, bool) {
	for _, row := range priorityTable {
		for _, sub := range row.substrings {
			if strings.Contains(v, sub) {
				return row.level, true
			}
		}
	}
	return 0, false
}
