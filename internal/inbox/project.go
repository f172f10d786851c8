package inbox

import (
	"cmp"
	"slices"
	"strings"
)

// Summary is one row of the conversation list.
type Summary struct {
	Key                string `json:"key"`
	DisplayName        string `json:"displayName"`
	LastMessagePreview string `json:"lastMessagePreview"`
	LastTimestamp      int64  `json:"lastTimestamp"`
	UnreadCount        int    `json:"unreadCount"`
}

// Summarize builds the list row for c.
func Summarize(c Conversation) Summary {
	sum := Summary{Key: c.Key, DisplayName: c.DisplayName()}
	if last, ok := c.Last(); ok {
		sum.LastMessagePreview = last.Preview()
		sum.LastTimestamp = last.At
	}
	return sum
}

// Project returns conversation summaries, newest first. A non-empty query
// keeps only summaries whose display name or key contains it, ignoring case.
func Project(convs []Conversation, query string) []Summary {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		sum := Summarize(c)
		if query != "" &&
			!strings.Contains(strings.ToLower(sum.DisplayName), query) &&
			!strings.Contains(strings.ToLower(sum.Key), query) {
			continue
		}
		out = append(out, sum)
	}
	slices.SortStableFunc(out, func(a, b Summary) int {
		if c := cmp.Compare(b.LastTimestamp, a.LastTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// Project summarizes the store's current conversations.
func (s *Store) Project(query string) []Summary {
	return Project(s.ListAll(), query)
}
