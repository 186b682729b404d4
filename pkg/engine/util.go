package engine

import (
	"bytes"
	"sort"
)

// threadSafeBuffer is bytes.Buffer under a plain alias; Flush only ever
// touches it from the calling goroutine, so no locking is needed, but the
// name documents the intent at the Save call site.
type threadSafeBuffer = bytes.Buffer

func sortStrings(s []string) {
	sort.Strings(s)
}

type scoredPair struct {
	id   string
	dist float32
}

func sortScored(items []scoredPair) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist == items[j].dist {
			return items[i].id < items[j].id
		}
		return items[i].dist < items[j].dist
	})
}
