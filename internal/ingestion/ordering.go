package ingestion

import (
	"sort"

	"GebLedger/internal/event"
)

// SortByChainOrder orders events by (block, log index). Replays of
// captured logs may arrive grouped by contract rather than by position.
func SortByChainOrder(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventMeta().Before(events[j].EventMeta())
	})
}
