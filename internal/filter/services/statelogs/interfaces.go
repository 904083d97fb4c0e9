package statelogs

import "github.com/haukened/rr-filter/internal/filter/domain"

// TabID identifies one browsing context (tab or frame tree root).
type TabID uint64

// Observer receives blocking-telemetry events. Notifications are coalesced
// so bursts of blocked sub-resources produce at most one call per second.
type Observer interface {
	// OnNewBlockedUrlsReported signals that blocked-URL tallies changed
	// since the last notification.
	OnNewBlockedUrlsReported()

	// OnNewAllowedAttributionTracker signals that a tracker request was
	// allowed through due to a matched ad attribution.
	OnNewAllowedAttributionTracker()
}

// Saver schedules a debounced persistent save; used when the reporting
// epoch changes.
type Saver interface {
	ScheduleSave()
}

// TrackerLookup resolves a blocked host to tracker metadata, if the host or
// one of its parent domains is a known tracker.
type TrackerLookup interface {
	Lookup(group domain.RuleGroup, host string) (domain.TrackerInfo, bool)
}
