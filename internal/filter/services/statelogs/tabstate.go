package statelogs

import (
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// blockedBuffer accumulates blocked-URL records for one page, with nested
// counters for hosts that resolve to known trackers.
type blockedBuffer struct {
	urls        map[string]int
	trackerHits map[string]map[string]int // tracker domain → blocked URL → count
}

func newBlockedBuffer() *blockedBuffer {
	return &blockedBuffer{
		urls:        make(map[string]int),
		trackerHits: make(map[string]map[string]int),
	}
}

func (b *blockedBuffer) add(url, trackerDomain string) {
	b.urls[url]++
	if trackerDomain != "" {
		hits := b.trackerHits[trackerDomain]
		if hits == nil {
			hits = make(map[string]int)
			b.trackerHits[trackerDomain] = hits
		}
		hits[url]++
	}
}

// tabState is the per-browsing-context runtime state: blocked-URL buffers
// plus the ad-attribution fields. All access is guarded by the owning
// StateAndLogs mutex.
type tabState struct {
	navigationInFlight bool
	pendingURL         string

	pending   map[domain.RuleGroup]*blockedBuffer
	committed map[domain.RuleGroup]*blockedBuffer

	// Ad-click attribution. The machine's states are implicit in the field
	// combinations: armed → triggers set → landing domain tracked →
	// on/off the landing site → reset.
	armed           bool
	armPending      bool
	adClickDomain   string
	clickTime       time.Time
	armedTriggers   []string
	currentTrigger  string
	adLandingDomain string
	onLandingSite   bool
	lastOnSite      time.Time
	allowedTrackers map[string]struct{}
	expiry          clock.Timer
}

func newTabState() *tabState {
	ts := &tabState{
		pending:         make(map[domain.RuleGroup]*blockedBuffer),
		committed:       make(map[domain.RuleGroup]*blockedBuffer),
		allowedTrackers: make(map[string]struct{}),
	}
	for _, g := range domain.AllRuleGroups() {
		ts.pending[g] = newBlockedBuffer()
		ts.committed[g] = newBlockedBuffer()
	}
	return ts
}

// resetAttribution clears every attribution field and cancels the expiry
// timer so a stopped timer never fires for a stale attribution.
func (ts *tabState) resetAttribution() {
	if ts.expiry != nil {
		ts.expiry.Stop()
		ts.expiry = nil
	}
	ts.armed = false
	ts.armPending = false
	ts.adClickDomain = ""
	ts.clickTime = time.Time{}
	ts.armedTriggers = nil
	ts.currentTrigger = ""
	ts.adLandingDomain = ""
	ts.onLandingSite = false
	ts.lastOnSite = time.Time{}
	ts.allowedTrackers = make(map[string]struct{})
}

// swapCommitted promotes the pending buffers on a successful commit and
// resets pending for the next navigation.
func (ts *tabState) swapCommitted() {
	for _, g := range domain.AllRuleGroups() {
		ts.committed[g] = ts.pending[g]
		ts.pending[g] = newBlockedBuffer()
	}
}

// discardPending drops the pending buffers after a cancelled or failed
// navigation so it cannot pollute the next page's stats.
func (ts *tabState) discardPending() {
	for _, g := range domain.AllRuleGroups() {
		ts.pending[g] = newBlockedBuffer()
	}
}
