// Package statelogs tracks per-browsing-context blocking telemetry -
// blocked-URL tallies, cross-tab domain counters - and the ad-click
// attribution state machine used to selectively un-block attribution
// trackers.
package statelogs

import (
	"net/url"
	"sync"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// StateAndLogs owns all tab state and the cross-tab counters.
type StateAndLogs struct {
	mu             sync.Mutex
	tabs           map[TabID]*tabState
	blockedDomains map[domain.RuleGroup]map[string]int
	blockedOrigins map[domain.RuleGroup]map[string]int
	reportingStart time.Time

	trackers TrackerLookup
	clk      clock.Clock
	sched    clock.Scheduler
	saver    Saver
	logger   log.Logger

	obsMu     sync.Mutex
	observers []Observer

	blockedNotify *coalescer
	allowedNotify *coalescer
}

// Options configures StateAndLogs.
type Options struct {
	Trackers  TrackerLookup
	Clock     clock.Clock
	Scheduler clock.Scheduler
	Saver     Saver
	Logger    log.Logger
}

// New constructs StateAndLogs with the reporting epoch set to now.
func New(opts Options) *StateAndLogs {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clock.RealScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	s := &StateAndLogs{
		tabs:           make(map[TabID]*tabState),
		blockedDomains: make(map[domain.RuleGroup]map[string]int),
		blockedOrigins: make(map[domain.RuleGroup]map[string]int),
		reportingStart: opts.Clock.Now(),
		trackers:       opts.Trackers,
		clk:            opts.Clock,
		sched:          opts.Scheduler,
		saver:          opts.Saver,
		logger:         opts.Logger,
	}
	for _, g := range domain.AllRuleGroups() {
		s.blockedDomains[g] = make(map[string]int)
		s.blockedOrigins[g] = make(map[string]int)
	}
	s.blockedNotify = newCoalescer(s.clk, s.sched, func() {
		s.eachObserver(func(o Observer) { o.OnNewBlockedUrlsReported() })
	})
	s.allowedNotify = newCoalescer(s.clk, s.sched, func() {
		s.eachObserver(func(o Observer) { o.OnNewAllowedAttributionTracker() })
	})
	return s
}

// AddObserver registers an observer for blocking notifications.
func (s *StateAndLogs) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return
		}
	}
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters an observer.
func (s *StateAndLogs) RemoveObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *StateAndLogs) eachObserver(fn func(Observer)) {
	s.obsMu.Lock()
	snapshot := make([]Observer, len(s.observers))
	copy(snapshot, s.observers)
	s.obsMu.Unlock()
	for _, o := range snapshot {
		fn(o)
	}
}

// TabCreated registers a browsing context. When the opener is currently on
// an ad landing site, the new tab inherits the attribution state so
// attribution survives a target="_blank" click-through.
func (s *StateAndLogs) TabCreated(tab TabID, opener *TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tabs[tab]; exists {
		return
	}
	ts := newTabState()
	s.tabs[tab] = ts

	if opener == nil {
		return
	}
	parent, ok := s.tabs[*opener]
	if !ok || !parent.onLandingSite {
		return
	}
	ts.adClickDomain = parent.adClickDomain
	ts.clickTime = parent.clickTime
	ts.currentTrigger = parent.currentTrigger
	ts.adLandingDomain = parent.adLandingDomain
	ts.onLandingSite = true
	ts.lastOnSite = s.clk.Now()
	s.scheduleExpiryLocked(tab, ts)
}

// TabClosed drops a browsing context and cancels its timers.
func (s *StateAndLogs) TabClosed(tab TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tabs[tab]; ok {
		if ts.expiry != nil {
			ts.expiry.Stop()
		}
		delete(s.tabs, tab)
	}
}

// LogBlockedURL records one blocked request. While a navigation is in
// flight the record lands in the pending buffer; otherwise it counts
// against the committed page. Hosts that resolve to a known tracker get
// nested tracker counters, and the cross-tab domain/origin counters always
// advance.
func (s *StateAndLogs) LogBlockedURL(group domain.RuleGroup, tab TabID, blockedURL, origin string) {
	blockedHost := hostOf(blockedURL)
	originHost := hostOf(origin)

	var trackerDomain string
	if s.trackers != nil && blockedHost != "" {
		if info, ok := s.trackers.Lookup(group, blockedHost); ok {
			trackerDomain = utils.CanonicalHost(info.Domain)
		}
	}

	s.mu.Lock()
	ts, ok := s.tabs[tab]
	if !ok {
		ts = newTabState()
		s.tabs[tab] = ts
	}
	buf := ts.committed[group]
	if ts.navigationInFlight {
		buf = ts.pending[group]
	}
	buf.add(blockedURL, trackerDomain)

	if blockedHost != "" {
		s.blockedDomains[group][blockedHost]++
	}
	if originHost != "" {
		s.blockedOrigins[group][originHost]++
	}
	s.mu.Unlock()

	s.blockedNotify.trigger()
}

// BlockedURLs returns a copy of the committed blocked-URL tallies for one
// tab and group.
func (s *StateAndLogs) BlockedURLs(group domain.RuleGroup, tab TabID) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tabs[tab]
	if !ok {
		return nil
	}
	return copyCounts(ts.committed[group].urls)
}

// TrackerHits returns a copy of the committed nested tracker counters for
// one tab and group.
func (s *StateAndLogs) TrackerHits(group domain.RuleGroup, tab TabID) map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tabs[tab]
	if !ok {
		return nil
	}
	out := make(map[string]map[string]int, len(ts.committed[group].trackerHits))
	for dom, hits := range ts.committed[group].trackerHits {
		out[dom] = copyCounts(hits)
	}
	return out
}

// BlockedDomainCounters returns a copy of the cross-tab blocked-domain
// counters for a group.
func (s *StateAndLogs) BlockedDomainCounters(group domain.RuleGroup) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.blockedDomains[group])
}

// BlockedForOriginCounters returns a copy of the cross-tab counters of
// origins blocks happened for.
func (s *StateAndLogs) BlockedForOriginCounters(group domain.RuleGroup) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.blockedOrigins[group])
}

// ReportingStart returns the epoch the counters have accumulated since.
func (s *StateAndLogs) ReportingStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportingStart
}

// SetReportingStart reinstates the persisted reporting epoch on load.
func (s *StateAndLogs) SetReportingStart(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.IsZero() {
		s.reportingStart = t
	}
}

// ClearCounters wipes the cross-tab counters and restarts the reporting
// epoch.
func (s *StateAndLogs) ClearCounters() {
	s.mu.Lock()
	for _, g := range domain.AllRuleGroups() {
		s.blockedDomains[g] = make(map[string]int)
		s.blockedOrigins[g] = make(map[string]int)
	}
	s.reportingStart = s.clk.Now()
	s.mu.Unlock()
	if s.saver != nil {
		s.saver.ScheduleSave()
	}
}

// Shutdown cancels deferred notifications and per-tab timers.
func (s *StateAndLogs) Shutdown() {
	s.blockedNotify.stop()
	s.allowedNotify.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tabs {
		if ts.expiry != nil {
			ts.expiry.Stop()
			ts.expiry = nil
		}
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// hostOf extracts the canonical host from a URL spec, or "" when none.
func hostOf(spec string) string {
	u, err := url.Parse(spec)
	if err != nil || u.Host == "" {
		return ""
	}
	return utils.CanonicalHost(u.Hostname())
}
