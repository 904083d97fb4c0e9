package statelogs

import (
	"net/url"
	"strings"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/utils"
)

const (
	// attributionExpiry bounds an attribution's lifetime, measured from
	// the original ad click.
	attributionExpiry = 7 * 24 * time.Hour

	// offSiteGrace is how long a tab may sit off the landing site before
	// the attribution fully resets.
	offSiteGrace = 30 * time.Minute
)

// ArmAdAttribution marks the context as "watch the next navigation for an
// ad click". While a navigation is in flight the arming is deferred until
// commit.
func (s *StateAndLogs) ArmAdAttribution(tab TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	if ts.navigationInFlight {
		ts.armPending = true
		return
	}
	ts.armed = true
}

// SetAdQueryTriggers records the ad click: the clicking domain, the click
// time, and the query-trigger substrings armed for the next navigation.
// Only accepted while armed; any prior attribution is reset.
func (s *StateAndLogs) SetAdQueryTriggers(tab TabID, adURL string, triggers []string) bool {
	clickDomain := hostOf(adURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	if !ts.armed {
		return false
	}
	ts.resetAttribution()
	ts.adClickDomain = clickDomain
	ts.clickTime = s.clk.Now()
	ts.armedTriggers = append([]string(nil), triggers...)
	return true
}

// OnNavigationStarted opens a fresh pending buffer for the navigation and
// scans the URL for armed query triggers.
func (s *StateAndLogs) OnNavigationStarted(tab TabID, urlSpec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	ts.navigationInFlight = true
	ts.pendingURL = urlSpec
	ts.discardPending()
	s.scanTriggersLocked(tab, ts, urlSpec)
}

// OnNavigationRedirected re-scans armed query triggers against the
// redirect target.
func (s *StateAndLogs) OnNavigationRedirected(tab TabID, urlSpec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	ts.pendingURL = urlSpec
	s.scanTriggersLocked(tab, ts, urlSpec)
}

// OnNavigationCommitted promotes the pending buffers and advances the
// attribution machine: a commit on the landing site's registrable domain
// keeps the tab "on the ad landing site" and refreshes the on-site
// timestamp, no matter how long the tab was away; a commit elsewhere is
// tolerated until the tab has been off the landing site for offSiteGrace,
// after which attribution fully resets. An arm requested while the
// navigation was in flight takes effect afterwards, surviving the reset.
func (s *StateAndLogs) OnNavigationCommitted(tab TabID, urlSpec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	ts.swapCommitted()
	ts.navigationInFlight = false
	ts.pendingURL = ""
	rearm := ts.armPending
	ts.armPending = false

	if ts.adLandingDomain != "" {
		switch {
		case utils.RegistrableDomain(hostOf(urlSpec)) == ts.adLandingDomain:
			ts.onLandingSite = true
			ts.lastOnSite = s.clk.Now()
		case s.clk.Now().Sub(ts.lastOnSite) < offSiteGrace:
			ts.onLandingSite = false
		default:
			ts.resetAttribution()
		}
	}
	if rearm {
		ts.armed = true
	}
}

// OnNavigationFailed discards the pending buffers of a navigation that
// never committed.
func (s *StateAndLogs) OnNavigationFailed(tab TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tab(tab)
	ts.discardPending()
	ts.navigationInFlight = false
	ts.pendingURL = ""
}

// DoesAdAttributionMatch checks a tracker request against the current
// attribution. matchSpec is "matchDomain|trigger". The request passes when
// the tab is on the ad landing site, the trigger equals the armed one, and
// the match domain sits on the click domain's suffix chain. A passing
// tracker URL is recorded as allowed; each distinct URL passes once.
func (s *StateAndLogs) DoesAdAttributionMatch(tab TabID, trackerURLSpec, matchSpec string) bool {
	matchDomain, trigger, ok := strings.Cut(matchSpec, "|")
	if !ok {
		return false
	}
	matchDomain = utils.CanonicalHost(matchDomain)

	s.mu.Lock()
	ts := s.tab(tab)
	if !ts.onLandingSite || trigger == "" || trigger != ts.currentTrigger {
		s.mu.Unlock()
		return false
	}
	if !utils.IsSubdomainOf(ts.adClickDomain, matchDomain) {
		s.mu.Unlock()
		return false
	}
	if _, seen := ts.allowedTrackers[trackerURLSpec]; seen {
		s.mu.Unlock()
		return false
	}
	ts.allowedTrackers[trackerURLSpec] = struct{}{}
	s.mu.Unlock()

	s.allowedNotify.trigger()
	return true
}

// IsAttributionTrackerAllowed reports whether the tracker URL was allowed
// through by a previous attribution match.
func (s *StateAndLogs) IsAttributionTrackerAllowed(tab TabID, trackerURLSpec string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tabs[tab]
	if !ok {
		return false
	}
	_, allowed := ts.allowedTrackers[trackerURLSpec]
	return allowed
}

// AdLandingDomain returns the tracked ad-landing registrable domain.
func (s *StateAndLogs) AdLandingDomain(tab TabID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tabs[tab]; ok {
		return ts.adLandingDomain
	}
	return ""
}

// IsOnAdLandingSite reports whether the tab currently counts as being on
// the ad landing site.
func (s *StateAndLogs) IsOnAdLandingSite(tab TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tabs[tab]; ok {
		return ts.onLandingSite
	}
	return false
}

// tab returns the state for a tab, creating it on first touch.
func (s *StateAndLogs) tab(tab TabID) *tabState {
	ts, ok := s.tabs[tab]
	if !ok {
		ts = newTabState()
		s.tabs[tab] = ts
	}
	return ts
}

// scanTriggersLocked checks an in-flight navigation URL against the armed
// query triggers. The first hit fixes the landing domain and the matched
// trigger and starts the expiry countdown from the original click time.
func (s *StateAndLogs) scanTriggersLocked(tab TabID, ts *tabState, urlSpec string) {
	if len(ts.armedTriggers) == 0 {
		return
	}
	u, err := url.Parse(urlSpec)
	if err != nil || u.RawQuery == "" {
		return
	}
	for _, trigger := range ts.armedTriggers {
		if trigger == "" || !strings.Contains(u.RawQuery, trigger) {
			continue
		}
		ts.currentTrigger = trigger
		ts.adLandingDomain = utils.RegistrableDomain(utils.CanonicalHost(u.Hostname()))
		ts.armedTriggers = nil
		ts.lastOnSite = s.clk.Now()
		s.scheduleExpiryLocked(tab, ts)
		s.logger.Debug(map[string]any{
			"tab":     tab,
			"landing": ts.adLandingDomain,
			"trigger": trigger,
		}, "ad attribution landing tracked")
		return
	}
}

// scheduleExpiryLocked arms the expiry timer for the remainder of the
// 7-day window measured from the click. An already-expired click resets
// immediately.
func (s *StateAndLogs) scheduleExpiryLocked(tab TabID, ts *tabState) {
	if ts.expiry != nil {
		ts.expiry.Stop()
		ts.expiry = nil
	}
	remaining := ts.clickTime.Add(attributionExpiry).Sub(s.clk.Now())
	if remaining <= 0 {
		ts.resetAttribution()
		return
	}
	ts.expiry = s.sched.AfterFunc(remaining, func() {
		s.expireAttribution(tab)
	})
}

func (s *StateAndLogs) expireAttribution(tab TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tabs[tab]; ok {
		ts.resetAttribution()
	}
}
