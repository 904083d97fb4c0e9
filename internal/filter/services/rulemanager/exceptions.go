package rulemanager

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// GetActiveExceptionList returns the group's active exception list selector.
func (m *Manager) GetActiveExceptionList(group domain.RuleGroup) domain.ExceptionListID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[group].activeList
}

// SetActiveExceptionList switches which list drives the exemption policy.
func (m *Manager) SetActiveExceptionList(group domain.RuleGroup, list domain.ExceptionListID) {
	if !list.IsValid() {
		return
	}
	m.mu.Lock()
	gs := m.groups[group]
	if gs.activeList == list {
		m.mu.Unlock()
		return
	}
	gs.activeList = list
	m.decisions.Purge()
	m.mu.Unlock()

	m.observers.each(func(o Observer) {
		o.OnActiveExceptionListChanged(group, list)
	})
	m.scheduleSave()
}

// GetExceptions returns a sorted copy of one exception set.
func (m *Manager) GetExceptions(group domain.RuleGroup, list domain.ExceptionListID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.groups[group].exceptions[list]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// SetExceptions replaces one exception set wholesale. Domains are
// canonicalized; empties are dropped.
func (m *Manager) SetExceptions(group domain.RuleGroup, list domain.ExceptionListID, domains []string) {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if cd := utils.CanonicalHost(d); cd != "" {
			set[cd] = struct{}{}
		}
	}

	m.mu.Lock()
	m.groups[group].exceptions[list] = set
	m.decisions.Purge()
	m.mu.Unlock()

	m.observers.each(func(o Observer) {
		o.OnExceptionListChanged(group, list)
	})
	m.scheduleSave()
}

// AddExceptionForDomain inserts the canonicalized domain into the group's
// active exception list.
func (m *Manager) AddExceptionForDomain(group domain.RuleGroup, dom string) {
	cd := utils.CanonicalHost(dom)
	if cd == "" {
		return
	}

	m.mu.Lock()
	gs := m.groups[group]
	list := gs.activeList
	if _, exists := gs.exceptions[list][cd]; exists {
		m.mu.Unlock()
		return
	}
	gs.exceptions[list][cd] = struct{}{}
	m.decisions.Purge()
	m.mu.Unlock()

	m.observers.each(func(o Observer) {
		o.OnExceptionListChanged(group, list)
	})
	m.scheduleSave()
}

// RemoveExceptionForDomain removes the canonicalized domain and every
// ancestor domain reachable by repeatedly dropping the left-most label from
// the group's active list ("a.b.c" also removes "b.c" and "c").
func (m *Manager) RemoveExceptionForDomain(group domain.RuleGroup, dom string) {
	cd := utils.CanonicalHost(dom)
	if cd == "" {
		return
	}

	m.mu.Lock()
	gs := m.groups[group]
	list := gs.activeList
	set := gs.exceptions[list]
	removed := false
	utils.WalkSuffixes(cd, func(suffix string) bool {
		if _, exists := set[suffix]; exists {
			delete(set, suffix)
			removed = true
		}
		return true
	})
	if removed {
		m.decisions.Purge()
	}
	m.mu.Unlock()

	if !removed {
		return
	}
	m.observers.each(func(o Observer) {
		o.OnExceptionListChanged(group, list)
	})
	m.scheduleSave()
}

// IsExemptOfFiltering reports whether the origin is currently exempt from
// filtering in the group. With ProcessList active only listed domains (and
// subdomains) are filtered; with ExemptList active everything is filtered
// except listed domains (and subdomains). A disabled group exempts all
// origins.
func (m *Manager) IsExemptOfFiltering(group domain.RuleGroup, origin string) bool {
	host := originHost(origin)

	m.mu.Lock()
	gs := m.groups[group]
	if !gs.enabled {
		m.mu.Unlock()
		return true
	}
	defaultExempt := gs.activeList == domain.ProcessList
	if host == "" {
		m.mu.Unlock()
		return defaultExempt
	}

	key := fmt.Sprintf("%d|%s", group, host)
	if exempt, ok := m.decisions.Get(key); ok {
		m.mu.Unlock()
		return exempt
	}

	exempt := defaultExempt
	set := gs.exceptions[gs.activeList]
	utils.WalkSuffixes(host, func(suffix string) bool {
		if _, listed := set[suffix]; listed {
			exempt = !defaultExempt
			return false
		}
		return true
	})
	m.decisions.Add(key, exempt)
	m.mu.Unlock()
	return exempt
}

// originHost extracts the canonical host from an origin, accepting either a
// full URL or a bare host. Opaque origins ("null", about:blank, data:)
// carry no host and yield "".
func originHost(origin string) string {
	if origin == "" || origin == "null" {
		return ""
	}
	if u, err := url.Parse(origin); err == nil {
		if u.Host != "" {
			return utils.CanonicalHost(u.Hostname())
		}
		if u.Scheme != "" || u.Opaque != "" {
			return ""
		}
	}
	if u, err := url.Parse("//" + origin); err == nil && u.Host != "" {
		return utils.CanonicalHost(u.Hostname())
	}
	return ""
}
