package rulemanager

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Manager owns the set of currently active rule sources per group, the
// exception lists, and the domain-exemption policy evaluator. Mutations are
// synchronous; fetch results arrive asynchronously and are re-validated
// against the current source set before they are applied.
type Manager struct {
	mu        sync.Mutex
	groups    map[domain.RuleGroup]*groupState
	factory   HandlerFactory
	saver     Saver
	logger    log.Logger
	observers observerList
	decisions *lru.Cache[string, bool]

	trackerSink func(group domain.RuleGroup, infos []domain.TrackerInfo)
}

type groupState struct {
	enabled       bool
	sources       map[domain.SourceID]*managedSource
	exceptions    map[domain.ExceptionListID]map[string]struct{}
	activeList    domain.ExceptionListID
	indexChecksum string
}

type managedSource struct {
	snapshot domain.ActiveRuleSource
	handler  SourceHandler
}

// Options configures a Manager.
type Options struct {
	Factory   HandlerFactory
	Saver     Saver
	Logger    log.Logger
	CacheSize int
}

// New constructs a Manager with empty exception sets and no active sources.
func New(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("rulemanager: handler factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 1000
	}
	decisions, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("rulemanager: decision cache: %w", err)
	}

	m := &Manager{
		groups:    make(map[domain.RuleGroup]*groupState),
		factory:   opts.Factory,
		saver:     opts.Saver,
		logger:    opts.Logger,
		decisions: decisions,
	}
	for _, g := range domain.AllRuleGroups() {
		m.groups[g] = &groupState{
			enabled: true,
			sources: make(map[domain.SourceID]*managedSource),
			exceptions: map[domain.ExceptionListID]map[string]struct{}{
				domain.ProcessList: make(map[string]struct{}),
				domain.ExemptList:  make(map[string]struct{}),
			},
			activeList: domain.ExemptList,
		}
	}
	return m, nil
}

// AddObserver registers an observer for source and exception events.
func (m *Manager) AddObserver(o Observer) {
	m.observers.add(o)
}

// RemoveObserver unregisters an observer.
func (m *Manager) RemoveObserver(o Observer) {
	m.observers.remove(o)
}

// AddRulesSource activates a new source in the group. It fails without
// mutating state when a source with the same id already exists. On success
// the source is stored, an immediate fetch is triggered, and a save is
// scheduled.
func (m *Manager) AddRulesSource(group domain.RuleGroup, core domain.RuleSourceCore) bool {
	m.mu.Lock()
	gs := m.groups[group]
	if _, exists := gs.sources[core.ID]; exists {
		m.mu.Unlock()
		return false
	}
	ms := &managedSource{snapshot: domain.NewActiveRuleSource(core)}
	ms.handler = m.factory.NewHandler(group, core, m.callbacks())
	gs.sources[core.ID] = ms
	m.mu.Unlock()

	m.logger.Info(map[string]any{
		"group":  group.String(),
		"id":     core.ID,
		"source": core.Location.Spec(),
	}, "rule source added")

	ms.handler.FetchNow()
	m.scheduleSave()
	return true
}

// RestoreRuleSource reinstates a persisted active source without scheduling
// a save. The persisted runtime snapshot is kept; a fetch is only forced
// when the source has never completed one.
func (m *Manager) RestoreRuleSource(group domain.RuleGroup, snapshot domain.ActiveRuleSource) bool {
	m.mu.Lock()
	gs := m.groups[group]
	if _, exists := gs.sources[snapshot.Core.ID]; exists {
		m.mu.Unlock()
		return false
	}
	snapshot.Fetching = false
	ms := &managedSource{snapshot: snapshot}
	ms.handler = m.factory.NewHandler(group, snapshot.Core, m.callbacks())
	gs.sources[snapshot.Core.ID] = ms
	m.mu.Unlock()

	if snapshot.LastResult != domain.FetchResultSuccess {
		ms.handler.FetchNow()
	}
	return true
}

// DeleteRuleSource deactivates a source. It is a no-op returning false when
// the source is absent. On success the handler clears its persisted
// artifacts, observers are notified with the removed id, and a save is
// scheduled. Any in-flight fetch result for the source is dropped when it
// arrives.
func (m *Manager) DeleteRuleSource(group domain.RuleGroup, core domain.RuleSourceCore) bool {
	m.mu.Lock()
	gs := m.groups[group]
	ms, exists := gs.sources[core.ID]
	if !exists {
		m.mu.Unlock()
		return false
	}
	delete(gs.sources, core.ID)
	m.mu.Unlock()

	ms.handler.Clear()
	m.logger.Info(map[string]any{
		"group": group.String(),
		"id":    core.ID,
	}, "rule source deleted")

	m.observers.each(func(o Observer) {
		o.OnRuleSourceDeleted(group, core.ID)
	})
	m.scheduleSave()
	return true
}

// GetRuleSource returns a copy of the runtime state for one source.
func (m *Manager) GetRuleSource(group domain.RuleGroup, id domain.SourceID) (domain.ActiveRuleSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.groups[group].sources[id]
	if !ok {
		return domain.ActiveRuleSource{}, false
	}
	return ms.snapshot, true
}

// GetRuleSources returns copies of all active sources in the group, ordered
// by id for stable iteration.
func (m *Manager) GetRuleSources(group domain.RuleGroup) []domain.ActiveRuleSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs := m.groups[group]
	out := make([]domain.ActiveRuleSource, 0, len(gs.sources))
	for _, ms := range gs.sources {
		out = append(out, ms.snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core.ID < out[j].Core.ID })
	return out
}

// FetchRuleSourceNow forces an out-of-schedule fetch. Returns false when
// the id is unknown.
func (m *Manager) FetchRuleSourceNow(group domain.RuleGroup, id domain.SourceID) bool {
	m.mu.Lock()
	ms, ok := m.groups[group].sources[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ms.handler.FetchNow()
	return true
}

// IsGroupEnabled reports whether filtering is enabled for the group.
func (m *Manager) IsGroupEnabled(group domain.RuleGroup) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[group].enabled
}

// SetGroupEnabled toggles filtering for a whole group.
func (m *Manager) SetGroupEnabled(group domain.RuleGroup, enabled bool) {
	m.mu.Lock()
	gs := m.groups[group]
	if gs.enabled == enabled {
		m.mu.Unlock()
		return
	}
	gs.enabled = enabled
	m.decisions.Purge()
	m.mu.Unlock()

	m.observers.each(func(o Observer) {
		o.OnRuleGroupEnabled(group, enabled)
	})
	m.scheduleSave()
}

// IndexChecksum returns the last known checksum of the compiled matcher
// index for the group.
func (m *Manager) IndexChecksum(group domain.RuleGroup) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[group].indexChecksum
}

// SetIndexChecksum records the checksum of the compiled matcher index.
func (m *Manager) SetIndexChecksum(group domain.RuleGroup, checksum string) {
	m.mu.Lock()
	changed := m.groups[group].indexChecksum != checksum
	m.groups[group].indexChecksum = checksum
	m.mu.Unlock()
	if changed {
		m.scheduleSave()
	}
}

// callbacks binds the manager's completion handlers for a source handler.
func (m *Manager) callbacks() HandlerCallbacks {
	return HandlerCallbacks{
		OnSourceUpdated: m.onSourceUpdated,
		OnTrackerInfos: func(group domain.RuleGroup, infos []domain.TrackerInfo) {
			m.mu.Lock()
			sink := m.trackerSink
			m.mu.Unlock()
			if sink != nil {
				sink(group, infos)
			}
		},
	}
}

// SetTrackerInfoSink routes tracker-info deliveries from source handlers to
// the given consumer. Must be called before sources are added.
func (m *Manager) SetTrackerInfoSink(sink func(group domain.RuleGroup, infos []domain.TrackerInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackerSink = sink
}

// onSourceUpdated applies a completed fetch result. A result for a source
// that was deleted while the fetch was in flight is dropped.
func (m *Manager) onSourceUpdated(group domain.RuleGroup, snapshot domain.ActiveRuleSource) {
	m.mu.Lock()
	ms, exists := m.groups[group].sources[snapshot.Core.ID]
	if !exists {
		m.mu.Unlock()
		m.logger.Debug(map[string]any{
			"group": group.String(),
			"id":    snapshot.Core.ID,
		}, "dropping fetch result for deleted source")
		return
	}
	ms.snapshot = snapshot
	m.mu.Unlock()

	m.observers.each(func(o Observer) {
		o.OnRuleSourceUpdated(group, snapshot)
	})
	m.scheduleSave()
}

func (m *Manager) scheduleSave() {
	if m.saver != nil {
		m.saver.ScheduleSave()
	}
}
