package rulemanager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// fakeHandler records pipeline calls.
type fakeHandler struct {
	mu      sync.Mutex
	fetches int
	cleared int
}

func (h *fakeHandler) FetchNow() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
}

func (h *fakeHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared++
}

func (h *fakeHandler) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches
}

func (h *fakeHandler) clearCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleared
}

// fakeFactory hands out fakeHandlers and keeps the callbacks so tests can
// simulate pipeline completions.
type fakeFactory struct {
	mu        sync.Mutex
	handlers  map[domain.SourceID]*fakeHandler
	callbacks map[domain.SourceID]HandlerCallbacks
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		handlers:  make(map[domain.SourceID]*fakeHandler),
		callbacks: make(map[domain.SourceID]HandlerCallbacks),
	}
}

func (f *fakeFactory) NewHandler(group domain.RuleGroup, core domain.RuleSourceCore, cb HandlerCallbacks) SourceHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandler{}
	f.handlers[core.ID] = h
	f.callbacks[core.ID] = cb
	return h
}

func (f *fakeFactory) handler(id domain.SourceID) *fakeHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[id]
}

func (f *fakeFactory) complete(group domain.RuleGroup, snapshot domain.ActiveRuleSource) {
	f.mu.Lock()
	cb := f.callbacks[snapshot.Core.ID]
	f.mu.Unlock()
	cb.OnSourceUpdated(group, snapshot)
}

type fakeSaver struct {
	mu    sync.Mutex
	saves int
}

func (s *fakeSaver) ScheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// recordingObserver captures every event it sees.
type recordingObserver struct {
	mu           sync.Mutex
	updated      []domain.SourceID
	deleted      []domain.SourceID
	activeLists  []domain.ExceptionListID
	listsChanged []domain.ExceptionListID
	groupToggles []bool
}

func (o *recordingObserver) OnRuleSourceUpdated(_ domain.RuleGroup, src domain.ActiveRuleSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updated = append(o.updated, src.Core.ID)
}

func (o *recordingObserver) OnRuleSourceDeleted(_ domain.RuleGroup, id domain.SourceID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, id)
}

func (o *recordingObserver) OnActiveExceptionListChanged(_ domain.RuleGroup, list domain.ExceptionListID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeLists = append(o.activeLists, list)
}

func (o *recordingObserver) OnExceptionListChanged(_ domain.RuleGroup, list domain.ExceptionListID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listsChanged = append(o.listsChanged, list)
}

func (o *recordingObserver) OnRuleGroupEnabled(_ domain.RuleGroup, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.groupToggles = append(o.groupToggles, enabled)
}

func newTestManager(t *testing.T) (*Manager, *fakeFactory, *fakeSaver) {
	t.Helper()
	factory := newFakeFactory()
	saver := &fakeSaver{}
	m, err := New(Options{Factory: factory, Saver: saver})
	require.NoError(t, err)
	return m, factory, saver
}

func testCore(t *testing.T, spec string) domain.RuleSourceCore {
	t.Helper()
	core, err := domain.NewRuleSourceCore(domain.URLLocation(spec), domain.DefaultSourceSettings())
	require.NoError(t, err)
	return core
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestAddRulesSource(t *testing.T) {
	m, factory, saver := newTestManager(t)
	core := testCore(t, "https://example.com/list.txt")

	ok := m.AddRulesSource(domain.AdBlockingRules, core)
	require.True(t, ok)

	// The new source is immediately fetched and a save is scheduled.
	assert.Equal(t, 1, factory.handler(core.ID).fetchCount())
	assert.Equal(t, 1, saver.count())

	src, found := m.GetRuleSource(domain.AdBlockingRules, core.ID)
	require.True(t, found)
	assert.Equal(t, domain.FetchResultUnknown, src.LastResult)
}

func TestAddRulesSource_DuplicateFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	core := testCore(t, "https://example.com/list.txt")

	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))
	assert.False(t, m.AddRulesSource(domain.AdBlockingRules, core))
	assert.Len(t, m.GetRuleSources(domain.AdBlockingRules), 1)
}

func TestAddRulesSource_GroupsAreIndependent(t *testing.T) {
	m, _, _ := newTestManager(t)
	core := testCore(t, "https://example.com/list.txt")

	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))
	assert.True(t, m.AddRulesSource(domain.TrackingRules, core))
}

func TestRestoreRuleSource_FetchesOnlyUnsuccessful(t *testing.T) {
	m, factory, _ := newTestManager(t)

	good := domain.NewActiveRuleSource(testCore(t, "https://example.com/good.txt"))
	good.LastResult = domain.FetchResultSuccess
	require.True(t, m.RestoreRuleSource(domain.AdBlockingRules, good))
	assert.Equal(t, 0, factory.handler(good.Core.ID).fetchCount())

	bad := domain.NewActiveRuleSource(testCore(t, "https://example.com/bad.txt"))
	bad.LastResult = domain.FetchResultDownloadFailed
	require.True(t, m.RestoreRuleSource(domain.AdBlockingRules, bad))
	assert.Equal(t, 1, factory.handler(bad.Core.ID).fetchCount())
}

func TestRestoreRuleSource_ClearsFetchingFlag(t *testing.T) {
	m, _, _ := newTestManager(t)

	snap := domain.NewActiveRuleSource(testCore(t, "https://example.com/list.txt"))
	snap.LastResult = domain.FetchResultSuccess
	snap.Fetching = true
	require.True(t, m.RestoreRuleSource(domain.AdBlockingRules, snap))

	got, found := m.GetRuleSource(domain.AdBlockingRules, snap.Core.ID)
	require.True(t, found)
	assert.False(t, got.Fetching)
}

func TestDeleteRuleSource(t *testing.T) {
	m, factory, _ := newTestManager(t)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	core := testCore(t, "https://example.com/list.txt")
	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))

	ok := m.DeleteRuleSource(domain.AdBlockingRules, core)
	require.True(t, ok)
	assert.Equal(t, 1, factory.handler(core.ID).clearCount())
	assert.Equal(t, []domain.SourceID{core.ID}, obs.deleted)

	_, found := m.GetRuleSource(domain.AdBlockingRules, core.ID)
	assert.False(t, found)

	// Deleting again is a no-op.
	assert.False(t, m.DeleteRuleSource(domain.AdBlockingRules, core))
}

func TestOnSourceUpdated_AppliesResult(t *testing.T) {
	m, factory, _ := newTestManager(t)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	core := testCore(t, "https://example.com/list.txt")
	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))

	done := domain.NewActiveRuleSource(core)
	done.LastResult = domain.FetchResultSuccess
	done.ValidRules = 42
	factory.complete(domain.AdBlockingRules, done)

	got, found := m.GetRuleSource(domain.AdBlockingRules, core.ID)
	require.True(t, found)
	assert.Equal(t, domain.FetchResultSuccess, got.LastResult)
	assert.Equal(t, 42, got.ValidRules)
	assert.Equal(t, []domain.SourceID{core.ID}, obs.updated)
}

func TestOnSourceUpdated_DropsResultForDeletedSource(t *testing.T) {
	m, factory, _ := newTestManager(t)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	core := testCore(t, "https://example.com/list.txt")
	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))
	require.True(t, m.DeleteRuleSource(domain.AdBlockingRules, core))

	late := domain.NewActiveRuleSource(core)
	late.LastResult = domain.FetchResultSuccess
	factory.complete(domain.AdBlockingRules, late)

	_, found := m.GetRuleSource(domain.AdBlockingRules, core.ID)
	assert.False(t, found)
	assert.Empty(t, obs.updated)
}

func TestFetchRuleSourceNow(t *testing.T) {
	m, factory, _ := newTestManager(t)
	core := testCore(t, "https://example.com/list.txt")
	require.True(t, m.AddRulesSource(domain.AdBlockingRules, core))

	assert.True(t, m.FetchRuleSourceNow(domain.AdBlockingRules, core.ID))
	assert.Equal(t, 2, factory.handler(core.ID).fetchCount())

	assert.False(t, m.FetchRuleSourceNow(domain.AdBlockingRules, core.ID+1))
}

func TestSetGroupEnabled(t *testing.T) {
	m, _, saver := newTestManager(t)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	assert.True(t, m.IsGroupEnabled(domain.AdBlockingRules))

	m.SetGroupEnabled(domain.AdBlockingRules, false)
	assert.False(t, m.IsGroupEnabled(domain.AdBlockingRules))
	assert.Equal(t, []bool{false}, obs.groupToggles)

	// No-op toggle neither notifies nor saves again.
	before := saver.count()
	m.SetGroupEnabled(domain.AdBlockingRules, false)
	assert.Equal(t, []bool{false}, obs.groupToggles)
	assert.Equal(t, before, saver.count())
}

func TestIndexChecksum(t *testing.T) {
	m, _, saver := newTestManager(t)

	assert.Empty(t, m.IndexChecksum(domain.TrackingRules))
	m.SetIndexChecksum(domain.TrackingRules, "abc123")
	assert.Equal(t, "abc123", m.IndexChecksum(domain.TrackingRules))

	before := saver.count()
	m.SetIndexChecksum(domain.TrackingRules, "abc123")
	assert.Equal(t, before, saver.count())
}

func TestTrackerInfoSink(t *testing.T) {
	m, factory, _ := newTestManager(t)

	var gotGroup domain.RuleGroup
	var gotInfos []domain.TrackerInfo
	m.SetTrackerInfoSink(func(group domain.RuleGroup, infos []domain.TrackerInfo) {
		gotGroup = group
		gotInfos = infos
	})

	core := testCore(t, "https://example.com/tds.json")
	require.True(t, m.AddRulesSource(domain.TrackingRules, core))

	factory.mu.Lock()
	cb := factory.callbacks[core.ID]
	factory.mu.Unlock()
	cb.OnTrackerInfos(domain.TrackingRules, []domain.TrackerInfo{{Domain: "tracker.example", Owner: "Example"}})

	assert.Equal(t, domain.TrackingRules, gotGroup)
	require.Len(t, gotInfos, 1)
	assert.Equal(t, "tracker.example", gotInfos[0].Domain)
}

func TestRemoveObserver(t *testing.T) {
	m, _, _ := newTestManager(t)
	obs := &recordingObserver{}
	m.AddObserver(obs)
	m.RemoveObserver(obs)

	m.SetGroupEnabled(domain.AdBlockingRules, false)
	assert.Empty(t, obs.groupToggles)
}
