// Package knownsources keeps the catalogue of rule sources the user could
// enable - built-in presets and user additions - synchronized with the
// compiled-in preset table across application versions, without silently
// discarding user intent.
package knownsources

import (
	"sort"
	"sync"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Handler owns the per-group known-source catalogue and the deleted-preset
// bookkeeping. Enabling and disabling delegates to the rule manager.
type Handler struct {
	mu      sync.Mutex
	groups  map[domain.RuleGroup]*catalogue
	manager SourceEnabler
	saver   Saver
	logger  log.Logger
}

type catalogue struct {
	known          map[domain.SourceID]domain.KnownRuleSource
	deletedPresets map[string]struct{}
}

// Options configures a Handler.
type Options struct {
	Manager SourceEnabler
	Saver   Saver
	Logger  log.Logger
}

// New constructs a Handler with an empty catalogue.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h := &Handler{
		groups:  make(map[domain.RuleGroup]*catalogue),
		manager: opts.Manager,
		saver:   opts.Saver,
		logger:  opts.Logger,
	}
	for _, g := range domain.AllRuleGroups() {
		h.groups[g] = &catalogue{
			known:          make(map[domain.SourceID]domain.KnownRuleSource),
			deletedPresets: make(map[string]struct{}),
		}
	}
	return h
}

// AddSource adds a source to the catalogue. It fails without mutating
// state when a source with the same id is already known.
func (h *Handler) AddSource(group domain.RuleGroup, ks domain.KnownRuleSource) bool {
	h.mu.Lock()
	cat := h.groups[group]
	if _, exists := cat.known[ks.Core.ID]; exists {
		h.mu.Unlock()
		return false
	}
	cat.known[ks.Core.ID] = ks
	h.mu.Unlock()

	h.logger.Info(map[string]any{
		"group":  group.String(),
		"id":     ks.Core.ID,
		"source": ks.Core.Location.Spec(),
	}, "known source added")
	h.scheduleSave()
	return true
}

// RestoreSource reinstates a persisted known source without scheduling a
// save. Used only on load.
func (h *Handler) RestoreSource(group domain.RuleGroup, ks domain.KnownRuleSource) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cat := h.groups[group]
	if _, exists := cat.known[ks.Core.ID]; exists {
		return false
	}
	cat.known[ks.Core.ID] = ks
	return true
}

// RemoveSource removes a source from the catalogue. Removal fails for
// unknown ids and for non-removable sources. A removed preset-backed source
// records its preset id so a later reconciliation never silently re-adds it.
func (h *Handler) RemoveSource(group domain.RuleGroup, id domain.SourceID) bool {
	h.mu.Lock()
	cat := h.groups[group]
	ks, exists := cat.known[id]
	if !exists || !ks.Removable {
		h.mu.Unlock()
		return false
	}
	delete(cat.known, id)
	if ks.PresetID != "" {
		cat.deletedPresets[ks.PresetID] = struct{}{}
	}
	h.mu.Unlock()

	h.manager.DeleteRuleSource(group, ks.Core)
	h.logger.Info(map[string]any{
		"group": group.String(),
		"id":    id,
	}, "known source removed")
	h.scheduleSave()
	return true
}

// Source returns one known source by id.
func (h *Handler) Source(group domain.RuleGroup, id domain.SourceID) (domain.KnownRuleSource, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ks, ok := h.groups[group].known[id]
	return ks, ok
}

// Sources returns copies of all known sources in the group, ordered by id.
func (h *Handler) Sources(group domain.RuleGroup) []domain.KnownRuleSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	cat := h.groups[group]
	out := make([]domain.KnownRuleSource, 0, len(cat.known))
	for _, ks := range cat.known {
		out = append(out, ks)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core.ID < out[j].Core.ID })
	return out
}

// SourceByPresetID returns the known source tracked under a preset id.
func (h *Handler) SourceByPresetID(group domain.RuleGroup, presetID string) (domain.KnownRuleSource, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ks := range h.groups[group].known {
		if ks.PresetID == presetID {
			return ks, true
		}
	}
	return domain.KnownRuleSource{}, false
}

// EnableSource activates a known source via the rule manager. Fails for
// unknown ids and for sources that are already enabled.
func (h *Handler) EnableSource(group domain.RuleGroup, id domain.SourceID) bool {
	h.mu.Lock()
	ks, exists := h.groups[group].known[id]
	h.mu.Unlock()
	if !exists {
		return false
	}
	return h.manager.AddRulesSource(group, ks.Core)
}

// DisableSource deactivates a known source. Fails when the source is not
// known or not currently enabled.
func (h *Handler) DisableSource(group domain.RuleGroup, id domain.SourceID) bool {
	h.mu.Lock()
	ks, exists := h.groups[group].known[id]
	h.mu.Unlock()
	if !exists {
		return false
	}
	return h.manager.DeleteRuleSource(group, ks.Core)
}

// IsSourceEnabled reports whether the known source is currently active.
func (h *Handler) IsSourceEnabled(group domain.RuleGroup, id domain.SourceID) bool {
	_, enabled := h.manager.GetRuleSource(group, id)
	return enabled
}

// SetSourceSettings mutates a known source's parse settings. Settings only
// change while the source is disabled, so stale and fresh parse behavior
// never mix; non-removable sources keep their compiled-in settings.
func (h *Handler) SetSourceSettings(group domain.RuleGroup, id domain.SourceID, settings domain.SourceSettings) bool {
	if h.IsSourceEnabled(group, id) {
		return false
	}

	h.mu.Lock()
	cat := h.groups[group]
	ks, exists := cat.known[id]
	if !exists || !ks.Removable {
		h.mu.Unlock()
		return false
	}
	ks.Core.Settings = settings
	cat.known[id] = ks
	h.mu.Unlock()

	h.scheduleSave()
	return true
}

// DeletedPresets returns the sorted preset ids the user removed, which
// reconciliation must never silently re-add.
func (h *Handler) DeletedPresets(group domain.RuleGroup) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cat := h.groups[group]
	out := make([]string, 0, len(cat.deletedPresets))
	for id := range cat.deletedPresets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RestoreDeletedPresets reinstates persisted deleted-preset tracking on load.
func (h *Handler) RestoreDeletedPresets(group domain.RuleGroup, presetIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cat := h.groups[group]
	for _, id := range presetIDs {
		cat.deletedPresets[id] = struct{}{}
	}
}

func (h *Handler) scheduleSave() {
	if h.saver != nil {
		h.saver.ScheduleSave()
	}
}
