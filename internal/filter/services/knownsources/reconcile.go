package knownsources

import (
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// ReconcileMode selects how UpdateSourcesFromPresets treats deleted-preset
// tracking.
type ReconcileMode uint8

const (
	// ReconcileReset re-adds every preset; deleted-preset tracking has been
	// cleared by the caller.
	ReconcileReset ReconcileMode = iota

	// ReconcileIncremental skips presets the user previously removed.
	ReconcileIncremental

	// ReconcileTrackMissing behaves like ReconcileIncremental, but a preset
	// absent from the catalogue is recorded as deleted instead of added.
	// Used exactly once, at the version boundary that introduced
	// deleted-preset tracking.
	ReconcileTrackMissing
)

// managerAction defers an enable/disable through the rule manager until the
// catalogue lock is released, since manager mutations notify observers that
// may call back into this handler.
type managerAction struct {
	enable bool
	core   domain.RuleSourceCore
}

// ResetPresetSources forgets deleted-preset tracking and reconciles the
// catalogue against the compiled-in table from scratch.
func (h *Handler) ResetPresetSources(group domain.RuleGroup, presets []domain.Preset) {
	h.mu.Lock()
	h.groups[group].deletedPresets = make(map[string]struct{})
	h.mu.Unlock()
	h.UpdateSourcesFromPresets(group, presets, ReconcileReset)
}

// UpdateSourcesFromPresets reconciles the known-source catalogue against
// the compiled-in preset table:
//
//  1. Index currently known preset-backed sources by preset id.
//  2. Walk the table in order. An empty address forces removal. A known
//     source already at the preset's address stays (refreshing bookkeeping
//     when it carries the preset id, untouched when the user added the same
//     address manually). A tracked preset at a different address moves,
//     carrying its enabled state. Anything else is added disabled, unless
//     deleted-preset tracking says the user removed it.
//  3. Tracked presets left over were dropped from the table: detach them
//     from preset tracking, and delete them unless currently enabled, so a
//     user who opted in keeps the source as a plain user source.
//  4. Schedule a save.
func (h *Handler) UpdateSourcesFromPresets(group domain.RuleGroup, presets []domain.Preset, mode ReconcileMode) {
	var actions []managerAction

	h.mu.Lock()
	cat := h.groups[group]

	knownPresets := make(map[string]domain.SourceID)
	for id, ks := range cat.known {
		if ks.PresetID != "" {
			knownPresets[ks.PresetID] = id
		}
	}

	for _, preset := range presets {
		if preset.Address == "" {
			// Forced removal, bypassing the removable flag.
			if oldID, tracked := knownPresets[preset.PresetID]; tracked {
				old := cat.known[oldID]
				delete(cat.known, oldID)
				delete(knownPresets, preset.PresetID)
				actions = append(actions, managerAction{enable: false, core: old.Core})
				h.logger.Info(map[string]any{
					"group":  group.String(),
					"preset": preset.PresetID,
				}, "preset force-removed")
			}
			continue
		}

		core, err := preset.Core()
		if err != nil {
			h.logger.Warn(map[string]any{
				"group":  group.String(),
				"preset": preset.PresetID,
				"error":  err.Error(),
			}, "skipping invalid preset")
			continue
		}

		if existing, known := cat.known[core.ID]; known {
			if existing.PresetID == preset.PresetID {
				// Steady state: refresh bookkeeping.
				delete(knownPresets, preset.PresetID)
			}
			// A source the user added at this exact address stays
			// untouched; any stale tracked entry for this preset id is
			// cleaned up below.
			continue
		}

		if oldID, tracked := knownPresets[preset.PresetID]; tracked {
			// The preset's address changed: move it, carrying the
			// enabled/disabled state across.
			old := cat.known[oldID]
			_, enabled := h.manager.GetRuleSource(group, oldID)
			delete(cat.known, oldID)
			cat.known[core.ID] = domain.KnownRuleSource{
				Core:      core,
				Removable: preset.Removable,
				PresetID:  preset.PresetID,
			}
			delete(knownPresets, preset.PresetID)
			actions = append(actions, managerAction{enable: false, core: old.Core})
			if enabled {
				actions = append(actions, managerAction{enable: true, core: core})
			}
			h.logger.Info(map[string]any{
				"group":   group.String(),
				"preset":  preset.PresetID,
				"address": preset.Address,
				"enabled": enabled,
			}, "preset address updated")
			continue
		}

		if mode == ReconcileTrackMissing {
			cat.deletedPresets[preset.PresetID] = struct{}{}
			continue
		}
		if _, deleted := cat.deletedPresets[preset.PresetID]; deleted {
			continue
		}
		cat.known[core.ID] = domain.KnownRuleSource{
			Core:      core,
			Removable: preset.Removable,
			PresetID:  preset.PresetID,
		}
		h.logger.Info(map[string]any{
			"group":   group.String(),
			"preset":  preset.PresetID,
			"address": preset.Address,
		}, "preset added")
	}

	// Presets dropped from the compiled table.
	for presetID, id := range knownPresets {
		ks := cat.known[id]
		if _, enabled := h.manager.GetRuleSource(group, id); enabled {
			ks.PresetID = ""
			ks.Removable = true
			cat.known[id] = ks
			h.logger.Info(map[string]any{
				"group":  group.String(),
				"preset": presetID,
				"id":     id,
			}, "retired preset kept as user source")
			continue
		}
		delete(cat.known, id)
		h.logger.Info(map[string]any{
			"group":  group.String(),
			"preset": presetID,
			"id":     id,
		}, "retired preset removed")
	}
	h.mu.Unlock()

	for _, a := range actions {
		if a.enable {
			h.manager.AddRulesSource(group, a.core)
		} else {
			h.manager.DeleteRuleSource(group, a.core)
		}
	}
	h.scheduleSave()
}
