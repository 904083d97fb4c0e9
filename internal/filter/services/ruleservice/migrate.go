package ruleservice

import (
	"strings"

	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/presets"
	"github.com/haukened/rr-filter/internal/filter/repos/storage"
	"github.com/haukened/rr-filter/internal/filter/services/knownsources"
)

// migrate applies every ladder step whose threshold exceeds the persisted
// version, in order, interleaving the two one-time reconciliation modes at
// their historical positions. Returns whether a reconciliation ran, so the
// caller knows to skip the routine incremental pass.
func (s *Service) migrate(version int) bool {
	if version >= storage.CurrentVersion {
		return false
	}

	reconciled := false
	reconcile := func(mode knownsources.ReconcileMode) {
		for _, g := range domain.AllRuleGroups() {
			if mode == knownsources.ReconcileReset {
				s.known.ResetPresetSources(g, s.table.Group(g))
			} else {
				s.known.UpdateSourcesFromPresets(g, s.table.Group(g), mode)
			}
		}
		reconciled = true
	}

	if version < 1 {
		s.enablePreset(domain.TrackingRules, presets.TrackingMain)
		s.enablePreset(domain.AdBlockingRules, presets.AdsMain)
	}
	if version < 2 {
		reconcile(knownsources.ReconcileReset)
	}
	if version < 3 {
		s.enablePreset(domain.AdBlockingRules, presets.AdsPartner)
	}
	if version < 4 && !reconciled {
		reconcile(knownsources.ReconcileTrackMissing)
	}
	if version < 5 && s.regionalLocale() {
		s.enablePreset(domain.AdBlockingRules, presets.AdsRegionalRU)
	}
	if version < 6 {
		s.enablePreset(domain.AdBlockingRules, presets.AdsAntiCircumvention)
	}
	if version < 7 && !s.hasManualPreCacheList() {
		s.enablePreset(domain.AdBlockingRules, presets.AdsAdblockWarnings)
	}
	if version < 10 {
		s.refreshPreset(domain.AdBlockingRules, presets.AdsPartner)
	}
	return reconciled
}

// enablePreset makes sure the preset is in the catalogue and activates it.
func (s *Service) enablePreset(group domain.RuleGroup, presetID string) {
	p, ok := s.table.Find(group, presetID)
	if !ok || p.Address == "" {
		return
	}
	core, err := p.Core()
	if err != nil {
		s.logger.Warn(map[string]any{
			"preset": presetID,
			"error":  err.Error(),
		}, "cannot enable invalid preset")
		return
	}
	if _, known := s.known.Source(group, core.ID); !known {
		s.known.AddSource(group, domain.KnownRuleSource{
			Core:      core,
			Removable: p.Removable,
			PresetID:  p.PresetID,
		})
	}
	s.known.EnableSource(group, core.ID)
}

// refreshPreset disables and re-enables a currently active preset so its
// next fetch runs under the current compiled-in settings. Inactive presets
// stay untouched.
func (s *Service) refreshPreset(group domain.RuleGroup, presetID string) {
	ks, ok := s.known.SourceByPresetID(group, presetID)
	if !ok || !s.known.IsSourceEnabled(group, ks.Core.ID) {
		return
	}
	s.known.DisableSource(group, ks.Core.ID)
	s.known.EnableSource(group, ks.Core.ID)
}

// regionalLocale reports whether the configured locale's primary language
// subtag gets the regional ad list.
func (s *Service) regionalLocale() bool {
	lang := strings.ToLower(s.locale)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	for _, l := range presets.RegionalListLocales {
		if lang == l {
			return true
		}
	}
	return false
}

// hasManualPreCacheList reports whether the user added the adblock-warnings
// list by hand before it shipped as a preset. Such users keep their own
// copy; the preset is not force-enabled over it.
func (s *Service) hasManualPreCacheList() bool {
	id := domain.URLLocation(presets.AdblockWarningsPreCacheAddress).ID()
	ks, ok := s.known.Source(domain.AdBlockingRules, id)
	return ok && ks.PresetID == ""
}
