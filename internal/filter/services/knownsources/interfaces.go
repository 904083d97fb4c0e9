package knownsources

import "github.com/haukened/rr-filter/internal/filter/domain"

// SourceEnabler is the slice of the rule manager the catalogue needs to
// enable and disable sources.
type SourceEnabler interface {
	AddRulesSource(group domain.RuleGroup, core domain.RuleSourceCore) bool
	DeleteRuleSource(group domain.RuleGroup, core domain.RuleSourceCore) bool
	GetRuleSource(group domain.RuleGroup, id domain.SourceID) (domain.ActiveRuleSource, bool)
}

// Saver schedules a debounced persistent save of the full service state.
type Saver interface {
	ScheduleSave()
}
