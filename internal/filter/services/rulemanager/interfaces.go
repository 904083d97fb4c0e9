package rulemanager

import "github.com/haukened/rr-filter/internal/filter/domain"

// SourceHandler drives the external fetch/compile pipeline for one active
// source. FetchNow forces an out-of-schedule fetch; Clear removes any
// persisted artifacts for the source.
type SourceHandler interface {
	FetchNow()
	Clear()
}

// HandlerCallbacks are invoked by the pipeline when a fetch/compile cycle
// finishes. They may arrive on the pipeline's own goroutine; the manager
// re-validates that the source still exists before applying results.
type HandlerCallbacks struct {
	// OnSourceUpdated delivers the updated runtime snapshot for a source.
	OnSourceUpdated func(group domain.RuleGroup, snapshot domain.ActiveRuleSource)

	// OnTrackerInfos delivers parsed tracker metadata keyed by domain.
	OnTrackerInfos func(group domain.RuleGroup, infos []domain.TrackerInfo)
}

// HandlerFactory creates a fetch/compile handler for an active source.
type HandlerFactory interface {
	NewHandler(group domain.RuleGroup, core domain.RuleSourceCore, callbacks HandlerCallbacks) SourceHandler
}

// Saver schedules a debounced persistent save of the full service state.
type Saver interface {
	ScheduleSave()
}

// Observer receives rule-source and exception-policy events. Callbacks run
// outside the manager's lock, so observers may call back into the manager.
type Observer interface {
	OnRuleSourceUpdated(group domain.RuleGroup, source domain.ActiveRuleSource)
	OnRuleSourceDeleted(group domain.RuleGroup, id domain.SourceID)
	OnActiveExceptionListChanged(group domain.RuleGroup, list domain.ExceptionListID)
	OnExceptionListChanged(group domain.RuleGroup, list domain.ExceptionListID)
	OnRuleGroupEnabled(group domain.RuleGroup, enabled bool)
}
