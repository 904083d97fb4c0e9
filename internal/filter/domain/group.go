package domain

// RuleGroup identifies one of the two independent, identically-shaped
// filtering pipelines.
type RuleGroup uint8

const (
	TrackingRules RuleGroup = iota
	AdBlockingRules
)

// AllRuleGroups returns every rule group in a stable order.
func AllRuleGroups() []RuleGroup {
	return []RuleGroup{TrackingRules, AdBlockingRules}
}

// IsValid returns true if the RuleGroup is one of the defined groups.
func (g RuleGroup) IsValid() bool {
	return g == TrackingRules || g == AdBlockingRules
}

func (g RuleGroup) String() string {
	switch g {
	case TrackingRules:
		return "tracking-rules"
	case AdBlockingRules:
		return "ad-blocking-rules"
	default:
		return "unknown"
	}
}
