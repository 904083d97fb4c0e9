package domain

// Preset describes one compiled-in rule source tracked across application
// versions. The PresetID stays stable even when the address changes; an
// empty Address marks the preset for forced removal.
type Preset struct {
	PresetID  string
	Address   string
	Removable bool
	Settings  SourceSettings
}

// Core builds the source identity for the preset's current address.
func (p Preset) Core() (RuleSourceCore, error) {
	return NewRuleSourceCore(URLLocation(p.Address), p.Settings)
}
