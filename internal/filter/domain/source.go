package domain

import (
	"fmt"
	"time"
)

// SourceSettings control how a source's list text is parsed and applied.
type SourceSettings struct {
	AllowABPSnippets             bool
	NakedHostnameIsPureHost      bool
	UseWholeDocumentAllow        bool
	AllowAttributionTrackerRules bool
}

// DefaultSourceSettings returns the settings applied to a source unless a
// preset or the user says otherwise.
func DefaultSourceSettings() SourceSettings {
	return SourceSettings{
		NakedHostnameIsPureHost: true,
		UseWholeDocumentAllow:   true,
	}
}

// RuleSourceCore is the immutable identity of a source: its location plus
// parse settings. ID is derived solely from the location.
type RuleSourceCore struct {
	ID       SourceID
	Location SourceLocation
	Settings SourceSettings
}

// NewRuleSourceCore constructs a RuleSourceCore and validates its location.
func NewRuleSourceCore(loc SourceLocation, settings SourceSettings) (RuleSourceCore, error) {
	if err := loc.Validate(); err != nil {
		return RuleSourceCore{}, err
	}
	return RuleSourceCore{
		ID:       loc.ID(),
		Location: loc,
		Settings: settings,
	}, nil
}

// Validate checks whether the core fields are consistent.
func (c RuleSourceCore) Validate() error {
	if err := c.Location.Validate(); err != nil {
		return err
	}
	if c.ID != c.Location.ID() {
		return fmt.Errorf("source id %d does not match location %q", c.ID, c.Location.Spec())
	}
	return nil
}

// KnownRuleSource is a source the user could enable: a core plus catalogue
// bookkeeping. Removable is false for permanently built-in sources.
// PresetID is non-empty only for sources tracked as a versioned preset.
type KnownRuleSource struct {
	Core      RuleSourceCore
	Removable bool
	PresetID  string
}

// ListMetadata carries unvalidated metadata parsed from the list text
// itself. None of it is trusted for anything but display and scheduling.
type ListMetadata struct {
	Title       string
	Homepage    string
	LicenseURL  string
	RedirectURL string
	Version     string
	Expires     time.Duration
}

// ActiveRuleSource is a currently enabled source together with its runtime
// fetch state.
type ActiveRuleSource struct {
	Core             RuleSourceCore
	RulesChecksum    string
	Unsafe           ListMetadata
	LastUpdate       time.Time
	NextFetch        time.Time
	Fetching         bool
	LastResult       FetchResult
	ValidRules       int
	UnsupportedRules int
	InvalidRules     int
	HasTrackerInfos  bool
}

// NewActiveRuleSource returns the runtime state for a freshly enabled source.
func NewActiveRuleSource(core RuleSourceCore) ActiveRuleSource {
	return ActiveRuleSource{
		Core:       core,
		LastResult: FetchResultUnknown,
	}
}
