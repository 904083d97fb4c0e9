package storage

import (
	"fmt"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// CurrentVersion is the storage format version written by this build. Load
// applies every migration step whose threshold exceeds the persisted
// version; after load the in-memory version is always CurrentVersion.
const CurrentVersion = 10

// Document is the single persisted JSON document for one profile.
type Document struct {
	Version               int       `json:"version"`
	BlockedReportingStart int64     `json:"blocked-reporting-start,omitempty"`
	TrackingRules         *GroupDoc `json:"tracking-rules,omitempty"`
	AdBlockingRules       *GroupDoc `json:"ad-blocking-rules,omitempty"`
}

// GroupDoc is the persisted state of one rule group. KnownSources holds
// removable sources only; permanent ones are recreated from the compiled-in
// preset table.
type GroupDoc struct {
	Enabled              bool        `json:"enabled"`
	ActiveExceptionsList string      `json:"active-exceptions-list"`
	ProcessList          []string    `json:"process-list,omitempty"`
	ExemptList           []string    `json:"exempt-list,omitempty"`
	IndexChecksum        string      `json:"index-checksum,omitempty"`
	RuleSources          []SourceDoc `json:"rule-sources,omitempty"`
	KnownSources         []KnownDoc  `json:"known-sources,omitempty"`
	DeletedPresets       []string    `json:"deleted-presets,omitempty"`
}

// LocationDoc carries the source location; exactly one field is set.
type LocationDoc struct {
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

// SettingsDoc mirrors domain.SourceSettings on disk.
type SettingsDoc struct {
	AllowABPSnippets             bool `json:"allow-abp-snippets,omitempty"`
	NakedHostnameIsPureHost      bool `json:"naked-hostname-is-pure-host"`
	UseWholeDocumentAllow        bool `json:"use-whole-document-allow"`
	AllowAttributionTrackerRules bool `json:"allow-attribution-tracker-rules,omitempty"`
}

// SourceDoc is one active source with its full runtime state. The source id
// is not persisted; it is re-derived from the location on load.
type SourceDoc struct {
	Location LocationDoc `json:"location"`
	Settings SettingsDoc `json:"settings"`

	RulesChecksum string `json:"rules-checksum,omitempty"`
	Title         string `json:"title,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	License       string `json:"license,omitempty"`
	Redirect      string `json:"redirect,omitempty"`
	ListVersion   string `json:"list-version,omitempty"`
	ExpiresSec    int64  `json:"expires,omitempty"`

	LastUpdate       int64  `json:"last-update,omitempty"`
	NextFetch        int64  `json:"next-fetch,omitempty"`
	LastResult       string `json:"last-result,omitempty"`
	ValidRules       int    `json:"valid-rules,omitempty"`
	UnsupportedRules int    `json:"unsupported-rules,omitempty"`
	InvalidRules     int    `json:"invalid-rules,omitempty"`
	HasTrackerInfos  bool   `json:"has-tracker-infos,omitempty"`
}

// KnownDoc is one removable known source.
type KnownDoc struct {
	Location LocationDoc `json:"location"`
	Settings SettingsDoc `json:"settings"`
	PresetID string      `json:"preset-id,omitempty"`
}

func locationDoc(loc domain.SourceLocation) LocationDoc {
	if loc.IsFile() {
		return LocationDoc{File: loc.Spec()}
	}
	return LocationDoc{URL: loc.Spec()}
}

func (d LocationDoc) toDomain() (domain.SourceLocation, error) {
	switch {
	case d.URL != "" && d.File != "":
		return domain.SourceLocation{}, fmt.Errorf("source carries both url and file")
	case d.URL != "":
		return domain.URLLocation(d.URL), nil
	case d.File != "":
		return domain.FileLocation(d.File), nil
	default:
		return domain.SourceLocation{}, fmt.Errorf("source carries neither url nor file")
	}
}

func settingsDoc(s domain.SourceSettings) SettingsDoc {
	return SettingsDoc(s)
}

func (d SettingsDoc) toDomain() domain.SourceSettings {
	return domain.SourceSettings(d)
}

// NewSourceDoc converts an active source's runtime state for persistence.
func NewSourceDoc(src domain.ActiveRuleSource) SourceDoc {
	doc := SourceDoc{
		Location:         locationDoc(src.Core.Location),
		Settings:         settingsDoc(src.Core.Settings),
		RulesChecksum:    src.RulesChecksum,
		Title:            src.Unsafe.Title,
		Homepage:         src.Unsafe.Homepage,
		License:          src.Unsafe.LicenseURL,
		Redirect:         src.Unsafe.RedirectURL,
		ListVersion:      src.Unsafe.Version,
		ExpiresSec:       int64(src.Unsafe.Expires / time.Second),
		LastResult:       src.LastResult.String(),
		ValidRules:       src.ValidRules,
		UnsupportedRules: src.UnsupportedRules,
		InvalidRules:     src.InvalidRules,
		HasTrackerInfos:  src.HasTrackerInfos,
	}
	if !src.LastUpdate.IsZero() {
		doc.LastUpdate = src.LastUpdate.Unix()
	}
	if !src.NextFetch.IsZero() {
		doc.NextFetch = src.NextFetch.Unix()
	}
	return doc
}

// ToDomain rebuilds the active source, re-deriving its id from the
// location.
func (d SourceDoc) ToDomain() (domain.ActiveRuleSource, error) {
	loc, err := d.Location.toDomain()
	if err != nil {
		return domain.ActiveRuleSource{}, err
	}
	core, err := domain.NewRuleSourceCore(loc, d.Settings.toDomain())
	if err != nil {
		return domain.ActiveRuleSource{}, err
	}
	src := domain.ActiveRuleSource{
		Core:          core,
		RulesChecksum: d.RulesChecksum,
		Unsafe: domain.ListMetadata{
			Title:       d.Title,
			Homepage:    d.Homepage,
			LicenseURL:  d.License,
			RedirectURL: d.Redirect,
			Version:     d.ListVersion,
			Expires:     time.Duration(d.ExpiresSec) * time.Second,
		},
		LastResult:       domain.FetchResultFromString(d.LastResult),
		ValidRules:       d.ValidRules,
		UnsupportedRules: d.UnsupportedRules,
		InvalidRules:     d.InvalidRules,
		HasTrackerInfos:  d.HasTrackerInfos,
	}
	if d.LastUpdate != 0 {
		src.LastUpdate = time.Unix(d.LastUpdate, 0)
	}
	if d.NextFetch != 0 {
		src.NextFetch = time.Unix(d.NextFetch, 0)
	}
	return src, nil
}

// NewKnownDoc converts a removable known source for persistence.
func NewKnownDoc(ks domain.KnownRuleSource) KnownDoc {
	return KnownDoc{
		Location: locationDoc(ks.Core.Location),
		Settings: settingsDoc(ks.Core.Settings),
		PresetID: ks.PresetID,
	}
}

// ToDomain rebuilds the known source. Persisted known sources are always
// removable; permanent ones are never written.
func (d KnownDoc) ToDomain() (domain.KnownRuleSource, error) {
	loc, err := d.Location.toDomain()
	if err != nil {
		return domain.KnownRuleSource{}, err
	}
	core, err := domain.NewRuleSourceCore(loc, d.Settings.toDomain())
	if err != nil {
		return domain.KnownRuleSource{}, err
	}
	return domain.KnownRuleSource{
		Core:      core,
		Removable: true,
		PresetID:  d.PresetID,
	}, nil
}

// Group returns the per-group sub-document, allocating it on first use.
func (doc *Document) Group(g domain.RuleGroup) *GroupDoc {
	var slot **GroupDoc
	switch g {
	case domain.TrackingRules:
		slot = &doc.TrackingRules
	default:
		slot = &doc.AdBlockingRules
	}
	if *slot == nil {
		*slot = &GroupDoc{
			Enabled:              true,
			ActiveExceptionsList: domain.ExemptList.String(),
		}
	}
	return *slot
}
