// Package presets holds the compiled-in rule-source tables. The tables are
// parsed once at startup into immutable values and passed into preset
// reconciliation as parameters, never consulted as mutable global state.
package presets

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Preset ids referenced by storage migrations.
const (
	TrackingMain         = "tracking-main"
	AdsMain              = "ads-main"
	AdsPartner           = "ads-partner"
	AdsRegionalRU        = "ads-regional-ru"
	AdsAntiCircumvention = "ads-anti-circumvention"
	AdsAdblockWarnings   = "ads-adblock-warnings"
)

// AdblockWarningsPreCacheAddress is the address the adblock-warnings list
// shipped under before it became a preset. Users who added it manually keep
// their copy instead of getting the preset.
const AdblockWarningsPreCacheAddress = "https://easylist-downloads.adblockplus.org/antiadblockfilters.txt"

// RegionalListLocales are the language tags that get the regional ad list
// enabled during migration.
var RegionalListLocales = []string{"ru", "be", "uk"}

//go:embed presets.yaml
var rawTable []byte

type settingsDef struct {
	AllowABPSnippets             bool `yaml:"allow-abp-snippets"`
	AllowAttributionTrackerRules bool `yaml:"allow-attribution-tracker-rules"`
}

type presetDef struct {
	PresetID  string       `yaml:"preset-id"`
	Address   string       `yaml:"address"`
	Removable *bool        `yaml:"removable"`
	Settings  *settingsDef `yaml:"settings"`
}

// Table is the parsed, immutable preset table for all rule groups.
type Table struct {
	groups map[domain.RuleGroup][]domain.Preset
}

// Load parses the embedded preset table. Call once at process start.
func Load() (*Table, error) {
	return parse(rawTable)
}

func parse(raw []byte) (*Table, error) {
	var doc map[string][]presetDef
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error parsing preset table: %w", err)
	}

	t := &Table{groups: make(map[domain.RuleGroup][]domain.Preset)}
	for _, g := range domain.AllRuleGroups() {
		defs, ok := doc[g.String()]
		if !ok {
			continue
		}
		out := make([]domain.Preset, 0, len(defs))
		for _, d := range defs {
			if d.PresetID == "" {
				return nil, fmt.Errorf("preset in group %s is missing a preset-id", g)
			}
			p := domain.Preset{
				PresetID:  d.PresetID,
				Address:   d.Address,
				Removable: true,
				Settings:  domain.DefaultSourceSettings(),
			}
			if d.Removable != nil {
				p.Removable = *d.Removable
			}
			if d.Settings != nil {
				p.Settings.AllowABPSnippets = d.Settings.AllowABPSnippets
				p.Settings.AllowAttributionTrackerRules = d.Settings.AllowAttributionTrackerRules
			}
			out = append(out, p)
		}
		t.groups[g] = out
	}
	return t, nil
}

// Group returns the ordered preset list for one rule group. Callers must
// not mutate the returned slice.
func (t *Table) Group(g domain.RuleGroup) []domain.Preset {
	return t.groups[g]
}

// Find returns the preset with the given id in a group, if present.
func (t *Table) Find(g domain.RuleGroup, presetID string) (domain.Preset, bool) {
	for _, p := range t.groups[g] {
		if p.PresetID == presetID {
			return p, true
		}
	}
	return domain.Preset{}, false
}
