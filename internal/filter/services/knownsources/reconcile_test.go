package knownsources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

func preset(id, address string) domain.Preset {
	return domain.Preset{
		PresetID:  id,
		Address:   address,
		Removable: true,
		Settings:  domain.DefaultSourceSettings(),
	}
}

func TestReconcile_AddsNewPresetsDisabled(t *testing.T) {
	h, enabler := newTestHandler(t)
	table := []domain.Preset{
		preset("ads-main", "https://example.com/main.txt"),
		preset("ads-extra", "https://example.com/extra.txt"),
	}

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)

	assert.Len(t, h.Sources(domain.AdBlockingRules), 2)
	// Reconciliation never activates anything on its own.
	assert.Empty(t, enabler.added)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	h, enabler := newTestHandler(t)
	table := []domain.Preset{preset("ads-main", "https://example.com/main.txt")}

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	first := h.Sources(domain.AdBlockingRules)

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	assert.Equal(t, first, h.Sources(domain.AdBlockingRules))
	assert.Empty(t, enabler.added)
	assert.Empty(t, enabler.deleted)
}

func TestReconcile_SkipsUserDeletedPresets(t *testing.T) {
	h, _ := newTestHandler(t)
	table := []domain.Preset{preset("ads-partner", "https://example.com/partner.txt")}

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	ks, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-partner")
	require.True(t, found)
	require.True(t, h.RemoveSource(domain.AdBlockingRules, ks.Core.ID))

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	_, found = h.SourceByPresetID(domain.AdBlockingRules, "ads-partner")
	assert.False(t, found)
}

func TestResetPresetSources_ForgetsDeletedTracking(t *testing.T) {
	h, _ := newTestHandler(t)
	table := []domain.Preset{preset("ads-partner", "https://example.com/partner.txt")}

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	ks, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-partner")
	require.True(t, found)
	require.True(t, h.RemoveSource(domain.AdBlockingRules, ks.Core.ID))
	require.NotEmpty(t, h.DeletedPresets(domain.AdBlockingRules))

	h.ResetPresetSources(domain.AdBlockingRules, table)

	assert.Empty(t, h.DeletedPresets(domain.AdBlockingRules))
	_, found = h.SourceByPresetID(domain.AdBlockingRules, "ads-partner")
	assert.True(t, found)
}

func TestReconcile_TrackMissingRecordsInsteadOfAdding(t *testing.T) {
	h, _ := newTestHandler(t)
	table := []domain.Preset{preset("ads-new", "https://example.com/new.txt")}

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileTrackMissing)

	_, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-new")
	assert.False(t, found)
	assert.Equal(t, []string{"ads-new"}, h.DeletedPresets(domain.AdBlockingRules))

	// The recorded deletion holds on later incremental passes.
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	_, found = h.SourceByPresetID(domain.AdBlockingRules, "ads-new")
	assert.False(t, found)
}

func TestReconcile_AddressMoveCarriesEnabledState(t *testing.T) {
	h, enabler := newTestHandler(t)
	oldTable := []domain.Preset{preset("ads-main", "https://example.com/v1.txt")}
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, oldTable, ReconcileIncremental)

	old, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-main")
	require.True(t, found)
	require.True(t, h.EnableSource(domain.AdBlockingRules, old.Core.ID))

	newTable := []domain.Preset{preset("ads-main", "https://example.com/v2.txt")}
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, newTable, ReconcileIncremental)

	// The tracked entry moved to the new address.
	moved, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-main")
	require.True(t, found)
	assert.Equal(t, "https://example.com/v2.txt", moved.Core.Location.Spec())
	_, found = h.Source(domain.AdBlockingRules, old.Core.ID)
	assert.False(t, found)

	// The old activation was torn down and the new address activated.
	assert.Contains(t, enabler.deleted, old.Core.ID)
	assert.Contains(t, enabler.added, moved.Core.ID)
	assert.True(t, h.IsSourceEnabled(domain.AdBlockingRules, moved.Core.ID))
}

func TestReconcile_AddressMoveKeepsDisabledState(t *testing.T) {
	h, enabler := newTestHandler(t)
	h.UpdateSourcesFromPresets(domain.AdBlockingRules,
		[]domain.Preset{preset("ads-main", "https://example.com/v1.txt")}, ReconcileIncremental)

	h.UpdateSourcesFromPresets(domain.AdBlockingRules,
		[]domain.Preset{preset("ads-main", "https://example.com/v2.txt")}, ReconcileIncremental)

	moved, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-main")
	require.True(t, found)
	assert.False(t, h.IsSourceEnabled(domain.AdBlockingRules, moved.Core.ID))
	assert.Empty(t, enabler.added)
}

func TestReconcile_UserSourceAtPresetAddressStaysUntouched(t *testing.T) {
	h, _ := newTestHandler(t)
	user := knownSource(t, "https://example.com/list.txt", "", true)
	require.True(t, h.AddSource(domain.AdBlockingRules, user))

	h.UpdateSourcesFromPresets(domain.AdBlockingRules,
		[]domain.Preset{preset("ads-main", "https://example.com/list.txt")}, ReconcileIncremental)

	got, found := h.Source(domain.AdBlockingRules, user.Core.ID)
	require.True(t, found)
	// Still the user's own source, not converted into a tracked preset.
	assert.Empty(t, got.PresetID)
	assert.Len(t, h.Sources(domain.AdBlockingRules), 1)
}

func TestReconcile_EmptyAddressForcesRemoval(t *testing.T) {
	h, enabler := newTestHandler(t)
	table := []domain.Preset{preset("ads-main", "https://example.com/main.txt")}
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	ks, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-main")
	require.True(t, found)
	require.True(t, h.EnableSource(domain.AdBlockingRules, ks.Core.ID))

	// A non-removable flag does not protect against a forced removal.
	retired := preset("ads-main", "")
	retired.Removable = false
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, []domain.Preset{retired}, ReconcileIncremental)

	_, found = h.SourceByPresetID(domain.AdBlockingRules, "ads-main")
	assert.False(t, found)
	assert.Contains(t, enabler.deleted, ks.Core.ID)
}

func TestReconcile_RetiredPresetKeptWhenEnabled(t *testing.T) {
	h, _ := newTestHandler(t)
	table := []domain.Preset{preset("ads-old", "https://example.com/old.txt")}
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	ks, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-old")
	require.True(t, found)
	require.True(t, h.EnableSource(domain.AdBlockingRules, ks.Core.ID))

	// Preset vanished from the table entirely.
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, nil, ReconcileIncremental)

	// The user opted in, so the source survives detached from tracking.
	got, stillKnown := h.Source(domain.AdBlockingRules, ks.Core.ID)
	require.True(t, stillKnown)
	assert.Empty(t, got.PresetID)
	assert.True(t, got.Removable)
	assert.True(t, h.IsSourceEnabled(domain.AdBlockingRules, ks.Core.ID))
}

func TestReconcile_RetiredPresetDroppedWhenDisabled(t *testing.T) {
	h, _ := newTestHandler(t)
	table := []domain.Preset{preset("ads-old", "https://example.com/old.txt")}
	h.UpdateSourcesFromPresets(domain.AdBlockingRules, table, ReconcileIncremental)
	ks, found := h.SourceByPresetID(domain.AdBlockingRules, "ads-old")
	require.True(t, found)

	h.UpdateSourcesFromPresets(domain.AdBlockingRules, nil, ReconcileIncremental)

	_, stillKnown := h.Source(domain.AdBlockingRules, ks.Core.ID)
	assert.False(t, stillKnown)
}

func TestReconcile_SkipsInvalidPreset(t *testing.T) {
	h, _ := newTestHandler(t)
	// An address-less but untracked preset is simply skipped.
	h.UpdateSourcesFromPresets(domain.AdBlockingRules,
		[]domain.Preset{preset("ads-ghost", "")}, ReconcileIncremental)
	assert.Empty(t, h.Sources(domain.AdBlockingRules))
}
