// Package ruleservice composes the filtering subsystems behind one facade:
// it loads the persisted state, runs version migrations and preset
// reconciliation, restores active sources, and owns the shutdown order.
package ruleservice

import (
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/config"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/presets"
	"github.com/haukened/rr-filter/internal/filter/repos/storage"
	"github.com/haukened/rr-filter/internal/filter/services/knownsources"
	"github.com/haukened/rr-filter/internal/filter/services/rulemanager"
	"github.com/haukened/rr-filter/internal/filter/services/statelogs"
)

// Service wires the rule manager, known-source catalogue, state/logs
// tracker, and the persistent store into one unit with a single load and
// shutdown sequence.
type Service struct {
	locale   string
	table    *presets.Table
	store    *storage.Store
	manager  *rulemanager.Manager
	known    *knownsources.Handler
	logs     *statelogs.StateAndLogs
	trackers *statelogs.TrackerIndex
	logger   log.Logger
}

// Options configures a Service.
type Options struct {
	Config config.AppConfig
	Table  *presets.Table
	Store  *storage.Store

	// Factory builds the fetch handlers for active sources.
	Factory rulemanager.HandlerFactory

	Clock     clock.Clock
	Scheduler clock.Scheduler
	Logger    log.Logger
}

// New builds the service graph. The store's snapshot provider is wired
// here, so every subsystem mutation after this point funnels into the
// debounced writer.
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}

	trackers := statelogs.NewTrackerIndex()

	manager, err := rulemanager.New(rulemanager.Options{
		Factory:   opts.Factory,
		Saver:     opts.Store,
		Logger:    opts.Logger,
		CacheSize: int(opts.Config.CacheSize),
	})
	if err != nil {
		return nil, err
	}
	manager.SetTrackerInfoSink(func(group domain.RuleGroup, infos []domain.TrackerInfo) {
		trackers.Replace(group, infos)
	})

	known := knownsources.New(knownsources.Options{
		Manager: manager,
		Saver:   opts.Store,
		Logger:  opts.Logger,
	})

	logs := statelogs.New(statelogs.Options{
		Trackers:  trackers,
		Clock:     opts.Clock,
		Scheduler: opts.Scheduler,
		Saver:     opts.Store,
		Logger:    opts.Logger,
	})

	s := &Service{
		locale:   opts.Config.Locale,
		table:    opts.Table,
		store:    opts.Store,
		manager:  manager,
		known:    known,
		logs:     logs,
		trackers: trackers,
		logger:   opts.Logger,
	}
	opts.Store.SetSnapshotProvider(s.snapshot)
	return s, nil
}

// Manager exposes the active-source and exemption-policy API.
func (s *Service) Manager() *rulemanager.Manager { return s.manager }

// KnownSources exposes the source catalogue API.
func (s *Service) KnownSources() *knownsources.Handler { return s.known }

// StateAndLogs exposes the blocking-stats and attribution API.
func (s *Service) StateAndLogs() *statelogs.StateAndLogs { return s.logs }

// Trackers exposes the tracker metadata index.
func (s *Service) Trackers() *statelogs.TrackerIndex { return s.trackers }

// Load restores persisted state, applies version migrations, reconciles the
// preset catalogue, and schedules a save when anything changed the format.
func (s *Service) Load() {
	res := s.store.Load()
	version := 0
	if !res.FirstRun {
		version = res.Doc.Version
		s.restore(&res.Doc)
	}

	reconciled := s.migrate(version)
	if !reconciled {
		for _, g := range domain.AllRuleGroups() {
			s.known.UpdateSourcesFromPresets(g, s.table.Group(g), knownsources.ReconcileIncremental)
		}
	}

	if version != storage.CurrentVersion {
		s.logger.Info(map[string]any{
			"from": version,
			"to":   storage.CurrentVersion,
		}, "state migrated")
		s.store.ScheduleSave()
	}
}

// Shutdown stops deferred work and flushes any pending save.
func (s *Service) Shutdown() {
	s.logs.Shutdown()
	s.store.Flush()
}

// restore replays one persisted document into the live subsystems.
func (s *Service) restore(doc *storage.Document) {
	if doc.BlockedReportingStart != 0 {
		s.logs.SetReportingStart(time.Unix(doc.BlockedReportingStart, 0))
	}

	for _, g := range domain.AllRuleGroups() {
		var gd *storage.GroupDoc
		switch g {
		case domain.TrackingRules:
			gd = doc.TrackingRules
		default:
			gd = doc.AdBlockingRules
		}
		if gd == nil {
			continue
		}

		s.manager.SetGroupEnabled(g, gd.Enabled)
		if list, ok := domain.ExceptionListFromString(gd.ActiveExceptionsList); ok {
			s.manager.SetActiveExceptionList(g, list)
		}
		if len(gd.ProcessList) > 0 {
			s.manager.SetExceptions(g, domain.ProcessList, gd.ProcessList)
		}
		if len(gd.ExemptList) > 0 {
			s.manager.SetExceptions(g, domain.ExemptList, gd.ExemptList)
		}
		s.manager.SetIndexChecksum(g, gd.IndexChecksum)

		for _, kd := range gd.KnownSources {
			ks, err := kd.ToDomain()
			if err != nil {
				s.logger.Warn(map[string]any{
					"group": g.String(),
					"error": err.Error(),
				}, "dropping unparsable known source")
				continue
			}
			s.known.RestoreSource(g, ks)
		}
		s.known.RestoreDeletedPresets(g, gd.DeletedPresets)

		for _, sd := range gd.RuleSources {
			src, err := sd.ToDomain()
			if err != nil {
				s.logger.Warn(map[string]any{
					"group": g.String(),
					"error": err.Error(),
				}, "dropping unparsable rule source")
				continue
			}
			s.manager.RestoreRuleSource(g, src)
		}
	}
}

// snapshot collects the full live state into a persistable document. Known
// sources are only written when removable; the permanent ones come back
// from the compiled-in preset table.
func (s *Service) snapshot() storage.Document {
	doc := storage.Document{Version: storage.CurrentVersion}
	if rs := s.logs.ReportingStart(); !rs.IsZero() {
		doc.BlockedReportingStart = rs.Unix()
	}

	for _, g := range domain.AllRuleGroups() {
		gd := doc.Group(g)
		gd.Enabled = s.manager.IsGroupEnabled(g)
		gd.ActiveExceptionsList = s.manager.GetActiveExceptionList(g).String()
		gd.ProcessList = s.manager.GetExceptions(g, domain.ProcessList)
		gd.ExemptList = s.manager.GetExceptions(g, domain.ExemptList)
		gd.IndexChecksum = s.manager.IndexChecksum(g)

		for _, src := range s.manager.GetRuleSources(g) {
			gd.RuleSources = append(gd.RuleSources, storage.NewSourceDoc(src))
		}
		for _, ks := range s.known.Sources(g) {
			if ks.Removable {
				gd.KnownSources = append(gd.KnownSources, storage.NewKnownDoc(ks))
			}
		}
		gd.DeletedPresets = s.known.DeletedPresets(g)
	}
	return doc
}
