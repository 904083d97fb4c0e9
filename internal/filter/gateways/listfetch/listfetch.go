// Package listfetch implements the fetch/compile pipeline behind active
// rule sources: it downloads or reads a list, classifies its rules,
// extracts the unsafe header metadata, persists the body by checksum, and
// reports the resulting runtime snapshot back to the rule manager.
package listfetch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/services/rulemanager"
)

// maxListBytes bounds a downloaded list body.
const maxListBytes = 64 << 20

// retryInterval is how long to wait before refetching after a failure.
const retryInterval = time.Hour

// ArtifactStore persists fetched list bodies keyed by checksum.
type ArtifactStore interface {
	Put(checksum string, body []byte) error
	Delete(checksum string) error
}

// Options configures a Factory.
type Options struct {
	// Client is the HTTP client for remote lists. When nil a client with
	// Timeout is used.
	Client  *http.Client
	Timeout time.Duration

	Store     ArtifactStore
	Clock     clock.Clock
	Scheduler clock.Scheduler
	Logger    log.Logger
}

// Factory builds fetch handlers for the rule manager.
type Factory struct {
	client *http.Client
	store  ArtifactStore
	clk    clock.Clock
	sched  clock.Scheduler
	logger log.Logger
}

// New constructs a Factory, filling in real clock/scheduler defaults.
func New(opts Options) *Factory {
	if opts.Client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.Client = &http.Client{Timeout: timeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clock.RealScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Factory{
		client: opts.Client,
		store:  opts.Store,
		clk:    opts.Clock,
		sched:  opts.Scheduler,
		logger: opts.Logger,
	}
}

// NewHandler creates the pipeline handler for one active source.
func (f *Factory) NewHandler(group domain.RuleGroup, core domain.RuleSourceCore, callbacks rulemanager.HandlerCallbacks) rulemanager.SourceHandler {
	return &handler{
		f:        f,
		group:    group,
		core:     core,
		cb:       callbacks,
		snapshot: domain.NewActiveRuleSource(core),
	}
}

var _ rulemanager.HandlerFactory = (*Factory)(nil)

// handler runs fetch cycles for one source. At most one cycle is in flight;
// FetchNow during a cycle queues exactly one follow-up.
type handler struct {
	f     *Factory
	group domain.RuleGroup
	core  domain.RuleSourceCore
	cb    rulemanager.HandlerCallbacks

	mu       sync.Mutex
	snapshot domain.ActiveRuleSource
	inFlight bool
	queued   bool
	next     clock.Timer
	cleared  bool
}

// FetchNow forces a fetch cycle, cancelling any scheduled one.
func (h *handler) FetchNow() {
	h.mu.Lock()
	if h.cleared {
		h.mu.Unlock()
		return
	}
	if h.next != nil {
		h.next.Stop()
		h.next = nil
	}
	if h.inFlight {
		h.queued = true
		h.mu.Unlock()
		return
	}
	h.inFlight = true
	h.mu.Unlock()
	go h.run()
}

// Clear stops the handler and drops the persisted artifact.
func (h *handler) Clear() {
	h.mu.Lock()
	h.cleared = true
	if h.next != nil {
		h.next.Stop()
		h.next = nil
	}
	checksum := h.snapshot.RulesChecksum
	h.mu.Unlock()

	if checksum != "" && h.f.store != nil {
		if err := h.f.store.Delete(checksum); err != nil {
			h.f.logger.Warn(map[string]any{
				"id":    h.core.ID,
				"error": err.Error(),
			}, "failed to drop rule artifact")
		}
	}
}

// run executes fetch cycles until no follow-up is queued.
func (h *handler) run() {
	for {
		h.cycle()
		h.mu.Lock()
		if !h.queued || h.cleared {
			h.inFlight = false
			h.mu.Unlock()
			return
		}
		h.queued = false
		h.mu.Unlock()
	}
}

func (h *handler) cycle() {
	h.mu.Lock()
	h.snapshot.Fetching = true
	fetching := h.snapshot
	h.mu.Unlock()
	h.post(fetching)

	body, result := h.retrieve()
	if result == domain.FetchResultSuccess && looksBinary(body) {
		result = domain.FetchResultFileUnsupported
	}

	now := h.f.clk.Now()
	if result != domain.FetchResultSuccess {
		h.finish(func(snap *domain.ActiveRuleSource) {
			snap.LastResult = result
			snap.NextFetch = now.Add(retryInterval)
		}, nil, retryInterval)
		return
	}

	outcome := parseList(body, h.core.Settings)
	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])
	if h.f.store != nil {
		if err := h.f.store.Put(checksum, body); err != nil {
			h.f.logger.Error(map[string]any{
				"id":    h.core.ID,
				"error": err.Error(),
			}, "failed to persist fetched rules")
			h.finish(func(snap *domain.ActiveRuleSource) {
				snap.LastResult = domain.FetchResultFailedSavingParsedRules
				snap.NextFetch = now.Add(retryInterval)
			}, nil, retryInterval)
			return
		}
	}

	wait := clampExpiry(outcome.meta.Expires)
	h.finish(func(snap *domain.ActiveRuleSource) {
		snap.LastResult = domain.FetchResultSuccess
		snap.RulesChecksum = checksum
		snap.Unsafe = outcome.meta
		snap.LastUpdate = now
		snap.NextFetch = now.Add(wait)
		snap.ValidRules = outcome.valid
		snap.UnsupportedRules = outcome.unsupported
		snap.InvalidRules = outcome.invalid
		snap.HasTrackerInfos = len(outcome.trackers) > 0
	}, outcome.trackers, wait)
}

// finish applies the cycle's result to the snapshot, posts it, delivers
// tracker infos, and schedules the next cycle.
func (h *handler) finish(apply func(*domain.ActiveRuleSource), trackers []domain.TrackerInfo, wait time.Duration) {
	h.mu.Lock()
	apply(&h.snapshot)
	h.snapshot.Fetching = false
	snap := h.snapshot
	if !h.cleared {
		if h.next != nil {
			h.next.Stop()
		}
		h.next = h.f.sched.AfterFunc(wait, h.FetchNow)
	}
	h.mu.Unlock()

	h.post(snap)
	if len(trackers) > 0 && h.cb.OnTrackerInfos != nil {
		h.cb.OnTrackerInfos(h.group, trackers)
	}
}

func (h *handler) post(snap domain.ActiveRuleSource) {
	if h.cb.OnSourceUpdated != nil {
		h.cb.OnSourceUpdated(h.group, snap)
	}
}

// retrieve loads the raw list body from the source's location.
func (h *handler) retrieve() ([]byte, domain.FetchResult) {
	loc := h.core.Location
	if loc.IsFile() {
		body, err := os.ReadFile(loc.Spec())
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, domain.FetchResultFileNotFound
		case err != nil:
			return nil, domain.FetchResultFileReadError
		}
		return body, domain.FetchResultSuccess
	}

	resp, err := h.f.client.Get(loc.Spec())
	if err != nil {
		h.f.logger.Warn(map[string]any{
			"url":   loc.Spec(),
			"error": err.Error(),
		}, "rule list download failed")
		return nil, domain.FetchResultDownloadFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.FetchResultDownloadFailed
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, domain.FetchResultDownloadFailed
	}
	return body, domain.FetchResultSuccess
}
