package statelogs

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

const trackerBloomFPRate = 0.01

// TrackerIndex answers "is this host (or a parent domain of it) a known
// tracker" for blocked-URL accounting. A Bloom filter over the tracker
// domains sits in front of the suffix walk so the common miss is one probe
// per label instead of a map lookup per label.
type TrackerIndex struct {
	mu     sync.RWMutex
	groups map[domain.RuleGroup]*trackerSet
}

type trackerSet struct {
	infos  map[string]domain.TrackerInfo
	filter *bloom.BloomFilter
}

// NewTrackerIndex returns an empty index.
func NewTrackerIndex() *TrackerIndex {
	return &TrackerIndex{groups: make(map[domain.RuleGroup]*trackerSet)}
}

// Replace swaps in a fresh tracker-info set for a group, rebuilding the
// Bloom filter sized for the new data.
func (t *TrackerIndex) Replace(group domain.RuleGroup, infos []domain.TrackerInfo) {
	set := &trackerSet{infos: make(map[string]domain.TrackerInfo, len(infos))}
	n := uint(len(infos))
	if n == 0 {
		n = 1
	}
	set.filter = bloom.NewWithEstimates(n, trackerBloomFPRate)
	for _, info := range infos {
		cd := utils.CanonicalHost(info.Domain)
		if cd == "" {
			continue
		}
		set.infos[cd] = info
		set.filter.Add([]byte(cd))
	}

	t.mu.Lock()
	t.groups[group] = set
	t.mu.Unlock()
}

// Lookup walks host and its parent domains, most-specific first, and
// returns the first known tracker.
func (t *TrackerIndex) Lookup(group domain.RuleGroup, host string) (domain.TrackerInfo, bool) {
	t.mu.RLock()
	set := t.groups[group]
	t.mu.RUnlock()
	if set == nil {
		return domain.TrackerInfo{}, false
	}

	var found domain.TrackerInfo
	var ok bool
	utils.WalkSuffixes(utils.CanonicalHost(host), func(suffix string) bool {
		if !set.filter.Test([]byte(suffix)) {
			return true
		}
		if info, present := set.infos[suffix]; present {
			found = info
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Len returns the number of tracker domains known for a group.
func (t *TrackerIndex) Len(group domain.RuleGroup) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if set := t.groups[group]; set != nil {
		return len(set.infos)
	}
	return 0
}

var _ TrackerLookup = (*TrackerIndex)(nil)
