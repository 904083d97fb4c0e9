package rulemanager

import "sync"

// observerList is an index-stable observer registry. Notification iterates
// over a snapshot of the registered observers, so a callback may add or
// remove observers (or mutate the manager, which re-enters notification)
// without invalidating the iteration.
type observerList struct {
	mu   sync.Mutex
	list []Observer
}

func (l *observerList) add(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.list {
		if existing == o {
			return
		}
	}
	l.list = append(l.list, o)
}

func (l *observerList) remove(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.list {
		if existing == o {
			l.list = append(l.list[:i], l.list[i+1:]...)
			return
		}
	}
}

func (l *observerList) each(fn func(Observer)) {
	l.mu.Lock()
	snapshot := make([]Observer, len(l.list))
	copy(snapshot, l.list)
	l.mu.Unlock()
	for _, o := range snapshot {
		fn(o)
	}
}
