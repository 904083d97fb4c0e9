package domain

// TrackerInfo is parsed tracker metadata keyed by domain, delivered by the
// fetch/compile pipeline alongside rule updates.
type TrackerInfo struct {
	Domain  string
	Owner   string
	Payload []byte
}
