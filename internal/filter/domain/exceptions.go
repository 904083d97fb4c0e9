package domain

// ExceptionListID names one of the two per-group exception sets.
//
// With ProcessList active, filtering applies only to listed domains and
// their subdomains. With ExemptList active, filtering applies everywhere
// except listed domains and their subdomains.
type ExceptionListID uint8

const (
	ProcessList ExceptionListID = iota
	ExemptList
)

// IsValid returns true if the ExceptionListID is one of the defined lists.
func (id ExceptionListID) IsValid() bool {
	return id == ProcessList || id == ExemptList
}

// ExceptionListFromString converts a persisted list name back to its id.
func ExceptionListFromString(s string) (ExceptionListID, bool) {
	switch s {
	case "process-list":
		return ProcessList, true
	case "exempt-list":
		return ExemptList, true
	default:
		return ExemptList, false
	}
}

func (id ExceptionListID) String() string {
	switch id {
	case ProcessList:
		return "process-list"
	case ExemptList:
		return "exempt-list"
	default:
		return "unknown"
	}
}
