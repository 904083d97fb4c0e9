package domain

// FetchResult describes the outcome of the most recent fetch/compile cycle
// for a source. Failures are never fatal; they surface only as state.
type FetchResult uint8

const (
	FetchResultUnknown FetchResult = iota
	FetchResultSuccess
	FetchResultDownloadFailed
	FetchResultFileNotFound
	FetchResultFileReadError
	FetchResultFileUnsupported
	FetchResultFailedSavingParsedRules
)

// IsValid returns true if the FetchResult is one of the defined outcomes.
func (r FetchResult) IsValid() bool {
	return r <= FetchResultFailedSavingParsedRules
}

// FetchResultFromString converts a persisted result string back to its
// FetchResult value. Unrecognized strings map to FetchResultUnknown.
func FetchResultFromString(s string) FetchResult {
	switch s {
	case "success":
		return FetchResultSuccess
	case "download-failed":
		return FetchResultDownloadFailed
	case "file-not-found":
		return FetchResultFileNotFound
	case "file-read-error":
		return FetchResultFileReadError
	case "file-unsupported":
		return FetchResultFileUnsupported
	case "failed-saving-parsed-rules":
		return FetchResultFailedSavingParsedRules
	default:
		return FetchResultUnknown
	}
}

func (r FetchResult) String() string {
	switch r {
	case FetchResultSuccess:
		return "success"
	case FetchResultDownloadFailed:
		return "download-failed"
	case FetchResultFileNotFound:
		return "file-not-found"
	case FetchResultFileReadError:
		return "file-read-error"
	case FetchResultFileUnsupported:
		return "file-unsupported"
	case FetchResultFailedSavingParsedRules:
		return "failed-saving-parsed-rules"
	default:
		return "unknown"
	}
}
