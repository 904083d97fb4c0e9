package listfetch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

const (
	defaultExpiry = 7 * 24 * time.Hour
	minExpiry     = time.Hour
	maxExpiry     = 14 * 24 * time.Hour
)

// parseOutcome is what one list body parses down to.
type parseOutcome struct {
	meta        domain.ListMetadata
	valid       int
	unsupported int
	invalid     int
	trackers    []domain.TrackerInfo
}

// trackerDocument is the shape of a JSON tracker-metadata list: a flat map
// of tracker domains to per-tracker records.
type trackerDocument struct {
	Trackers map[string]struct {
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"trackers"`
}

// parseList classifies a fetched body. A JSON tracker-metadata document
// yields tracker infos; anything else is treated as a filter list in
// ABP-style text form. Binary content is rejected by the caller before
// this point.
func parseList(body []byte, settings domain.SourceSettings) parseOutcome {
	if doc, ok := parseTrackerJSON(body); ok {
		return doc
	}
	return parseFilterText(body, settings)
}

func parseTrackerJSON(body []byte) (parseOutcome, bool) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return parseOutcome{}, false
	}
	var doc trackerDocument
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Trackers) == 0 {
		return parseOutcome{}, false
	}
	out := parseOutcome{trackers: make([]domain.TrackerInfo, 0, len(doc.Trackers))}
	for dom, rec := range doc.Trackers {
		raw, err := json.Marshal(rec)
		if err != nil {
			out.invalid++
			continue
		}
		out.trackers = append(out.trackers, domain.TrackerInfo{
			Domain:  dom,
			Owner:   rec.Owner.Name,
			Payload: raw,
		})
		out.valid++
	}
	return out, true
}

// parseFilterText walks the list line by line: header comments feed the
// unsafe metadata, cosmetic and snippet rules count as unsupported unless
// the settings admit them, and lines with embedded whitespace are invalid.
func parseFilterText(body []byte, settings domain.SourceSettings) parseOutcome {
	var out parseOutcome
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "["):
		case strings.HasPrefix(line, "!"):
			applyHeaderComment(&out.meta, line)
		case strings.Contains(line, "#$#") || strings.Contains(line, "#@$#"):
			if settings.AllowABPSnippets {
				out.valid++
			} else {
				out.unsupported++
			}
		case strings.Contains(line, "##") || strings.Contains(line, "#@#") || strings.Contains(line, "#?#"):
			out.unsupported++
		case strings.ContainsAny(line, " \t"):
			out.invalid++
		default:
			out.valid++
		}
	}
	return out
}

// applyHeaderComment folds one "! Key: value" header line into the
// metadata. Unknown keys are ignored; the values are never trusted for
// anything but display and fetch scheduling.
func applyHeaderComment(meta *domain.ListMetadata, line string) {
	body := strings.TrimSpace(strings.TrimLeft(line, "!"))
	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "title":
		meta.Title = value
	case "homepage":
		meta.Homepage = value
	case "licence", "license":
		meta.LicenseURL = value
	case "redirect":
		meta.RedirectURL = value
	case "version":
		meta.Version = value
	case "expires":
		meta.Expires = parseExpires(value)
	}
}

// parseExpires understands the conventional "N days" / "N hours" forms and
// a bare number of days. Anything unparsable yields zero, which the
// scheduler replaces with the default.
func parseExpires(value string) time.Duration {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0
	}
	unit := 24 * time.Hour
	if len(fields) > 1 && strings.HasPrefix(fields[1], "hour") {
		unit = time.Hour
	}
	return time.Duration(n) * unit
}

// clampExpiry bounds the next-fetch interval so a hostile or broken list
// can neither hammer the network nor pin itself forever.
func clampExpiry(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultExpiry
	case d < minExpiry:
		return minExpiry
	case d > maxExpiry:
		return maxExpiry
	default:
		return d
	}
}

// looksBinary reports whether a body cannot be a text filter list.
func looksBinary(body []byte) bool {
	return bytes.IndexByte(body, 0) >= 0
}
