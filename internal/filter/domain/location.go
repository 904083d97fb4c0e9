package domain

import (
	"fmt"
	"hash/fnv"
)

// SourceID is a stable identity derived solely from a source's address or
// file path. Two sources with the same location are the same entity.
type SourceID uint64

type locationKind uint8

const (
	locationNone locationKind = iota
	locationURL
	locationFile
)

// SourceLocation is a tagged variant holding either a remote address or a
// local file path, never both.
type SourceLocation struct {
	kind locationKind
	spec string
}

// URLLocation returns a SourceLocation backed by a remote address.
func URLLocation(url string) SourceLocation {
	return SourceLocation{kind: locationURL, spec: url}
}

// FileLocation returns a SourceLocation backed by a local file path.
func FileLocation(path string) SourceLocation {
	return SourceLocation{kind: locationFile, spec: path}
}

// IsURL reports whether the location is a remote address.
func (l SourceLocation) IsURL() bool { return l.kind == locationURL }

// IsFile reports whether the location is a local file path.
func (l SourceLocation) IsFile() bool { return l.kind == locationFile }

// IsZero reports whether the location is unset.
func (l SourceLocation) IsZero() bool { return l.kind == locationNone }

// Spec returns the raw address or path string.
func (l SourceLocation) Spec() string { return l.spec }

// Validate checks that the location carries a non-empty address or path.
func (l SourceLocation) Validate() error {
	if l.kind == locationNone || l.spec == "" {
		return fmt.Errorf("source location must carry an address or file path")
	}
	return nil
}

// ID derives the stable source identity from the location spec alone.
func (l SourceLocation) ID() SourceID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(l.spec))
	return SourceID(h.Sum64())
}
