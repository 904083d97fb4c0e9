// Package rulesdb persists fetched rule-list bodies keyed by checksum so a
// restart can rebuild the matcher without re-downloading every list.
// Read-back mismatches (unknown checksum or a format bump) are cache
// misses, never corruption: the caller just re-fetches.
package rulesdb

import (
	"encoding/binary"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// FormatVersion is bumped whenever the stored artifact layout changes.
// Artifacts written under another version are invisible to Get.
const FormatVersion uint64 = 1

var (
	bucketArtifacts = []byte("artifacts")
	bucketMeta      = []byte("meta")

	keyFormat = []byte("format")
)

// Store is a bbolt-backed artifact store.
type Store struct {
	db *bbolt.DB
}

// StoreStats reports lightweight store metrics.
type StoreStats struct {
	ArtifactCount uint64
	FormatVersion uint64
}

// Open opens (or creates) the artifact database at path and ensures the
// buckets and format marker exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketArtifacts); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyFormat) == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, FormatVersion)
			return meta.Put(keyFormat, buf)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores a rule-list body under its checksum and stamps the current
// format version.
func (s *Store) Put(checksum string, body []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, FormatVersion)
		if err := meta.Put(keyFormat, buf); err != nil {
			return err
		}
		return tx.Bucket(bucketArtifacts).Put([]byte(checksum), body)
	})
}

// Get returns the stored body for a checksum. An unknown checksum or a
// format-version mismatch returns found=false with no error.
func (s *Store) Get(checksum string) (body []byte, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if storedFormat(tx) != FormatVersion {
			return nil
		}
		v := tx.Bucket(bucketArtifacts).Get([]byte(checksum))
		if v == nil {
			return nil
		}
		body = make([]byte, len(v))
		copy(body, v)
		found = true
		return nil
	})
	return body, found, err
}

// Delete removes the artifact for a checksum. Deleting an absent checksum
// is a no-op.
func (s *Store) Delete(checksum string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArtifacts).Delete([]byte(checksum))
	})
}

// Stats reads counts and metadata in a cheap read-only transaction.
func (s *Store) Stats() StoreStats {
	st := StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		st.ArtifactCount = uint64(tx.Bucket(bucketArtifacts).Stats().KeyN)
		st.FormatVersion = storedFormat(tx)
		return nil
	})
	return st
}

func storedFormat(tx *bbolt.Tx) uint64 {
	if v := tx.Bucket(bucketMeta).Get(keyFormat); len(v) == 8 {
		return binary.BigEndian.Uint64(v)
	}
	return 0
}
