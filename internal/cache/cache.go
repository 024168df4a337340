// Package cache persists per-repository contribution stats between runs so
// that repeated analyses do not re-issue expensive statistics requests.
package cache

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/naka-gawa/github-loc/internal/domain"
)

// schemaVersion tags every cache key so that a change in the estimation
// logic invalidates previously cached results without a manual cache wipe.
const schemaVersion = "v2"

// Entry is the persisted form of one repository's stats. Timestamp is epoch
// seconds of the moment the stats were computed.
type Entry struct {
	Additions int   `json:"additions"`
	Deletions int   `json:"deletions"`
	Timestamp int64 `json:"timestamp"`
}

// Store is a file-backed map of repository stats with time-based expiry.
// Entries are never deleted, only overwritten or ignored once expired.
// It is not safe for concurrent use; the analyzer is strictly sequential.
type Store struct {
	path    string
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time
	entries map[string]Entry
	raw     map[string]json.RawMessage // keys we could not decode, preserved on save
}

// Open loads the store at path. A missing or corrupt file is not an error:
// the store starts empty and the run proceeds without cached data.
func Open(path string, ttl time.Duration, logger *log.Logger) *Store {
	s := &Store{
		path:    path,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry),
		raw:     make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Printf("Warning: could not load cache %s: %v", path, err)
		}
		return s
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		logger.Printf("Warning: could not parse cache %s: %v", path, err)
		return s
	}
	for k, v := range fields {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			// Unknown schema; keep the key around for whoever wrote it.
			s.raw[k] = v
			continue
		}
		s.entries[k] = e
	}
	return s
}

// Key derives the cache key for a repository.
func Key(fullName string) string {
	return "repo_stats_" + fullName + "_" + schemaVersion
}

// Get returns the cached stats for a repository if a fresh entry exists.
// Expired entries are left in place and reported as a miss.
func (s *Store) Get(fullName string) (domain.ContributionStats, bool) {
	e, ok := s.entries[Key(fullName)]
	if !ok {
		return domain.ContributionStats{}, false
	}
	if s.now().Unix()-e.Timestamp >= int64(s.ttl.Seconds()) {
		return domain.ContributionStats{}, false
	}
	return domain.ContributionStats{Additions: e.Additions, Deletions: e.Deletions}, true
}

// Put records stats for a repository, stamped with the current time.
func (s *Store) Put(fullName string, stats domain.ContributionStats) {
	s.entries[Key(fullName)] = Entry{
		Additions: stats.Additions,
		Deletions: stats.Deletions,
		Timestamp: s.now().Unix(),
	}
}

// Save writes the whole mapping back to disk, writing to a temporary file
// and renaming it into place so a crash never leaves a half-written cache.
// Persistence is best-effort; failures are for the caller to report.
func (s *Store) Save() error {
	out := make(map[string]json.RawMessage, len(s.entries)+len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	for k, e := range s.entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		out[k] = data
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
