// Package trackstore persists the set of known track ids and, per track, the
// announce message it was posted as. Membership only grows during a run; a
// track id present here is never announced again.
package trackstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/scarchive/scarchivebot/internal/fsutil"
)

// ErrPersistenceFailed wraps a save that could not complete even after the
// back-up restore. State survives in memory; the next save may succeed.
var ErrPersistenceFailed = errors.New("trackstore: persistence failed")

// AnnounceLink records the webhook message a track was announced as.
type AnnounceLink struct {
	MessageID string  `json:"id"`
	ChannelID *string `json:"channel_id"`
	UserID    *string `json:"user_id"`
}

// Store maps track id → announce link (nil = seen but not linked).
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	tracks map[string]*AnnounceLink
	path   string
}

type storeDoc struct {
	Tracks map[string]*AnnounceLink `json:"tracks"`
}

// LoadOrCreate loads the store from path, or starts empty when the file does
// not exist. A corrupt file is an error: silently starting fresh would
// re-announce the entire history.
func LoadOrCreate(path string) (*Store, error) {
	s := &Store{tracks: make(map[string]*AnnounceLink), path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trackstore: read %s: %w", path, err)
	}
	var doc storeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trackstore: parse %s: %w", path, err)
	}
	if doc.Tracks != nil {
		s.tracks = doc.Tracks
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Contains reports whether id is known.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracks[id]
	return ok
}

// AddMany inserts the given ids and returns those that were not already
// present. In-memory only; call Save to persist.
func (s *Store) AddMany(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, id := range ids {
		if _, ok := s.tracks[id]; ok {
			continue
		}
		s.tracks[id] = nil
		added = append(added, id)
	}
	return added
}

// Link attaches an announce record to a known track id. Linking an unknown id
// inserts it as well.
func (s *Store) Link(id string, link AnnounceLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[id] = &link
}

// ListIDs returns every known track id, sorted for stable output.
func (s *Store) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known tracks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// FindByAnnounce returns the track id announced as messageID, or "".
func (s *Store) FindByAnnounce(messageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.tracks {
		if link != nil && link.MessageID == messageID {
			return id
		}
	}
	return ""
}

// Save writes the whole mapping as pretty-printed JSON using the
// back-up-and-overwrite scheme: copy the current file to <path>.bak, write
// the new content over <path>, then remove the back-up. On a write failure
// the back-up is restored. Crash between copy and write leaves the back-up
// for manual recovery; power loss mid-write is an accepted gap.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := storeDoc{Tracks: s.tracks}
	data, err := json.MarshalIndent(&doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistenceFailed, err)
	}
	if err := fsutil.BackupAndWrite(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// Shutdown is the final flush.
func (s *Store) Shutdown() error {
	return s.Save()
}
