// Package watchlist manages the ordered list of watched account ids backed by
// users.json. Appends only; accounts are never removed during a run.
package watchlist

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scarchive/scarchivebot/internal/fsutil"
)

// List is the watched-account list. Not safe for concurrent use; the
// scheduler is its only mutator.
type List struct {
	users []string
	path  string
}

type usersDoc struct {
	Users []string `json:"users"`
}

// Load reads the list from path. A missing file yields an empty list and
// writes an empty document so the operator can find it. No de-duplication is
// applied on load.
func Load(path string) (*List, error) {
	l := &List{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := l.Save(); werr != nil {
			return nil, werr
		}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watchlist: read %s: %w", path, err)
	}
	var doc usersDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("watchlist: parse %s: %w", path, err)
	}
	l.users = doc.Users
	return l, nil
}

// Users returns the account ids in order. The caller must not mutate it.
func (l *List) Users() []string {
	return l.users
}

// Len returns the number of watched accounts.
func (l *List) Len() int { return len(l.users) }

// Contains reports whether id is already watched.
func (l *List) Contains(id string) bool {
	for _, u := range l.users {
		if u == id {
			return true
		}
	}
	return false
}

// Append adds ids that are not already present, in the given order, and
// returns how many were added. In-memory only; call Save to persist.
func (l *List) Append(ids []string) int {
	added := 0
	for _, id := range ids {
		if id == "" || l.Contains(id) {
			continue
		}
		l.users = append(l.users, id)
		added++
	}
	return added
}

// Save persists the list with the shared back-up-and-overwrite scheme.
func (l *List) Save() error {
	doc := usersDoc{Users: l.users}
	if doc.Users == nil {
		doc.Users = []string{}
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.BackupAndWrite(l.path, append(data, '\n')); err != nil {
		return fmt.Errorf("watchlist: save %s: %w", l.path, err)
	}
	return nil
}
