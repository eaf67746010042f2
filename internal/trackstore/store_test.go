package trackstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func tempStorePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "tracks.json")
}

func TestLoadOrCreate_missing(t *testing.T) {
	s, err := LoadOrCreate(tempStorePath(t))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestLoadOrCreate_corruptFails(t *testing.T) {
	path := tempStorePath(t)
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := LoadOrCreate(path); err == nil {
		t.Fatal("expected parse error for corrupt store")
	}
}

func TestAddMany_reportsOnlyNew(t *testing.T) {
	s, _ := LoadOrCreate(tempStorePath(t))
	added := s.AddMany([]string{"1", "2", "3"})
	if len(added) != 3 {
		t.Fatalf("first AddMany added %d, want 3", len(added))
	}
	added = s.AddMany([]string{"2", "3", "4"})
	if !reflect.DeepEqual(added, []string{"4"}) {
		t.Fatalf("second AddMany = %v, want [4]", added)
	}
	if !s.Contains("1") || s.Contains("9") {
		t.Fatal("Contains wrong")
	}
}

func TestLinkAndFindByAnnounce(t *testing.T) {
	s, _ := LoadOrCreate(tempStorePath(t))
	s.AddMany([]string{"42"})
	ch := "chan1"
	s.Link("42", AnnounceLink{MessageID: "msg9", ChannelID: &ch})

	if got := s.FindByAnnounce("msg9"); got != "42" {
		t.Fatalf("FindByAnnounce = %q, want 42", got)
	}
	if got := s.FindByAnnounce("nope"); got != "" {
		t.Fatalf("FindByAnnounce(nope) = %q, want empty", got)
	}
}

func TestSave_roundTripAndDocumentShape(t *testing.T) {
	path := tempStorePath(t)
	s, _ := LoadOrCreate(path)
	s.AddMany([]string{"10", "11"})
	ch := "c1"
	uid := "acct"
	s.Link("11", AnnounceLink{MessageID: "m1", ChannelID: &ch, UserID: &uid})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Wire shape: {"tracks": {"10": null, "11": {...}}}
	raw, _ := os.ReadFile(path)
	var doc map[string]map[string]*AnnounceLink
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("saved document not parseable: %v", err)
	}
	if doc["tracks"]["10"] != nil {
		t.Fatal("unlinked track must serialise as null")
	}
	if doc["tracks"]["11"] == nil || doc["tracks"]["11"].MessageID != "m1" {
		t.Fatalf("linked track lost: %+v", doc["tracks"]["11"])
	}

	reloaded, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(reloaded.ListIDs(), []string{"10", "11"}) {
		t.Fatalf("reload ids = %v", reloaded.ListIDs())
	}
	if reloaded.FindByAnnounce("m1") != "11" {
		t.Fatal("announce link lost across reload")
	}
}

func TestSave_removesBackup(t *testing.T) {
	path := tempStorePath(t)
	s, _ := LoadOrCreate(path)
	s.AddMany([]string{"1"})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	s.AddMany([]string{"2"})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Fatal("back-up must not persist after a successful save")
	}
}

// Unsaved additions are lost on restart and will be re-announced; the saved
// prefix must survive exactly.
func TestCrashBetweenSavePoints(t *testing.T) {
	path := tempStorePath(t)
	s, _ := LoadOrCreate(path)
	s.AddMany([]string{"1", "2", "3"})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	s.AddMany([]string{"4", "5"}) // never saved

	restarted, err := LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(restarted.ListIDs(), []string{"1", "2", "3"}) {
		t.Fatalf("restart ids = %v, want the saved prefix", restarted.ListIDs())
	}
	added := restarted.AddMany([]string{"4", "5"})
	if len(added) != 2 {
		t.Fatalf("lost tracks should be re-added, got %v", added)
	}
}

func TestListIDs_monotonicBetweenSaves(t *testing.T) {
	s, _ := LoadOrCreate(tempStorePath(t))
	s.AddMany([]string{"a", "b"})
	before := s.ListIDs()
	s.AddMany([]string{"c"})
	s.Link("a", AnnounceLink{MessageID: "m"})
	after := s.ListIDs()
	if len(after) < len(before) {
		t.Fatalf("store shrank: %v -> %v", before, after)
	}
	for _, id := range before {
		if !s.Contains(id) {
			t.Fatalf("id %s disappeared", id)
		}
	}
}
