package watchlist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_missingCreatesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("Len = %d", l.Len())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("empty document not written: %v", err)
	}
	if string(raw) != "{\n  \"users\": []\n}\n" {
		t.Fatalf("document = %q", raw)
	}
}

func TestLoad_keepsOrderAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	os.WriteFile(path, []byte(`{"users":["b","a","b"]}`), 0o644)
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(l.Users(), []string{"b", "a", "b"}) {
		t.Fatalf("Users = %v; load must not de-duplicate", l.Users())
	}
}

func TestAppend_skipsKnownAndEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	l, _ := Load(path)
	if n := l.Append([]string{"a", "b"}); n != 2 {
		t.Fatalf("Append = %d, want 2", n)
	}
	if n := l.Append([]string{"b", "", "c"}); n != 1 {
		t.Fatalf("Append = %d, want 1", n)
	}
	if !reflect.DeepEqual(l.Users(), []string{"a", "b", "c"}) {
		t.Fatalf("Users = %v", l.Users())
	}
}

func TestSave_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	l, _ := Load(path)
	l.Append([]string{"111", "222"})
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Fatal("back-up must not persist after save")
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reloaded.Users(), []string{"111", "222"}) {
		t.Fatalf("reload = %v", reloaded.Users())
	}
}
