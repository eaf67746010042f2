package safeurl

import "testing"

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"http://cdn.example/media.mp3", true},
		{"https://cdn.example/media.mp3?token=x", true},
		{"HTTPS://cdn.example/x", true},
		{"file:///etc/passwd", false},
		{"ftp://cdn.example", false},
		{"", false},
		{"not-a-url", false},
	}
	for _, tt := range tests {
		if got := IsHTTPOrHTTPS(tt.url); got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}

func TestRedact(t *testing.T) {
	got := Redact("https://api.example/tracks/1?client_id=SECRET&limit=5", "client_id")
	if got == "https://api.example/tracks/1?client_id=SECRET&limit=5" {
		t.Fatalf("not redacted: %q", got)
	}
	if Redact("https://api.example/tracks/1", "client_id") != "https://api.example/tracks/1" {
		t.Fatal("param-free URL must pass through unchanged")
	}
	if Redact("://bad", "x") != "://bad" {
		t.Fatal("unparseable URL must pass through")
	}
}
