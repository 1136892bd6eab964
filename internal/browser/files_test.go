package browser

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFilePaths(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"absolute", "/tmp/photos/guitar.jpg", "/tmp/photos/guitar.jpg"},
		{"file uri", "file:///tmp/photos/guitar.jpg", "/tmp/photos/guitar.jpg"},
		{"relative", "photos/guitar.jpg", filepath.Join(cwd, "photos/guitar.jpg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFilePaths([]string{tt.in})
			if err != nil {
				t.Fatalf("ResolveFilePaths(%q) error = %v", tt.in, err)
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("ResolveFilePaths(%q) = %v, want [%s]", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveFilePathsBadURI(t *testing.T) {
	if _, err := ResolveFilePaths([]string{"file://%zz"}); err == nil {
		t.Error("expected error for malformed file uri")
	}
}
