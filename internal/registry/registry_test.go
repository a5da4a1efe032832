package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func implementations(t *testing.T) map[string]Registry {
	return map[string]Registry{
		"file":   NewFileRegistry(filepath.Join(t.TempDir(), DefaultFileName), nil),
		"memory": NewMemoryRegistry(),
	}
}

func TestRegisterUnregisterLeavesEmpty(t *testing.T) {
	for name, reg := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Register("/work/api", "s-1", 4242); err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			entry, ok, err := reg.Get("/work/api")
			if err != nil || !ok {
				t.Fatalf("Expected entry after register, ok=%v err=%v", ok, err)
			}
			if entry.SessionID != "s-1" || entry.PID != 4242 || entry.Note != nil {
				t.Errorf("Unexpected entry %+v", entry)
			}

			if err := reg.Unregister("/work/api"); err != nil {
				t.Fatalf("Unregister failed: %v", err)
			}
			entries, err := reg.List()
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("Expected empty registry, got %+v", entries)
			}

			if err := reg.Unregister("/work/api"); err != nil {
				t.Errorf("Unregister of an absent path should be a no-op, got %v", err)
			}
		})
	}
}

func TestSetNoteWithoutEntry(t *testing.T) {
	for name, reg := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			err := reg.SetNote("/work/none", "refactoring auth")
			if !errors.Is(err, ErrNoActiveSessionForPath) {
				t.Errorf("Expected ErrNoActiveSessionForPath, got %v", err)
			}
		})
	}
}

func TestSetNoteOverwrites(t *testing.T) {
	for name, reg := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Register("/work/api", "s-1", 1); err != nil {
				t.Fatal(err)
			}

			if _, ok, _ := reg.GetNote("/work/api"); ok {
				t.Error("Expected no note on a fresh entry")
			}

			if err := reg.SetNote("/work/api", "first"); err != nil {
				t.Fatal(err)
			}
			if err := reg.SetNote("/work/api", "second"); err != nil {
				t.Fatal(err)
			}

			note, ok, err := reg.GetNote("/work/api")
			if err != nil || !ok || note != "second" {
				t.Errorf("Expected note %q, got %q ok=%v err=%v", "second", note, ok, err)
			}

			// re-registering replaces the entry, note included
			if err := reg.Register("/work/api", "s-2", 2); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := reg.GetNote("/work/api"); ok {
				t.Error("Expected register to overwrite the previous note")
			}
		})
	}
}

func TestFileRegistryCorruptOrMissing(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{"missing", nil},
		{"empty", strPtr("")},
		{"garbage", strPtr("{not json")},
		{"wrong shape", strPtr(`["a", "b"]`)},
		{"bad entry", strPtr(`{"/work/api": {"pid": "twelve"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			reg := NewFileRegistry(path, nil)
			entries, err := reg.List()
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("Expected empty mapping, got %+v", entries)
			}

			// the next write replaces the broken file
			if err := reg.Register("/work/api", "s-1", 7); err != nil {
				t.Fatalf("Register over corrupt file failed: %v", err)
			}
			if _, ok, _ := reg.Get("/work/api"); !ok {
				t.Error("Expected entry after rewriting corrupt file")
			}
		})
	}
}

func TestFileRegistrySharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	owner := NewFileRegistry(path, nil)
	annotator := NewFileRegistry(path, nil)

	if err := owner.Register("/work/api", "s-1", 99); err != nil {
		t.Fatal(err)
	}
	if err := annotator.SetNote("/work/api", "wrote the migration"); err != nil {
		t.Fatalf("SetNote from a second instance failed: %v", err)
	}

	note, ok, err := owner.GetNote("/work/api")
	if err != nil || !ok || note != "wrote the migration" {
		t.Errorf("Expected note visible to owner, got %q ok=%v err=%v", note, ok, err)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("Expected no leftover temp files, got %v", matches)
	}
}

func TestFileRegistryNullNote(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := `{"/work/api": {"sessionId": "s-1", "pid": 3, "note": null}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewFileRegistry(path, nil)
	entry, ok, _ := reg.Get("/work/api")
	if !ok || entry.SessionID != "s-1" || entry.PID != 3 {
		t.Fatalf("Unexpected entry %+v ok=%v", entry, ok)
	}
	if _, ok, _ := reg.GetNote("/work/api"); ok {
		t.Error("Expected null note to read as absent")
	}
}

func TestPaths(t *testing.T) {
	got := Paths(map[string]Entry{"/b": {}, "/a": {}, "/c": {}})
	want := []string{"/a", "/b", "/c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func strPtr(s string) *string { return &s }
