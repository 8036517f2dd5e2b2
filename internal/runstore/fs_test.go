package runstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReplaceFile_SwapsAndRemovesRaw(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "clip.webm")
	tmp := filepath.Join(dir, "clip.converting.mp4")
	final := filepath.Join(dir, "clip.mp4")
	for _, p := range []string{raw, tmp} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := ReplaceFile(tmp, final, raw); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if Exists(raw) || Exists(tmp) {
		t.Fatalf("raw or temp file left behind")
	}
	data, err := os.ReadFile(final)
	if err != nil || string(data) != "clip.converting.mp4" {
		t.Fatalf("final content wrong: %q %v", data, err)
	}
}

func TestReplaceFile_SamePathKeepsResult(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "clip.mp4")
	tmp := filepath.Join(dir, "clip.converting.mp4")
	if err := os.WriteFile(final, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmp, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceFile(tmp, final, final); err != nil {
		t.Fatalf("replace: %v", err)
	}
	data, _ := os.ReadFile(final)
	if string(data) != "new" {
		t.Fatalf("expected converted content, got %q", data)
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "owner.json")
	in := jobLockOwner{JobID: "j1", PID: 42, CreatedAt: "2026-01-01T00:00:00Z"}
	if err := WriteJSON(path, in); err != nil {
		t.Fatal(err)
	}
	var out jobLockOwner
	if err := ReadJSON(path, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("unexpected owner: %+v", out)
	}
	if err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out); err == nil {
		t.Fatal("expected error for missing file")
	}
}
