package state

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, _, ok, err := s.TaskState("pull"); err != nil || ok {
		t.Fatalf("unrecorded task should report ok=false, got ok=%v err=%v", ok, err)
	}

	deps := map[string]string{"src/pull.py": "abc123", "data/raw.parquet": "def456"}
	if err := s.RecordTask("pull", "sig-1", deps); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	sig, got, ok, err := s.TaskState("pull")
	if err != nil || !ok {
		t.Fatalf("TaskState failed: ok=%v err=%v", ok, err)
	}
	if sig != "sig-1" {
		t.Errorf("unexpected signature %q", sig)
	}
	if len(got) != 2 || got["src/pull.py"] != "abc123" {
		t.Errorf("unexpected fingerprints %v", got)
	}
}

func TestStoreRecordReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordTask("format", "sig-1", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	if err := s.RecordTask("format", "sig-2", map[string]string{"a": "9"}); err != nil {
		t.Fatalf("second RecordTask failed: %v", err)
	}

	sig, deps, ok, err := s.TaskState("format")
	if err != nil || !ok {
		t.Fatalf("TaskState failed: ok=%v err=%v", ok, err)
	}
	if sig != "sig-2" {
		t.Errorf("signature not replaced, got %q", sig)
	}
	if len(deps) != 1 || deps["a"] != "9" {
		t.Errorf("old fingerprints not replaced: %v", deps)
	}
}

func TestStoreForget(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordTask("charts", "sig", map[string]string{"x": "1"}); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	if err := s.Forget("charts"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, _, ok, err := s.TaskState("charts"); err != nil || ok {
		t.Fatalf("forgotten task should report ok=false, got ok=%v err=%v", ok, err)
	}

	// forgetting twice is fine
	if err := s.Forget("charts"); err != nil {
		t.Fatalf("second Forget failed: %v", err)
	}
}

func TestStoreSkipsEmptyFingerprints(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordTask("pull", "sig", map[string]string{"readable": "aa", "unreadable": ""}); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	_, deps, _, err := s.TaskState("pull")
	if err != nil {
		t.Fatalf("TaskState failed: %v", err)
	}
	if _, found := deps["unreadable"]; found {
		t.Error("empty fingerprints must not be stored")
	}
}
