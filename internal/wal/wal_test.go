package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talos-sh/terminal-adapter/internal/audit"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

func appendRaw(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func newAction(id string) audit.Action {
	return audit.Action{
		ActionID:  id,
		SessionID: "sess-1",
		Timestamp: time.Now().UTC(),
		Command:   "ls",
		Args:      []string{"-la"},
		Cwd:       "/workspace",
		Risk:      classifier.RiskRead,
	}
}

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := w.Append(newAction(id)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 3 {
		t.Fatalf("expected 3 recovered actions, got %d", len(recovered))
	}
	for i, id := range []string{"a1", "a2", "a3"} {
		if recovered[i].ActionID != id {
			t.Errorf("index %d: expected %s, got %s", i, id, recovered[i].ActionID)
		}
	}
}

func TestRecoverMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "never-written")
	if err != nil {
		t.Fatal(err)
	}
	actions, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Errorf("expected no actions, got %d", len(actions))
	}
}

func TestRecoverSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "sess-blank")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(newAction("a1")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "sess-blank.wal")
	appendRaw(t, path, "\n\n")

	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected 1 action, got %d", len(recovered))
	}
}

func TestRecoverStopsAtCorruptTrailingLine(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "sess-corrupt")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(newAction("a1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(newAction("a2")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "sess-corrupt.wal")
	appendRaw(t, path, `{"sequence":2,"action_id":`)

	recovered, err := w.Recover()
	if err != nil {
		t.Fatalf("corrupt trailing line should not be an error: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("expected recovery to stop at last well-formed entry, got %d", len(recovered))
	}
}

// P7: the WAL file is zero-length iff the most recent anchor succeeded and
// nothing has been recorded since.
func TestTruncationDiscipline(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "sess-trunc")
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Append(newAction("a1")); err != nil {
		t.Fatal(err)
	}
	size, err := w.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Error("expected non-zero WAL size after append")
	}

	if err := w.Truncate(); err != nil {
		t.Fatal(err)
	}
	size, err = w.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Errorf("expected zero size after truncate, got %d", size)
	}

	if err := w.Append(newAction("a2")); err != nil {
		t.Fatal(err)
	}
	size, err = w.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Error("expected non-zero size after append following truncate")
	}
}

func TestSequenceResetsOnTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "sess-seq")
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Append(newAction("a1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(newAction("a2")); err != nil {
		t.Fatal(err)
	}
	if w.sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", w.sequence)
	}

	if err := w.Truncate(); err != nil {
		t.Fatal(err)
	}
	if w.sequence != 0 {
		t.Errorf("expected sequence reset to 0, got %d", w.sequence)
	}

	if err := w.Append(newAction("a3")); err != nil {
		t.Fatal(err)
	}
	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 1 || recovered[0].ActionID != "a3" {
		t.Errorf("expected only a3 after truncate+append, got %#v", recovered)
	}
}
