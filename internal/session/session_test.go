package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

type fakeSink struct {
	mu      sync.Mutex
	calls   []string
	failNext bool
}

func (f *fakeSink) Anchor(ctx context.Context, sessionID, merkleRoot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated anchor failure")
	}
	f.calls = append(f.calls, sessionID+":"+merkleRoot)
	return nil
}

func TestCreateAndGetSession(t *testing.T) {
	m := NewManager("/workspace", t.TempDir(), nil)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Active {
		t.Error("new session should be active")
	}
	if got := m.GetSession(sess.ID); got != sess {
		t.Error("GetSession should return the same session")
	}
}

func TestRecordActionUnknownSession(t *testing.T) {
	m := NewManager("/workspace", t.TempDir(), nil)
	_, err := m.RecordAction("nope", "ls", nil, "/workspace", classifier.RiskRead, nil, "", "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecordActionOrderingAndHash(t *testing.T) {
	m := NewManager("/workspace", t.TempDir(), nil)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	hash, err := m.RecordAction(sess.ID, "ls", []string{"-la"}, "/workspace", classifier.RiskRead, nil, "out", "")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "" {
		t.Error("expected non-empty audit hash")
	}

	actions := sess.Actions()
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].StdoutDigest == "" {
		t.Error("expected non-empty stdout digest for non-empty stdout")
	}
}

func TestAnchorSessionSkipsWithinInterval(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager("/workspace", t.TempDir(), sink)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	root, err := m.AnchorSession(context.Background(), sess.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if root != "" {
		t.Error("expected anchor to be skipped within interval")
	}
	if len(sink.calls) != 0 {
		t.Error("sink should not have been called")
	}
}

func TestAnchorSessionImmediateBypassesInterval(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager("/workspace", t.TempDir(), sink)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.RecordAction(sess.ID, "ls", nil, "/workspace", classifier.RiskRead, nil, "", ""); err != nil {
		t.Fatal(err)
	}

	root, err := m.AnchorSession(context.Background(), sess.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if root == "" {
		t.Error("expected a merkle root from immediate anchor")
	}
	if len(sink.calls) != 1 {
		t.Errorf("expected 1 sink call, got %d", len(sink.calls))
	}
}

func TestAnchorFailureDoesNotTruncateOrAdvance(t *testing.T) {
	sink := &fakeSink{failNext: true}
	m := NewManager("/workspace", t.TempDir(), sink)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.RecordAction(sess.ID, "ls", nil, "/workspace", classifier.RiskRead, nil, "", ""); err != nil {
		t.Fatal(err)
	}

	e, ok := m.entry(sess.ID)
	if !ok {
		t.Fatal("session entry missing")
	}
	lastAnchor := e.lastAnchor

	root, err := m.AnchorSession(context.Background(), sess.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if root != "" {
		t.Error("expected empty root on sink failure")
	}

	size, err := e.wal.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Error("WAL should not be truncated after a failed anchor")
	}
	if !e.lastAnchor.Equal(lastAnchor) {
		t.Error("last-anchor time should not advance after a failed anchor")
	}
}

func TestCloseSessionDeactivatesAndAnchors(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager("/workspace", t.TempDir(), sink)
	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.CloseSession(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
	if sess.Active {
		t.Error("expected session to be inactive after close")
	}
	if len(sink.calls) != 1 {
		t.Errorf("expected close to anchor once, got %d sink calls", len(sink.calls))
	}
}

// P5: after a crash following RecordAction's return, recovery yields the
// action.
func TestInvariantDurabilityAcrossRecovery(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager("/workspace", dir, nil)
	sess, err := m1.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.RecordAction(sess.ID, "ls", []string{"-la"}, "/workspace", classifier.RiskRead, nil, "", ""); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash: a brand new manager recovers from disk only.
	m2 := NewManager("/workspace", dir, nil)
	recovered, err := m2.RecoverSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if recovered == nil {
		t.Fatal("expected recovered session")
	}
	actions := recovered.Actions()
	if len(actions) != 1 || actions[0].Command != "ls" {
		t.Errorf("unexpected recovered actions: %#v", actions)
	}
	if actions[0].StdoutDigest != "" {
		t.Error("recovered actions should have empty stdout digest")
	}
}

func TestRecoverSessionNoEntriesReturnsNil(t *testing.T) {
	m := NewManager("/workspace", t.TempDir(), nil)
	recovered, err := m.RecoverSession("never-existed")
	if err != nil {
		t.Fatal(err)
	}
	if recovered != nil {
		t.Error("expected nil for a session with no WAL entries")
	}
}

func TestListActiveSessionsExcludesClosed(t *testing.T) {
	m := NewManager("/workspace", t.TempDir(), nil)
	sess1, _ := m.CreateSession()
	sess2, _ := m.CreateSession()

	if _, err := m.CloseSession(context.Background(), sess2.ID); err != nil {
		t.Fatal(err)
	}

	summaries := m.ListActiveSessions()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(summaries))
	}
	if summaries[0].SessionID != sess1.ID {
		t.Errorf("expected %s, got %s", sess1.ID, summaries[0].SessionID)
	}
}
