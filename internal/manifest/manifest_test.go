package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `{
	"version": "1",
	"safe_commands": ["custom_read"],
	"write_commands": ["custom_write"],
	"blocked_patterns": [],
	"signature": "deadbeef"
}`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesFields(t *testing.T) {
	path := writeManifest(t)
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != "1" || len(m.SafeCommands) != 1 || m.SafeCommands[0] != "custom_read" {
		t.Errorf("unexpected manifest: %#v", m)
	}
}

func TestStubVerifierAlwaysInvalid(t *testing.T) {
	ok, err := StubVerifier{}.Verify([]byte("anything"), "sig")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("StubVerifier should always report invalid, per the paranoid-mode default")
	}
}

func TestVerifiedWithEmptyPathReturnsNoManifest(t *testing.T) {
	m, verified, err := Verified("", StubVerifier{})
	if err != nil {
		t.Fatal(err)
	}
	if m != nil || verified {
		t.Errorf("expected (nil, false) for no configured manifest, got (%#v, %v)", m, verified)
	}
}

func TestVerifiedUsesVerifierResult(t *testing.T) {
	path := writeManifest(t)

	m, verified, err := Verified(path, StubVerifier{})
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || verified {
		t.Errorf("expected (manifest, false) with StubVerifier, got (%#v, %v)", m, verified)
	}

	m, verified, err = Verified(path, acceptAllVerifier{})
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !verified {
		t.Errorf("expected (manifest, true) with an accepting verifier, got (%#v, %v)", m, verified)
	}
}

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(manifest []byte, signature string) (bool, error) {
	return true, nil
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing manifest file")
	}
}
