// Package manifest loads and verifies the policy manifest consumed by
// the classifier.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

// Verifier checks a manifest's signature against its serialized bytes.
type Verifier interface {
	Verify(manifest []byte, signature string) (bool, error)
}

// StubVerifier always reports the manifest as invalid. This is the
// default Verifier: the original implementation's signature check was a
// stub that always returned success, which would let an unsigned or
// forged manifest silently pass. Treating unverified manifests as
// invalid forces paranoid mode instead, the stricter reading of the
// classification rules.
type StubVerifier struct{}

// Verify always returns false, nil.
func (StubVerifier) Verify(manifest []byte, signature string) (bool, error) {
	return false, nil
}

// Load reads and parses the policy manifest at path. It does not verify
// the signature; call Verified separately with a Verifier.
func Load(path string) (*classifier.PolicyManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var m classifier.PolicyManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return &m, nil
}

// Verified loads the manifest at path and reports whether it verifies
// against v. When path is empty, it returns (nil, false, nil): no
// manifest configured, paranoid mode stays off per the default-pattern
// fallback.
func Verified(path string, v Verifier) (*classifier.PolicyManifest, bool, error) {
	if path == "" {
		return nil, false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	m, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	ok, err := v.Verify(raw, m.Signature)
	if err != nil {
		return nil, false, fmt.Errorf("manifest: verify %s: %w", path, err)
	}
	return m, ok, nil
}
