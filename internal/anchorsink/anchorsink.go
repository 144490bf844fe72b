// Package anchorsink provides the Session Manager's AnchorSink
// collaborator: a safe no-op default and an example HTTP-backed sink.
package anchorsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/talos-sh/terminal-adapter/internal/logging"
)

// NoopSink always succeeds without committing anything anywhere. Useful
// for tests and for running without an external audit chain configured.
type NoopSink struct{}

// Anchor always returns nil.
func (NoopSink) Anchor(ctx context.Context, sessionID, merkleRoot string) error {
	return nil
}

type anchorPayload struct {
	SessionID  string `json:"session_id"`
	MerkleRoot string `json:"merkle_root"`
}

// HTTPSink POSTs {session_id, merkle_root} to a configured audit
// endpoint. The callback contract requires idempotence over
// (session-id, root) pairs and "fail rather than doubt", so transient
// transport errors are retried but 4xx responses are treated as a
// genuine rejection and returned immediately.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

// NewHTTPSink constructs an HTTPSink with a bounded request timeout.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Anchor commits the given session/root pair to the configured endpoint.
func (s *HTTPSink) Anchor(ctx context.Context, sessionID, merkleRoot string) error {
	body, err := json.Marshal(anchorPayload{SessionID: sessionID, MerkleRoot: merkleRoot})
	if err != nil {
		return fmt.Errorf("anchorsink: marshal payload: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("anchorsink: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.Client.Do(req)
		if err != nil {
			return fmt.Errorf("anchorsink: transport: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("anchorsink: rejected with status %d", resp.StatusCode))
		default:
			return fmt.Errorf("anchorsink: status %d", resp.StatusCode)
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("anchor commit failed")
		return err
	}
	return nil
}
