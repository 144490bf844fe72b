package approval

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

// HTTPBroker submits ApprovalRequests to a governance endpoint over
// HTTP, modeled on the original Supervisor escalation client: it POSTs
// the request envelope, treats 200 as a decision payload, 403 as a
// rejection, and retries transport failures and any other status code.
type HTTPBroker struct {
	URL     string
	AgentID string
	Client  *http.Client
}

// NewHTTPBroker constructs an HTTPBroker with a bounded request timeout.
func NewHTTPBroker(url, agentID string) *HTTPBroker {
	return &HTTPBroker{
		URL:     url,
		AgentID: agentID,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type supervisorResponse struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
}

// RequestApproval POSTs req to the broker's action-requests endpoint,
// retrying transient failures with exponential backoff. A 403 response
// is a genuine rejection, not a transient failure, and is returned
// immediately without retry.
func (b *HTTPBroker) RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("approval: marshal request: %w", err)
	}

	var decision Decision
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+"/action-requests", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("approval: build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Talos-Principal", b.AgentID)

		resp, err := b.Client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			var sr supervisorResponse
			if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
				return backoff.Permanent(fmt.Errorf("approval: decode response: %w", err))
			}
			decision = Decision(sr.Decision)
			if decision == "" {
				decision = DecisionRejected
			}
			return nil
		case http.StatusForbidden:
			decision = DecisionRejected
			return nil
		default:
			return fmt.Errorf("%w: status %d", ErrBrokerUnavailable, resp.StatusCode)
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		logging.Error().Err(err).Str("url", b.URL).Msg("approval request failed")
		return "", err
	}
	return decision, nil
}
