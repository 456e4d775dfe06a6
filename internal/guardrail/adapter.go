package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RecordingAdapter is the "none" PauseAdapter: it does not call out to any
// external system, it only records that execution was attempted. §4.C6:
// "In the specified core, execution is represented as a recorded
// intent" — a real multisig/governance/EOA adapter is a deployment-time
// collaborator (see §6), not something the core itself must broadcast.
type RecordingAdapter struct{}

// Execute always succeeds, returning a synthetic receipt identifying the
// recorded intent.
func (RecordingAdapter) Execute(ctx context.Context, req PauseRequest) (string, error) {
	return fmt.Sprintf("recorded-intent:%s:%s", req.ContractAddress, req.ID), nil
}

// WebhookAdapter is the "webhook" PauseAdapter: it hands the pause intent
// to an external automation endpoint (e.g. an OpenZeppelin Defender
// Autotask or a Gelato function that holds the actual pauser key) and
// treats a 2xx response as confirmation of execution. The webhook's
// response body, if any, becomes the receipt.
type WebhookAdapter struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type webhookPayload struct {
	PauseRequestID  string `json:"pause_request_id"`
	ContractAddress string `json:"contract_address"`
	Chain           string `json:"chain"`
	Reason          string `json:"reason"`
}

// Execute posts the pause intent to the configured webhook URL.
func (a *WebhookAdapter) Execute(ctx context.Context, req PauseRequest) (string, error) {
	if a.URL == "" {
		return "", fmt.Errorf("guardrail: no webhook url configured")
	}
	client := a.HTTPClient
	if client == nil {
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	body, err := json.Marshal(webhookPayload{
		PauseRequestID:  req.ID,
		ContractAddress: req.ContractAddress,
		Chain:           req.Chain,
		Reason:          req.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("guardrail: marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("guardrail: build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("guardrail: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("guardrail: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}
