// Package attest defines the attestation collaborator boundary. The proof
// system itself is external; this package only carries the contract and an
// HTTP client for it. An attestation failure aborts the execution - the
// orchestrator never substitutes a fabricated handle.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is the attestation collaborator's answer. Handle is an opaque
// proof-of-computation reference; Verified reports whether the collaborator
// could verify the claim against the witness data.
type Result struct {
	Handle   string `json:"handle"`
	Verified bool   `json:"verified"`
}

// Attestor obtains an attestation over a claim and its witness data.
type Attestor interface {
	Attest(ctx context.Context, claim string, witness map[string]interface{}) (Result, error)
}

// HTTPClient calls a remote attestation service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an attestation client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type attestRequest struct {
	Claim   string                 `json:"claim"`
	Witness map[string]interface{} `json:"witness"`
}

// Attest posts the claim and witness to the service's /attest endpoint.
func (c *HTTPClient) Attest(ctx context.Context, claim string, witness map[string]interface{}) (Result, error) {
	body, err := json.Marshal(attestRequest{Claim: claim, Witness: witness})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attest", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("attestation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("attestation service returned %d: %s", resp.StatusCode, string(payload))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("failed to decode attestation response: %w", err)
	}
	if result.Handle == "" {
		return Result{}, fmt.Errorf("attestation service returned an empty handle")
	}

	return result, nil
}