// Package policygate implements the pre-push gate client. When configured,
// every publish-by-build-id must be approved by the gate's decision endpoint
// before the gateway touches the build artifacts or the registry.
//
// The client distinguishes two failure modes deliberately: PolicyGateError
// for a broken gate (transport failures, malformed responses) and
// PolicyUnsatisfied for a working gate saying no — the latter is an expected,
// user-actionable outcome, not a malfunction.
package policygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// Client queries one policy gate instance. A zero-URL client is disabled;
// the orchestrator skips the check entirely instead of calling and ignoring.
type Client struct {
	url            string
	context        string
	productVersion string
	client         *http.Client
}

// NewClient creates a policy gate client. url empty means the gate is not
// configured and Enabled reports false.
func NewClient(url, decisionContext, productVersion string, timeout time.Duration) *Client {
	return &Client{
		url:            strings.TrimRight(url, "/"),
		context:        decisionContext,
		productVersion: productVersion,
		client:         &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the gate is configured.
func (c *Client) Enabled() bool {
	return c.url != ""
}

// Check asks the gate whether the build named by nvr satisfies policy. The
// caller must not invoke Check on a disabled client.
func (c *Client) Check(ctx context.Context, nvr string) error {
	if !c.Enabled() {
		return fmt.Errorf("policy gate is not configured")
	}

	slog.Info("checking build against policy gate", "nvr", nvr)
	payload, err := json.Marshal(map[string]string{
		"decision_context":   c.context,
		"product_version":    c.productVersion,
		"subject_identifier": nvr,
		"subject_type":       "koji_build",
	})
	if err != nil {
		return fmt.Errorf("encode decision payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v1.0/decision", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create decision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindPolicyGateError, err, "policy gate request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var decision map[string]any
	if err := json.Unmarshal(body, &decision); err != nil {
		decision = map[string]any{}
	}

	if resp.StatusCode != http.StatusOK {
		return errdefs.New(errdefs.KindPolicyGateError,
			"policy gate unexpected response code: %d", resp.StatusCode).
			WithDetail("greenwave_response", decision)
	}

	satisfied, ok := decision["policies_satisfied"].(bool)
	if !ok {
		return errdefs.New(errdefs.KindPolicyGateError,
			"missing key 'policies_satisfied' in answer for nvr %s", nvr).
			WithDetail("greenwave_response", decision)
	}
	if !satisfied {
		return errdefs.New(errdefs.KindPolicyUnsatisfied,
			"policies for nvr %s were not satisfied", nvr).
			WithDetail("greenwave_response", decision)
	}

	slog.Info("policy gate check passed", "nvr", nvr)
	return nil
}
