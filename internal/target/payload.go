package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// FallbackMT103 is the embedded sample message used when the target cannot
// generate one. Matches the reference message shipped with the generator.
const FallbackMT103 = "{1:F01BANKBEBBAXXX0237205215}{2:O103080907BANKFRPPAXXX02372052150809070917N}{3:{108:ILOVESEPA}}{4:\n:20:REF12345678901234\n:23B:CRED\n:32A:240101EUR1000,00\n:50K:/12345678901234567890\nJOHN DOE\n123 MAIN STREET\nANYTOWN\n:59:/98765432109876543210\nJANE SMITH\n456 PARK AVENUE\nOTHERCITY\n:71A:SHA\n-}"

const sampleTimeout = 5 * time.Second

type transformPayload struct {
	Message string         `json:"message"`
	Options payloadOptions `json:"options"`
}

type payloadOptions struct {
	Validation bool `json:"validation"`
}

type sampleRequest struct {
	MessageType string       `json:"message_type"`
	Config      sampleConfig `json:"config"`
}

type sampleConfig struct {
	Scenario string `json:"scenario"`
}

// ResolvePayload asks the generator endpoint for a sample message and builds
// the transform body from it. Any failure, including an empty sample, falls
// back to the embedded message; a run never aborts for want of a payload.
// Not safe to call while requests built from the payload are in flight.
func (c *Client) ResolvePayload(ctx context.Context) error {
	message := c.fetchSample(ctx)
	if message == "" {
		c.logger.Debug("sample generation unavailable, using embedded MT103 message")
		message = FallbackMT103
	}
	body, err := json.Marshal(transformPayload{Message: message, Options: payloadOptions{Validation: false}})
	if err != nil {
		return fmt.Errorf("target: encode payload: %w", err)
	}
	c.body = body
	c.logger.Debug("payload resolved", zap.Int("bytes", len(body)))
	return nil
}

// Payload exposes the resolved transform body, nil before ResolvePayload.
func (c *Client) Payload() []byte { return c.body }

func (c *Client) fetchSample(ctx context.Context) string {
	reqBody, err := json.Marshal(sampleRequest{MessageType: "MT103", Config: sampleConfig{Scenario: "standard"}})
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.SamplePath, bytes.NewReader(reqBody))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: sampleTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var decoded struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ""
	}
	if decoded.Result != "" {
		return decoded.Result
	}
	return decoded.Message
}
