package adapters

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookDestination POSTs the event payload as JSON to destination_config's
// "url", signing the body with an HMAC-SHA256 digest of destination_config's
// "secret" the same way the teacher's GitHub webhook receiver verifies
// inbound signatures, run in reverse to produce an outbound one.
type WebhookDestination struct {
	Client *http.Client
}

func NewWebhookDestination() *WebhookDestination {
	return &WebhookDestination{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookDestination) Send(ctx context.Context, cfg map[string]any, payload map[string]any) (Result, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return Result{}, fmt.Errorf("webhook destination config missing url")
	}
	secret, _ := cfg["secret"].(string)

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Fleetctl-Signature-256", "sha256="+signBody(body, secret))
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	result := Result{ResponseStatus: resp.StatusCode, ResponseBody: string(respBody)}
	if resp.StatusCode >= 300 {
		return result, fmt.Errorf("webhook destination responded %d", resp.StatusCode)
	}
	return result, nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
