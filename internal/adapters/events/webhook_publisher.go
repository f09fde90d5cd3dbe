package events

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

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookPublisher posts run events to an HTTP endpoint. When a secret is
// configured each body is signed with HMAC-SHA256. Non-2xx responses are
// errors so the outbox dispatcher retries them.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookPublisher returns a publisher posting to url. A zero or negative
// timeout uses defaultWebhookTimeout.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Publish POSTs event as JSON with these headers:
//
//	Content-Type:            application/json
//	X-Auditsync-Topic:       <topic>
//	X-Auditsync-Event-Type:  <event.EventType>
//	X-Auditsync-Run:         <event.Run.ID>
//	X-Hub-Signature-256:     sha256=<hex HMAC-SHA256>, only with a secret
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auditsync-Topic", topic)
	req.Header.Set("X-Auditsync-Event-Type", event.EventType)
	req.Header.Set("X-Auditsync-Run", event.Run.ID)
	if len(p.secret) > 0 {
		req.Header.Set("X-Hub-Signature-256", "sha256="+p.sign(payload))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
