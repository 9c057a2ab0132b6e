package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// HTTPPushSender delivers events to the external push service over HTTP.
// Fire-and-forget from the core's perspective; the service fans out to the
// recipient's devices.
type HTTPPushSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPPushSender(endpoint, apiKey string) *HTTPPushSender {
	return &HTTPPushSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type pushMessage struct {
	To    string       `json:"to"`
	Event domain.Event `json:"event"`
}

func (p *HTTPPushSender) Send(ctx context.Context, recipientID string, event domain.Event) error {
	body, err := json.Marshal(pushMessage{To: recipientID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
