// Package callback delivers terminal task results to the submitter's
// completion URL. Delivery is fire-and-forget: failures are logged, never
// retried, and never affect the task's own outcome.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

const postTimeout = 10 * time.Second

// Notifier posts JSON payloads to callback URLs.
type Notifier struct {
	client *http.Client
	logger hclog.Logger
}

// NewNotifier builds a notifier with its own pooled HTTP client.
func NewNotifier(logger hclog.Logger) *Notifier {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Notifier{
		client: cleanhttp.DefaultPooledClient(),
		logger: logger.Named("callback"),
	}
}

// Post sends the payload to url as JSON. A nil return means the endpoint
// acknowledged with a 2xx; every other outcome is logged and swallowed.
func (n *Notifier) Post(ctx context.Context, url string, payload any) {
	if url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("callback payload not serializable", "url", url, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("callback request build failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("callback delivery failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("callback rejected", "url", url, "status", resp.StatusCode)
	}
}
