package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPAnchorer posts roots to a ledger gateway. The gateway accepts the
// hash and returns a transaction reference once the anchoring transaction
// is submitted; confirmation is the gateway's problem.
type HTTPAnchorer struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAnchorer(endpoint string) *HTTPAnchorer {
	return &HTTPAnchorer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type anchorRequest struct {
	PollID string `json:"pollId"`
	Root   string `json:"root"`
}

type anchorResponse struct {
	TxRef string `json:"txRef"`
}

func (a *HTTPAnchorer) Anchor(ctx context.Context, pollID uuid.UUID, root string) (string, error) {
	body, err := json.Marshal(anchorRequest{PollID: pollID.String(), Root: root})
	if err != nil {
		return "", fmt.Errorf("anchor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anchor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anchor: post root: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("anchor: gateway returned %d", resp.StatusCode)
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("anchor: decode response: %w", err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("anchor: gateway returned empty txRef")
	}
	return out.TxRef, nil
}
