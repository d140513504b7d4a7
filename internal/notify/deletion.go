package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// DefaultAPIKeyHeader is the header the deletion service expects the API key in.
const DefaultAPIKeyHeader = "Ocp-Apim-Subscription-Key"

// DeletionConfig configures a DeletionClient.
type DeletionConfig struct {
	URL          string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

// DeletionClient asks an external service to delete a processed blob.
type DeletionClient struct {
	url    string
	key    string
	header string
	client *http.Client
}

// NewDeletionClient creates a DeletionClient. The URL is required.
func NewDeletionClient(cfg DeletionConfig) (*DeletionClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: deletion url is required")
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DeletionClient{
		url:    cfg.URL,
		key:    cfg.APIKey,
		header: header,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type deletionRequest struct {
	BlobName string `json:"blobname"`
}

// RequestDeletion posts {"blobname": blobName} to the deletion service. Any
// non-2xx status is an error.
func (d *DeletionClient) RequestDeletion(ctx context.Context, blobName string) error {
	body, err := json.Marshal(deletionRequest{BlobName: blobName})
	if err != nil {
		return fmt.Errorf("notify: marshal deletion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create deletion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if d.key != "" {
		req.Header.Set(d.header, d.key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deletion request for %s: %w", blobName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: deletion of %s: unexpected status %d: %s", blobName, resp.StatusCode, string(respBody))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// Compile-time interface check.
var _ domain.DeletionNotifier = (*DeletionClient)(nil)
