package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/chartkit/chartsync/internal/config"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// HTTPClient talks to the replicated store over HTTPS.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	token     string
	userAgent string
	logger    *events.Logger
}

// NewHTTPClient creates a remote store client.
func NewHTTPClient(cfg *config.RemoteConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:   cfg.BaseURL,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		logger:    logger.WithField("component", "remote_client"),
	}
}

// Push transmits one batch of operations.
func (c *HTTPClient) Push(ctx context.Context, batch []*models.PendingOperation) ([]models.PushAck, error) {
	payload := struct {
		Operations []*models.PendingOperation `json:"operations"`
	}{Operations: batch}

	var resp struct {
		Acks []models.PushAck `json:"acks"`
	}
	if err := c.postJSON(ctx, "/api/v1/sync/push", payload, &resp); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"operations": len(batch),
		"acks":       len(resp.Acks),
	}).Debug("Pushed batch")

	return resp.Acks, nil
}

// Pull fetches remote changes after the cursor.
func (c *HTTPClient) Pull(ctx context.Context, cursor string) (*PullResult, error) {
	payload := struct {
		Cursor string `json:"cursor,omitempty"`
	}{Cursor: cursor}

	var result PullResult
	if err := c.postJSON(ctx, "/api/v1/sync/pull", payload, &result); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"changes": len(result.Changes),
		"cursor":  result.Cursor,
	}).Debug("Pulled changes")

	return &result, nil
}

// Metadata fetches container metadata.
func (c *HTTPClient) Metadata(ctx context.Context) (*models.StoreMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sync/metadata", nil)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Err: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	var meta models.StoreMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("decode metadata: %w", err)}
	}
	meta.FetchedAt = time.Now()
	return &meta, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: KindFatal, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindFatal, Err: fmt.Errorf("create request: %w", err)}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.classifyStatus(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("read response: %w", err)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func (c *HTTPClient) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)

	kind := KindTransient
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = KindPermission
	case resp.StatusCode == http.StatusConflict:
		kind = KindConflict
	case resp.StatusCode == http.StatusInsufficientStorage || resp.StatusCode == http.StatusTooManyRequests:
		kind = KindQuota
	case resp.StatusCode >= 500:
		kind = KindTransient
	case resp.StatusCode >= 400:
		kind = KindFatal
	}

	return &Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg),
	}
}

// classifyTransportError maps connection-level failures. Timeouts are
// treated identically to transient network errors.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr, &netErr) && netErr.Timeout() {
			return &Error{Kind: KindTransient, Err: err}
		}
		return &Error{Kind: KindNetwork, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindFatal, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
