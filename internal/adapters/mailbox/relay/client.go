package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const (
	maskPath         = "/api/v1/relayaddresses/"
	maxResponseBytes = 1 << 20
)

// Client provisions disposable forwarding addresses through the Firefox
// Relay API. Each mask forwards to the account's real inbox until it is
// deactivated.
type Client struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.MailboxService = (*Client)(nil)

type maskResponse struct {
	ID          int64  `json:"id"`
	FullAddress string `json:"full_address"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"created_at"`
	Detail      string `json:"detail"`
}

func (c *Client) Provision(ctx context.Context, aliasHint string) (domain.MailboxHandle, error) {
	if c.APIKey == "" {
		return domain.MailboxHandle{}, errors.New("relay api key is required")
	}

	endpoint, err := c.endpoint("")
	if err != nil {
		return domain.MailboxHandle{}, err
	}

	body, err := json.Marshal(map[string]any{
		"enabled":     true,
		"description": aliasHint,
	})
	if err != nil {
		return domain.MailboxHandle{}, fmt.Errorf("encode mask request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.MailboxHandle{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return domain.MailboxHandle{}, statusError("create mask", resp)
	}

	var mask maskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&mask); err != nil {
		return domain.MailboxHandle{}, fmt.Errorf("decode mask response: %w", err)
	}
	if mask.FullAddress == "" {
		return domain.MailboxHandle{}, errors.New("mask response missing address")
	}

	createdAt := time.Now()
	if parsed, parseErr := time.Parse(time.RFC3339, mask.CreatedAt); parseErr == nil {
		createdAt = parsed
	}

	return domain.MailboxHandle{
		ForwardingAddress: mask.FullAddress,
		ProviderID:        strconv.FormatInt(mask.ID, 10),
		CreatedAt:         createdAt,
	}, nil
}

// List returns every mask on the account, active or not.
func (c *Client) List(ctx context.Context) ([]domain.MailboxHandle, error) {
	endpoint, err := c.endpoint("")
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list masks", resp)
	}

	var masks []maskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&masks); err != nil {
		return nil, fmt.Errorf("decode mask list: %w", err)
	}

	handles := make([]domain.MailboxHandle, 0, len(masks))
	for _, mask := range masks {
		handle := domain.MailboxHandle{
			ForwardingAddress: mask.FullAddress,
			ProviderID:        strconv.FormatInt(mask.ID, 10),
		}
		if parsed, parseErr := time.Parse(time.RFC3339, mask.CreatedAt); parseErr == nil {
			handle.CreatedAt = parsed
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func (c *Client) Deactivate(ctx context.Context, handle domain.MailboxHandle) error {
	if handle.ProviderID == "" {
		return errors.New("mask id is required")
	}

	endpoint, err := c.endpoint(handle.ProviderID)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone.
		return nil
	default:
		return statusError("delete mask", resp)
	}
}

func (c *Client) CheckActive(ctx context.Context, handle domain.MailboxHandle) (bool, error) {
	if handle.ProviderID == "" {
		return false, errors.New("mask id is required")
	}

	endpoint, err := c.endpoint(handle.ProviderID)
	if err != nil {
		return false, err
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, domain.ErrMailboxDeactivated
	}
	if resp.StatusCode != http.StatusOK {
		return false, statusError("get mask", resp)
	}

	var mask maskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&mask); err != nil {
		return false, fmt.Errorf("decode mask response: %w", err)
	}
	return mask.Enabled, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	requestCtx, cancel := c.requestContext(ctx)
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, domain.Transient(fmt.Errorf("relay request: %w", err))
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelReadCloser ties the per-request context to the response body
// lifetime.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) endpoint(maskID string) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = "https://relay.firefox.com"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("relay url must use http or https")
	}

	path := maskPath
	if maskID != "" {
		path += maskID + "/"
	}
	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse relay path: %w", err)
	}
	return endpoint.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func statusError(action string, resp *http.Response) error {
	var payload maskResponse
	detail := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err == nil {
		detail = payload.Detail
	}

	err := fmt.Errorf("%s: status %d", action, resp.StatusCode)
	if detail != "" {
		err = fmt.Errorf("%s: %s (status %d)", action, detail, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return domain.Transient(err)
	}
	return err
}
