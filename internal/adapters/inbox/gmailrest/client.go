package gmailrest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const (
	messagesPath     = "/gmail/v1/users/me/messages"
	maxResponseBytes = 4 << 20
	defaultPageSize  = 10
)

// TokenSource supplies a fresh OAuth access token per request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken wraps an already-issued access token as a TokenSource.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Client reads a Gmail inbox over the REST API. Confirmation mail lands here
// after the relay mask forwards it.
type Client struct {
	BaseURL        string
	Token          TokenSource
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Now            func() time.Time
}

var _ ports.InboxClient = (*Client)(nil)

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type messageResponse struct {
	ID           string      `json:"id"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

func (c *Client) Search(ctx context.Context, query domain.InboxQuery) ([]domain.MessageSummary, error) {
	if c.Token == nil {
		return nil, errors.New("inbox token source is required")
	}

	ids, err := c.listIDs(ctx, query)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.MessageSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := c.getMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (c *Client) listIDs(ctx context.Context, query domain.InboxQuery) ([]string, error) {
	endpoint, err := c.endpoint("")
	if err != nil {
		return nil, err
	}

	max := query.MaxResults
	if max <= 0 {
		max = defaultPageSize
	}
	values := url.Values{}
	values.Set("maxResults", strconv.Itoa(max))
	if q := c.buildQuery(query); q != "" {
		values.Set("q", q)
	}

	var list listResponse
	if err := c.getJSON(ctx, endpoint+"?"+values.Encode(), &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(list.Messages))
	for _, m := range list.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) getMessage(ctx context.Context, id string) (domain.MessageSummary, error) {
	endpoint, err := c.endpoint(id)
	if err != nil {
		return domain.MessageSummary{}, err
	}

	var message messageResponse
	if err := c.getJSON(ctx, endpoint+"?format=full", &message); err != nil {
		return domain.MessageSummary{}, fmt.Errorf("get message %s: %w", id, err)
	}

	body := extractBody(message.Payload)
	summary := domain.MessageSummary{
		ID:         message.ID,
		Subject:    header(message.Payload, "Subject"),
		From:       fromAddress(header(message.Payload, "From")),
		ReceivedAt: internalTime(message.InternalDate),
		Body:       body,
		LinkURL:    ExtractConfirmationLink(body),
	}
	return summary, nil
}

// buildQuery renders a Gmail search expression. Relative age becomes an
// absolute after: bound so repeated polls stay consistent.
func (c *Client) buildQuery(query domain.InboxQuery) string {
	var parts []string
	if query.To != "" {
		parts = append(parts, "to:"+query.To)
	}
	if query.SubjectContains != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", query.SubjectContains))
	}
	if query.FromContains != "" {
		parts = append(parts, "from:"+query.FromContains)
	}
	if query.NewerThan > 0 {
		cutoff := c.now().Add(-query.NewerThan).Unix()
		parts = append(parts, "after:"+strconv.FormatInt(cutoff, 10))
	}
	return strings.Join(parts, " ")
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	token, err := c.Token(requestCtx)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("request inbox: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return domain.Transient(err)
		}
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(messageID string) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = "https://gmail.googleapis.com"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse inbox url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("inbox url must use http or https")
	}

	path := messagesPath
	if messageID != "" {
		path += "/" + messageID
	}
	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse inbox path: %w", err)
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

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func header(part messagePart, name string) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func fromAddress(raw string) string {
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return raw
}

func internalTime(raw string) time.Time {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

// extractBody walks the MIME tree and returns the first decodable html or
// plain-text part.
func extractBody(part messagePart) string {
	if part.Body.Data != "" && (part.MimeType == "text/html" || part.MimeType == "text/plain" || part.MimeType == "") {
		if decoded := decodeBody(part.Body.Data); decoded != "" {
			return decoded
		}
	}

	// Prefer html parts; confirmation links are anchors.
	for _, child := range part.Parts {
		if child.MimeType == "text/html" {
			if decoded := decodeBody(child.Body.Data); decoded != "" {
				return decoded
			}
		}
	}
	for _, child := range part.Parts {
		if body := extractBody(child); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}
