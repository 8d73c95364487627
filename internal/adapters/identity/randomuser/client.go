package randomuser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const maxResponseBytes = 1 << 20

// Client generates throwaway identities from the randomuser.me API. Passwords
// are generated locally; the upstream ones are too weak for registration
// forms.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration

	// Nationality narrows generated names to one locale, e.g. "us".
	Nationality string

	// PasswordLength defaults to 16.
	PasswordLength int
}

var _ ports.IdentityProvider = (*Client)(nil)

type apiResponse struct {
	Results []struct {
		Name struct {
			First string `json:"first"`
			Last  string `json:"last"`
		} `json:"name"`
		Login struct {
			Username string `json:"username"`
		} `json:"login"`
		Location struct {
			Country string `json:"country"`
		} `json:"location"`
	} `json:"results"`
	Error string `json:"error"`
}

func (c *Client) Generate(ctx context.Context) (domain.Identity, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return domain.Identity{}, err
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("create identity request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.Identity{}, domain.Transient(fmt.Errorf("request identity: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("request identity: status %d", resp.StatusCode)
		if transientStatus(resp.StatusCode) {
			return domain.Identity{}, domain.Transient(err)
		}
		return domain.Identity{}, err
	}

	var payload apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	if payload.Error != "" {
		return domain.Identity{}, fmt.Errorf("identity api: %s", payload.Error)
	}
	if len(payload.Results) == 0 {
		return domain.Identity{}, errors.New("identity response has no results")
	}

	result := payload.Results[0]
	if result.Name.First == "" || result.Name.Last == "" {
		return domain.Identity{}, errors.New("identity response missing name")
	}

	password, err := GeneratePassword(c.passwordLength())
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate password: %w", err)
	}

	return domain.Identity{
		FirstName:      titleCase(result.Name.First),
		LastName:       titleCase(result.Name.Last),
		EmailLocalPart: localPart(result.Login.Username, result.Name.First, result.Name.Last),
		Password:       password,
		Country:        result.Location.Country,
	}, nil
}

func (c *Client) endpoint() (string, error) {
	base := c.BaseURL
	if base == "" {
		base = "https://randomuser.me"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse identity api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("identity api url must use http or https")
	}

	endpoint, err := parsed.Parse("/api/")
	if err != nil {
		return "", fmt.Errorf("parse identity api path: %w", err)
	}

	values := url.Values{}
	values.Set("inc", "name,login,location")
	if c.Nationality != "" {
		values.Set("nat", c.Nationality)
	}
	endpoint.RawQuery = values.Encode()
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

func (c *Client) passwordLength() int {
	if c.PasswordLength > 0 {
		return c.PasswordLength
	}
	return 16
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// localPart derives a mailbox-safe local part, preferring the generated
// username and falling back to first.last.
func localPart(username, first, last string) string {
	candidate := sanitizeLocal(username)
	if candidate == "" {
		candidate = sanitizeLocal(first + "." + last)
	}
	return candidate
}

func sanitizeLocal(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".-_")
}

func titleCase(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.ToUpper(raw[:1]) + raw[1:]
}
