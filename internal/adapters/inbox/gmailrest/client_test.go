package gmailrest

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

const confirmationHTML = `<html><body>
<p>Welcome!</p>
<a href="https://www.cloudskillsboost.google/users/confirmation?confirmation_token=tok123">Confirm your email address</a>
<a href="https://www.cloudskillsboost.google/help">Help</a>
</body></html>`

func encodeBody(body string) string {
	return base64.URLEncoding.EncodeToString([]byte(body))
}

func inboxServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{BaseURL: server.URL, Token: StaticToken("access-token")}
}

func TestSearchListsAndFetchesMessages(t *testing.T) {
	client := inboxServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/gmail/v1/users/me/messages":
			q := r.URL.Query().Get("q")
			assert.Contains(t, q, "to:x9f2k@mozmail.com")
			assert.Contains(t, q, `subject:"Welcome to Google Cloud Skills Boost"`)
			_, _ = w.Write([]byte(`{"messages": [{"id": "m-1"}]}`))
		case "/gmail/v1/users/me/messages/m-1":
			fmt.Fprintf(w, `{
				"id": "m-1",
				"internalDate": "1717243200000",
				"payload": {
					"mimeType": "multipart/alternative",
					"headers": [
						{"name": "Subject", "value": "Welcome to Google Cloud Skills Boost"},
						{"name": "From", "value": "Google Cloud Skills Boost <noreply@cloudskillsboost.google>"}
					],
					"parts": [
						{"mimeType": "text/html", "body": {"data": "%s"}}
					]
				}
			}`, encodeBody(confirmationHTML))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	messages, err := client.Search(context.Background(), domain.InboxQuery{
		To:              "x9f2k@mozmail.com",
		SubjectContains: "Welcome to Google Cloud Skills Boost",
		MaxResults:      5,
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	message := messages[0]
	assert.Equal(t, "m-1", message.ID)
	assert.Equal(t, "Welcome to Google Cloud Skills Boost", message.Subject)
	assert.Equal(t, "noreply@cloudskillsboost.google", message.From)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), message.ReceivedAt)
	assert.Equal(t, "https://www.cloudskillsboost.google/users/confirmation?confirmation_token=tok123", message.LinkURL)
}

func TestSearchReturnsEmptyWhenNoMail(t *testing.T) {
	client := inboxServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	messages, err := client.Search(context.Background(), domain.InboxQuery{To: "a@mozmail.com"})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSearchBuildsAbsoluteAgeBound(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var gotQuery string
	client := inboxServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`{}`))
	})
	client.Now = func() time.Time { return now }

	_, err := client.Search(context.Background(), domain.InboxQuery{To: "a@mozmail.com", NewerThan: 48 * time.Hour})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, fmt.Sprintf("after:%d", now.Add(-48*time.Hour).Unix()))
}

func TestSearchClassifiesRateLimitAsTransient(t *testing.T) {
	client := inboxServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Search(context.Background(), domain.InboxQuery{To: "a@mozmail.com"})
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}

func TestSearchFailsFastOnExpiredToken(t *testing.T) {
	client := inboxServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Search(context.Background(), domain.InboxQuery{To: "a@mozmail.com"})
	require.Error(t, err)
	assert.False(t, domain.Retryable(err))
}

func TestExtractConfirmationLinkPrefersTokenURL(t *testing.T) {
	link := ExtractConfirmationLink(confirmationHTML)
	assert.Equal(t, "https://www.cloudskillsboost.google/users/confirmation?confirmation_token=tok123", link)
}

func TestExtractConfirmationLinkFallsBackToFirstURL(t *testing.T) {
	body := "Plain text mail with https://example.test/page and https://example.test/other."
	assert.Equal(t, "https://example.test/page", ExtractConfirmationLink(body))
}

func TestExtractConfirmationLinkHandlesBodyWithoutLinks(t *testing.T) {
	assert.Empty(t, ExtractConfirmationLink("no links here"))
}

func TestDecodeBodyToleratesPadding(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("hello"))
	assert.True(t, strings.HasSuffix(padded, "="))
	assert.Equal(t, "hello", decodeBody(padded))
}
