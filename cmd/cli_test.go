package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeAccountsFixture(home string) error {
	configDir := filepath.Join(home, ".autoenroll")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	accounts := `version = 1

[[accounts]]
email = "x9f2k@mozmail.com"
password = "Passw0rd!"
first_name = "Alice"
last_name = "Wonderland"
country = "United States"
api_key = "AIzaSyTestKey12345"
registered_at = "2024-06-01T12:00:00Z"
`

	return os.WriteFile(filepath.Join(configDir, "accounts.toml"), []byte(accounts), 0o644)
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dev")
}

func TestAccountsListEmpty(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounts: 0")
	assert.Contains(t, stdout, "No accounts registered yet.")
}

func TestAccountsListShowsStoredAccounts(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeAccountsFixture(home))

	stdout, _, err := executeCLI(t, home, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounts: 1")
	assert.Contains(t, stdout, "Alice Wonderland <x9f2k@mozmail.com>")
}

func TestAccountsListJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeAccountsFixture(home))

	stdout, _, err := executeCLI(t, home, "accounts", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "\"Email\": \"x9f2k@mozmail.com\"")
	assert.Contains(t, stdout, "\"APIKey\": \"AIzaSyTestKey12345\"")
}

func TestRunFailsFastOnInvalidConfiguration(t *testing.T) {
	// No lab URL configured; the run must fail before touching any provider.
	stdout, _, err := executeCLI(t, t.TempDir(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 runs did not succeed")
	assert.Contains(t, stdout, "outcome: failed")
	assert.Contains(t, stdout, "invalid_config")
}

func TestRunJSONOutputOnFailure(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "run", "--json")
	require.Error(t, err)
	assert.Contains(t, stdout, "\"Outcome\": \"failed\"")
	assert.Contains(t, stdout, "\"Category\": \"invalid_config\"")
}

func TestMailboxTestRoundTrip(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token relay-key", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 7, "full_address": "test7@mozmail.com", "enabled": true}`))
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	t.Setenv("AE_RELAY_BASE_URL", server.URL)
	t.Setenv("AE_RELAY_API_KEY", "relay-key")

	stdout, _, err := executeCLI(t, t.TempDir(), "mailbox", "test")
	require.NoError(t, err)
	assert.Contains(t, stdout, "provisioned test7@mozmail.com (mask 7)")
	assert.Contains(t, stdout, "released")
	assert.True(t, deleted)
}

func TestMailboxListRendersMasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "full_address": "a@mozmail.com", "enabled": true}]`))
	}))
	defer server.Close()

	t.Setenv("AE_RELAY_BASE_URL", server.URL)
	t.Setenv("AE_RELAY_API_KEY", "relay-key")

	stdout, _, err := executeCLI(t, t.TempDir(), "mailbox", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "a@mozmail.com")
}

func TestMailboxTestRequiresAPIKey(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "mailbox", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay api key is required")
}

func TestUnknownCommandFails(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "enroll")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
