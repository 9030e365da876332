package oauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistryMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	r, err := NewClientRegistry(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestClientRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")

	r, err := NewClientRegistry(path, nil)
	require.NoError(t, err)

	client := &Client{
		ClientID:                "abc",
		ClientName:              "Round Trip",
		RedirectURIs:            []string{"https://cb/", "http://localhost:9999/cb"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		Scope:                   "mail calendar",
		TokenEndpointAuthMethod: "none",
		CreatedAt:               1700000000,
	}
	require.NoError(t, r.Register(client))

	// A fresh registry loaded from the same file sees an equivalent client
	reloaded, err := NewClientRegistry(path, nil)
	require.NoError(t, err)

	got, ok := reloaded.Get("abc")
	require.True(t, ok)
	assert.Equal(t, client, got)
}

func TestClientRegistryOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")

	r, err := NewClientRegistry(path, nil)
	require.NoError(t, err)

	require.NoError(t, r.Register(&Client{ClientID: "abc", ClientName: "first", RedirectURIs: []string{"https://cb/"}}))
	require.NoError(t, r.Register(&Client{ClientID: "abc", ClientName: "second", RedirectURIs: []string{"https://cb/"}}))

	assert.Equal(t, 1, r.Len())
	got, ok := r.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "second", got.ClientName)
}

func TestClientRegistrySkipsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")

	// One good record, one non-object, one object without a client_id
	content := `[
  {"client_id": "good", "client_name": "Good", "redirect_uris": ["https://cb/"]},
  "not an object",
  {"client_name": "missing id"}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := NewClientRegistry(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("good")
	assert.True(t, ok)
}

func TestClientRegistryPersistsAsJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")

	r, err := NewClientRegistry(path, nil)
	require.NoError(t, err)
	require.NoError(t, r.Register(&Client{ClientID: "b", RedirectURIs: []string{"https://cb/"}}))
	require.NoError(t, r.Register(&Client{ClientID: "a", RedirectURIs: []string{"https://cb/"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)

	// Output is sorted by client id for stable diffs
	assert.Equal(t, "a", records[0]["client_id"])
	assert.Equal(t, "b", records[1]["client_id"])
}

func TestClientRegistryPersistFailureRollsBack(t *testing.T) {
	dir := t.TempDir()

	r, err := NewClientRegistry(filepath.Join(dir, "clients.json"), nil)
	require.NoError(t, err)
	require.NoError(t, r.Register(&Client{ClientID: "kept", RedirectURIs: []string{"https://cb/"}}))

	// Point the registry at an unwritable path to force a write error
	r.path = filepath.Join(dir, "missing-subdir", "clients.json")

	err = r.Register(&Client{ClientID: "doomed", RedirectURIs: []string{"https://cb/"}})
	require.Error(t, err)

	_, ok := r.Get("doomed")
	assert.False(t, ok, "failed registration must not remain in memory")
	_, ok = r.Get("kept")
	assert.True(t, ok)
}

func TestClientRegistryNoPathSkipsPersistence(t *testing.T) {
	r, err := NewClientRegistry("", nil)
	require.NoError(t, err)
	require.NoError(t, r.Register(&Client{ClientID: "mem-only", RedirectURIs: []string{"https://cb/"}}))

	_, ok := r.Get("mem-only")
	assert.True(t, ok)
}
