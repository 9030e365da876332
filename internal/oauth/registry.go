package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// ClientRegistry stores registered OAuth clients and persists them to a
// JSON file so registrations survive restarts. The file holds a JSON
// array with one object per client.
//
// All mutations hold a single mutex for the full read-modify-persist
// sequence; two concurrent registrations must not lose an update or
// interleave partial file writes.
type ClientRegistry struct {
	mu      sync.Mutex
	path    string
	clients map[string]*Client
	logger  *slog.Logger
}

// NewClientRegistry creates a registry backed by the file at path.
// A missing file means an empty registry. Individual malformed records
// in an existing file are skipped with a warning; a corrupt single
// record must not block loading the rest.
func NewClientRegistry(path string, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &ClientRegistry{
		path:    path,
		clients: make(map[string]*Client),
		logger:  logger,
	}

	if path == "" {
		return r, nil
	}

	if err := r.load(); err != nil {
		return nil, err
	}

	return r, nil
}

// Get returns the client with the given id, if registered
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	return client, ok
}

// Register inserts or overwrites the client keyed by its id and
// synchronously rewrites the backing file. A persistence failure is
// returned to the caller and fails the registration; the in-memory
// state is rolled back so memory and disk stay consistent.
func (r *ClientRegistry) Register(client *Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client must have a client_id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.clients[client.ClientID]
	r.clients[client.ClientID] = client

	if err := r.persist(); err != nil {
		if existed {
			r.clients[client.ClientID] = previous
		} else {
			delete(r.clients, client.ClientID)
		}
		return fmt.Errorf("failed to persist client registry: %w", err)
	}

	return nil
}

// Len returns the number of registered clients
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}

// load reads the backing file into memory
func (r *ClientRegistry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read client registry %s: %w", r.path, err)
	}

	// Decode row by row so one malformed record does not block the rest
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse client registry %s: %w", r.path, err)
	}

	for i, row := range raw {
		var client Client
		if err := json.Unmarshal(row, &client); err != nil || client.ClientID == "" {
			r.logger.Warn("skipping malformed client record",
				"path", r.path,
				"index", i)
			continue
		}
		r.clients[client.ClientID] = &client
	}

	r.logger.Info("loaded client registry",
		"path", r.path,
		"clients", len(r.clients))

	return nil
}

// persist writes all clients to the backing file as a JSON array.
// Caller must hold r.mu. A nil path disables persistence.
func (r *ClientRegistry) persist() error {
	if r.path == "" {
		return nil
	}

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]*Client, 0, len(ids))
	for _, id := range ids {
		records = append(records, r.clients[id])
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal clients: %w", err)
	}

	// Registration records contain secret hashes; keep the file private
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.path, err)
	}

	return nil
}

// generateSecureToken generates a cryptographically random URL-safe
// token with the given number of bytes of entropy
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}
