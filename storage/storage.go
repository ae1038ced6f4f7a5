// Package storage defines interfaces for persisting OAuth clients, pending
// authorization transactions, and proxy-issued one-time codes.
// It supports various backend implementations including in-memory and databases.
package storage

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// TransactionStore manages pending upstream authorization round-trips.
//
// # Understanding the transaction id
//
// The transaction id plays a double role: it keys the pending record AND it is
// sent to the upstream provider as the `state` parameter. The upstream's
// callback therefore carries the transaction id back, which lets one fixed
// upstream client registration serve many dynamically registered downstream
// clients. The downstream client's own `state` value is stored inside the
// transaction and only ever echoed back to that client.
//
// All methods accept context.Context for tracing and cancellation.
type TransactionStore interface {
	// SaveTransaction saves a pending authorization transaction
	SaveTransaction(ctx context.Context, txn *Transaction) error

	// ConsumeTransaction atomically retrieves and deletes a transaction.
	// The transaction is removed whether or not it is still valid; a second
	// call with the same id must fail. Expired transactions return
	// ErrExpired after removal.
	// SECURITY: This operation MUST be atomic to prevent a transaction from
	// being redeemed twice under concurrent callbacks.
	ConsumeTransaction(ctx context.Context, id string) (*Transaction, error)
}

// CodeStore manages proxy-issued one-time codes that stand in for upstream tokens.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveCode saves an issued client code
	SaveCode(ctx context.Context, code *ClientCode) error

	// ConsumeCode atomically retrieves and deletes a client code.
	// A second exchange attempt with the same code must fail.
	// SECURITY: This operation MUST be atomic to prevent double-spend under
	// concurrent exchange requests.
	ConsumeCode(ctx context.Context, code string) (*ClientCode, error)
}

// Client represents a registered OAuth client
type Client struct {
	ClientID            string
	ClientSecretHash    string // bcrypt hash, empty for public clients
	RedirectURIs        []string
	RedirectURIPatterns []string // glob patterns; falls back to the proxy's global patterns
	GrantTypes          []string
	ResponseTypes       []string
	ClientName          string
	Scope               string
	CreatedAt           time.Time
}

// Transaction represents a pending upstream authorization round-trip.
// It is created on /authorize and consumed exactly once on the upstream
// callback. The ID is the `state` value sent upstream.
type Transaction struct {
	ID                  string
	ClientID            string
	RedirectURI         string
	ClientState         string // downstream client's original state parameter
	Scope               string
	CodeChallenge       string // downstream PKCE challenge, verified at code exchange
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the transaction has outlived its TTL.
func (t *Transaction) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ClientCode is a one-time code issued to a downstream client in place of the
// real upstream authorization code. It wraps the upstream tokens that were
// already obtained during the callback.
type ClientCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	UpstreamToken       *oauth2.Token
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the code has outlived its TTL.
func (c *ClientCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
