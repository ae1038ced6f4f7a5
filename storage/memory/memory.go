// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-bridge/storage"
)

const (
	// defaultCleanupInterval is how often the janitor sweeps expired
	// transactions and codes. Abandoned authorization attempts would
	// otherwise accumulate forever.
	defaultCleanupInterval = time.Minute
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, TransactionStore, and CodeStore.
type Store struct {
	mu sync.RWMutex

	clients      map[string]*storage.Client
	transactions map[string]*storage.Transaction
	codes        map[string]*storage.ClientCode

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore      = (*Store)(nil)
	_ storage.TransactionStore = (*Store)(nil)
	_ storage.CodeStore        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		transactions:    make(map[string]*storage.Transaction),
		codes:           make(map[string]*storage.ClientCode),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop stops the background cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// cleanupLoop periodically evicts expired transactions and codes.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanupExpired() {
	now := time.Now()

	s.mu.Lock()
	var txns, codes int
	for id, txn := range s.transactions {
		if txn.Expired(now) {
			delete(s.transactions, id)
			txns++
		}
	}
	for code, cc := range s.codes {
		if cc.Expired(now) {
			delete(s.codes, code)
			codes++
		}
	}
	logger := s.logger
	s.mu.Unlock()

	if txns > 0 || codes > 0 {
		logger.Debug("Evicted expired flow records",
			"transactions", txns,
			"codes", codes)
	}
}

// ==================== ClientStore ====================

// SaveClient saves a registered client
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with non-empty ClientID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret against its bcrypt hash.
// Public clients (no stored hash) validate only when no secret is presented.
func (s *Store) ValidateClientSecret(_ context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
	}

	if client.ClientSecretHash == "" {
		if clientSecret != "" {
			return storage.ErrInvalidSecret
		}
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidSecret
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

// ==================== TransactionStore ====================

// SaveTransaction saves a pending authorization transaction
func (s *Store) SaveTransaction(_ context.Context, txn *storage.Transaction) error {
	if txn == nil || txn.ID == "" {
		return fmt.Errorf("transaction with non-empty ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[txn.ID] = txn
	return nil
}

// ConsumeTransaction atomically retrieves and deletes a transaction.
// The check-then-delete runs under a single lock acquisition so a transaction
// can never be redeemed twice under concurrent callbacks.
func (s *Store) ConsumeTransaction(_ context.Context, id string) (*storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %q: %w", truncateID(id), storage.ErrNotFound)
	}
	delete(s.transactions, id)

	if txn.Expired(time.Now()) {
		return nil, fmt.Errorf("transaction %q: %w", truncateID(id), storage.ErrExpired)
	}
	return txn, nil
}

// ==================== CodeStore ====================

// SaveCode saves an issued client code
func (s *Store) SaveCode(_ context.Context, code *storage.ClientCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("client code with non-empty Code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// ConsumeCode atomically retrieves and deletes a client code.
func (s *Store) ConsumeCode(_ context.Context, code string) (*storage.ClientCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("code %q: %w", truncateID(code), storage.ErrNotFound)
	}
	delete(s.codes, code)

	if cc.Expired(time.Now()) {
		return nil, fmt.Errorf("code %q: %w", truncateID(code), storage.ErrExpired)
	}
	return cc, nil
}

// truncateID shortens identifiers for error messages and logs. Full codes are
// bearer-equivalent secrets and must never appear in logs.
func truncateID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}
